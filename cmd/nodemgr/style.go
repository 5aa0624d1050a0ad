// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arne48/multimaster-fkie/lib/screen"
	"github.com/arne48/multimaster-fkie/supervisor"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	nodeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	pidStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failureStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	timestampStyle = lipgloss.NewStyle().Faint(true)
)

// renderSessions formats a session listing as one row per session,
// sorted by node. Nodes running in more than one session are flagged.
func renderSessions(tokens []string) string {
	groups := screen.GroupByNode(tokens)
	if len(groups) == 0 {
		return warningStyle.Render("no node sessions") + "\n"
	}
	nodes := make([]string, 0, len(groups))
	width := len("NODE")
	for node := range groups {
		nodes = append(nodes, node)
		width = max(width, lipgloss.Width(node))
	}
	sort.Strings(nodes)

	var out strings.Builder
	out.WriteString(headerStyle.Render(pad("NODE", width)+"  PID") + "\n")
	for _, node := range nodes {
		for _, token := range groups[node] {
			record := screen.ParseSessionRecord(token)
			out.WriteString(nodeStyle.Render(pad(node, width)) + "  " + pidStyle.Render(record.PID))
			if len(groups[node]) > 1 {
				out.WriteString("  " + warningStyle.Render("multiple sessions"))
			}
			out.WriteString("\n")
		}
	}
	return out.String()
}

// renderKillReport formats the outcome of a kill.
func renderKillReport(node string, report supervisor.KillReport) string {
	var out strings.Builder
	for _, pid := range report.Killed {
		fmt.Fprintf(&out, "%s %s [%s]\n", successStyle.Render("killed"), nodeStyle.Render(node), pid)
	}
	if message := report.Message(); message != "" {
		style := failureStyle
		if report.Matched == 0 {
			style = warningStyle
		}
		out.WriteString(style.Render(message) + "\n")
	}
	if report.Skipped > 0 {
		fmt.Fprintf(&out, "%s\n", pidStyle.Render(fmt.Sprintf("%d session(s) without pid skipped", report.Skipped)))
	}
	if report.WipeErr != nil {
		fmt.Fprintf(&out, "%s %v\n", warningStyle.Render("wipe failed:"), report.WipeErr)
	}
	return out.String()
}

// renderRepetitions formats one ros.screen.multiple event.
func renderRepetitions(stamp string, repetitions []supervisor.ScreenRepetitions) string {
	prefix := timestampStyle.Render(stamp) + " "
	if len(repetitions) == 0 {
		return prefix + successStyle.Render("every node runs in one session") + "\n"
	}
	var out strings.Builder
	for _, repetition := range repetitions {
		out.WriteString(prefix + warningStyle.Render("multiple sessions") + " " +
			nodeStyle.Render(repetition.Name) + " " + pidStyle.Render(strings.Join(repetition.Screens, " ")) + "\n")
	}
	return out.String()
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
