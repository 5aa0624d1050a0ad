// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/arne48/multimaster-fkie/internal/cli"
	"github.com/arne48/multimaster-fkie/internal/stack"
	"github.com/arne48/multimaster-fkie/lib/clock"
	"github.com/arne48/multimaster-fkie/lib/codec"
	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/screen"
	"github.com/arne48/multimaster-fkie/lib/version"
	"github.com/arne48/multimaster-fkie/rpc"
	"github.com/arne48/multimaster-fkie/supervisor"
)

// app carries the flags shared by every subcommand and builds the
// component stack on demand.
type app struct {
	config stack.ConfigFlags
	host   string

	stdout io.Writer
	clock  clock.Clock

	// open builds the components; replaced in tests.
	open func(ctx context.Context) (*stack.Stack, error)
}

func newApp(stdout io.Writer) *app {
	a := &app{stdout: stdout, clock: clock.Real()}
	a.open = a.openStack
	return a
}

func (a *app) openStack(ctx context.Context) (*stack.Stack, error) {
	cfg, err := a.config.Load()
	if err != nil {
		return nil, err
	}
	return stack.Build(ctx, cfg, a.clock, cli.NewCommandLogger(a.config.Level()))
}

// flags returns a flag set carrying the shared flags, with extra
// registering the command's own.
func (a *app) flags(name string, withHost bool, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		a.config.AddFlags(flagSet)
		if withHost {
			flagSet.StringVar(&a.host, "host", "", "target host; empty for this machine")
		}
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

// withStack runs fn with freshly built components and releases them.
func (a *app) withStack(ctx context.Context, fn func(*stack.Stack) error) error {
	components, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close(context.WithoutCancel(ctx))
	return fn(components)
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "nodemgr",
		Summary: "Manage node sessions on this machine and on remote hosts.",
		Subcommands: []*cli.Command{
			a.listCommand(),
			a.killCommand(),
			a.screenCommand(),
			a.startCommand(),
			a.deleteLogsCommand(),
			a.tailCommand(),
			a.callCommand(),
			a.watchCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					version.Print(a.stdout, "nodemgr")
					return nil
				},
			},
		},
	}
}

func (a *app) listCommand() *cli.Command {
	var suffix string
	var asJSON bool
	return &cli.Command{
		Name:    "list",
		Summary: "List node sessions",
		Usage:   "nodemgr list [--host HOST] [--suffix SUFFIX] [--json]",
		Flags: a.flags("list", true, func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&suffix, "suffix", "", "only sessions whose name ends with this")
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
		}),
		Run: func(ctx context.Context, _ []string) error {
			return a.withStack(ctx, func(components *stack.Stack) error {
				tokens := components.Supervisor.ListActiveSessions(ctx, a.host, suffix)
				if asJSON {
					sessions := make([]rpc.SessionInfo, 0, len(tokens))
					for _, token := range tokens {
						record := screen.ParseSessionRecord(token)
						sessions = append(sessions, rpc.SessionInfo{Node: record.Node(), PID: record.PID, Token: token})
					}
					return cli.WriteJSON(a.stdout, sessions)
				}
				_, err := io.WriteString(a.stdout, renderSessions(tokens))
				return err
			})
		},
	}
}

func (a *app) killCommand() *cli.Command {
	return &cli.Command{
		Name:    "kill",
		Summary: "Kill every session of a node",
		Usage:   "nodemgr kill [--host HOST] NODE",
		Flags:   a.flags("kill", true, nil),
		Run: func(ctx context.Context, args []string) error {
			node, err := oneNode(args)
			if err != nil {
				return err
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				report := components.Supervisor.KillSessions(ctx, a.host, node)
				io.WriteString(a.stdout, renderKillReport(node, report))
				if !report.OK() {
					return &cli.ExitError{Code: 1}
				}
				return nil
			})
		},
	}
}

func (a *app) screenCommand() *cli.Command {
	return &cli.Command{
		Name:    "screen",
		Summary: "Open a terminal attached to a node's session",
		Usage:   "nodemgr screen [--host HOST] NODE",
		Flags:   a.flags("screen", true, nil),
		Run: func(ctx context.Context, args []string) error {
			node, err := oneNode(args)
			if err != nil {
				return err
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				opened, err := components.Supervisor.OpenSessionViewer(ctx, a.host, node, terminalChooser())
				var ambiguous *fault.AmbiguityError
				if errors.As(err, &ambiguous) {
					return fmt.Errorf("%s has several sessions, pick one with a terminal: %s",
						node, strings.Join(ambiguous.Labels(), ", "))
				}
				if err != nil {
					return err
				}
				if !opened {
					fmt.Fprintln(a.stdout, warningStyle.Render("no session opened for "+node))
				}
				return nil
			})
		},
	}
}

func (a *app) startCommand() *cli.Command {
	var request supervisor.StartRequest
	var workingDir string
	var env []string
	return &cli.Command{
		Name:    "start",
		Summary: "Start a node in a new session",
		Usage:   "nodemgr start [--host HOST] --package PKG --type EXECUTABLE [flags] NODE [-- ARGS...]",
		Flags: a.flags("start", true, func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&request.Package, "package", "", "package containing the executable")
			flagSet.StringVar(&request.Executable, "type", "", "executable of the node")
			flagSet.StringVar(&request.PackageDir, "package-dir", "", "package directory searched for the executable")
			flagSet.StringVar(&request.Runner, "runner", "", "start through this runner instead of the executable")
			flagSet.BoolVar(&request.Respawn, "respawn", false, "restart the node when it exits")
			flagSet.IntVar(&request.RespawnDelay, "respawn-delay", 0, "seconds to wait before a respawn")
			flagSet.StringVar(&request.Prefix, "prefix", "", "command prefix, such as a debugger")
			flagSet.StringVar(&request.CoordinatorURI, "masteruri", "", "coordinator endpoint exported to the node")
			flagSet.StringVar(&request.LogLevel, "loglevel", "", "log level of the node")
			flagSet.StringVar(&workingDir, "cwd", "", "working directory: home, package or node")
			flagSet.StringArrayVar(&env, "env", nil, "extra NAME=VALUE environment for the node (repeatable)")
		}),
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("node name required\n\nUsage: nodemgr start [flags] NODE [-- ARGS...]")
			}
			request.Node = args[0]
			request.Args = args[1:]
			request.Host = a.host
			request.WorkingDir = supervisor.WorkingDirectory(workingDir)
			overrides, err := parseAssignments(env)
			if err != nil {
				return err
			}
			request.Env = make(map[string]string, len(overrides))
			for name, value := range overrides {
				request.Env[name] = fmt.Sprint(value)
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				if err := components.Supervisor.StartNode(ctx, request); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s %s\n", successStyle.Render("started"), nodeStyle.Render(request.Node))
				return nil
			})
		},
	}
}

func (a *app) deleteLogsCommand() *cli.Command {
	return &cli.Command{
		Name:    "delete-logs",
		Summary: "Delete the log and pid files of a node",
		Usage:   "nodemgr delete-logs [--host HOST] NODE",
		Flags:   a.flags("delete-logs", true, nil),
		Run: func(ctx context.Context, args []string) error {
			node, err := oneNode(args)
			if err != nil {
				return err
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				return components.Supervisor.DeleteArtifactsOn(ctx, a.host, node)
			})
		},
	}
}

func (a *app) tailCommand() *cli.Command {
	var lines int
	return &cli.Command{
		Name:    "tail",
		Summary: "Print the end of a node's session log",
		Usage:   "nodemgr tail [--host HOST] [--lines N] NODE",
		Flags: a.flags("tail", true, func(flagSet *pflag.FlagSet) {
			flagSet.IntVarP(&lines, "lines", "n", 50, "number of lines")
		}),
		Run: func(ctx context.Context, args []string) error {
			node, err := oneNode(args)
			if err != nil {
				return err
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				text, err := components.Supervisor.TailLogOn(ctx, a.host, node, lines)
				if err != nil {
					return err
				}
				_, err = io.WriteString(a.stdout, text)
				return err
			})
		},
	}
}

func (a *app) callCommand() *cli.Command {
	var assignments []string
	var timeout time.Duration
	return &cli.Command{
		Name:    "call",
		Summary: "Call a procedure through the broker",
		Usage:   "nodemgr call [--arg NAME=VALUE ...] PROCEDURE",
		Flags: a.flags("call", false, func(flagSet *pflag.FlagSet) {
			flagSet.StringArrayVar(&assignments, "arg", nil, "argument field; integers and booleans are typed (repeatable)")
			flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "connection and call timeout")
		}),
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one procedure name required")
			}
			arguments, err := parseAssignments(assignments)
			if err != nil {
				return err
			}
			return a.withStack(ctx, func(components *stack.Stack) error {
				session := components.Session(false, nil)
				defer session.Close(context.WithoutCancel(ctx))

				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				if err := session.Connect(callCtx); err != nil {
					return fmt.Errorf("connecting to %s: %w", components.Config.Broker.URL(), err)
				}
				var payload any
				if len(arguments) > 0 {
					payload = arguments
				}
				var result any
				if err := session.Call(callCtx, args[0], payload, &result); err != nil {
					return err
				}
				return cli.WriteJSON(a.stdout, result)
			})
		},
	}
}

func (a *app) watchCommand() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Summary: "Print duplicate-session reports and system changes until interrupted",
		Usage:   "nodemgr watch",
		Flags:   a.flags("watch", false, nil),
		Run: func(ctx context.Context, _ []string) error {
			return a.withStack(ctx, func(components *stack.Stack) error {
				var session *rpc.Session
				session = components.Session(false, func() {
					components.Logger.Warn("broker connection lost, reconnecting")
					session.Reconnect()
				})
				defer session.Close(context.WithoutCancel(ctx))

				events := &eventPrinter{out: a.stdout, clock: components.Clock, logger: components.Logger}
				if err := session.Subscribe(ctx, rpc.TopicMultipleScreens, events.repetitions); err != nil {
					return err
				}
				if err := session.Subscribe(ctx, rpc.TopicSystemChanged, events.systemChanged); err != nil {
					return err
				}
				if err := session.Connect(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
}

// eventPrinter renders subscribed events as they arrive.
type eventPrinter struct {
	out    io.Writer
	clock  clock.Clock
	logger *slog.Logger
}

func (p *eventPrinter) stamp() string {
	return p.clock.Now().Format(time.TimeOnly)
}

func (p *eventPrinter) repetitions(_ context.Context, _ string, payload codec.RawMessage) {
	var repetitions []supervisor.ScreenRepetitions
	if err := rpc.DecodePayload(payload, &repetitions); err != nil {
		p.logger.Warn("undecodable event", "topic", rpc.TopicMultipleScreens, "error", err)
		return
	}
	io.WriteString(p.out, renderRepetitions(p.stamp(), repetitions))
}

func (p *eventPrinter) systemChanged(context.Context, string, codec.RawMessage) {
	fmt.Fprintf(p.out, "%s %s\n", timestampStyle.Render(p.stamp()), headerStyle.Render("system changed"))
}

func oneNode(args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("exactly one node name required")
	}
	return args[0], nil
}

// parseAssignments parses NAME=VALUE pairs. Values that parse as
// integers or booleans keep that type.
func parseAssignments(assignments []string) (map[string]any, error) {
	values := make(map[string]any, len(assignments))
	for _, assignment := range assignments {
		name, value, found := strings.Cut(assignment, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("%q is not NAME=VALUE", assignment)
		}
		if number, err := strconv.ParseInt(value, 10, 64); err == nil {
			values[name] = number
		} else if flag, err := strconv.ParseBool(value); err == nil {
			values[name] = flag
		} else {
			values[name] = value
		}
	}
	return values, nil
}
