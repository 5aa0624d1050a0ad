// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arne48/multimaster-fkie/lib/codec"
	"github.com/arne48/multimaster-fkie/lib/process"
	"github.com/arne48/multimaster-fkie/lib/screen"
	"github.com/arne48/multimaster-fkie/rpc"
	"github.com/arne48/multimaster-fkie/supervisor"
)

// defaultTailLines is used when a log tail request names no count.
const defaultTailLines = 200

// registrar is the part of *rpc.Session the daemon registers with.
type registrar interface {
	Register(procedure string, fn rpc.ProcedureFunc) error
}

// daemon is the context object shared by every procedure of this host.
type daemon struct {
	supervisor *supervisor.Supervisor
	monitor    *supervisor.Monitor
	logger     *slog.Logger
}

// register registers every procedure on session.
func (d *daemon) register(session registrar) error {
	procedures := map[string]rpc.ProcedureFunc{
		rpc.ProcedureListSessions: d.listSessions,
		rpc.ProcedureKillNode:     d.killNode,
		rpc.ProcedureDeleteLogs:   d.deleteLogs,
		rpc.ProcedureLogTail:      d.logTail,
		rpc.ProcedureStartNode:    d.startNode,
		rpc.ProcedureWipeScreens:  d.wipeScreens,
		rpc.ProcedureLogDirSize:   d.logDirSize,
	}
	for name, fn := range procedures {
		if err := session.Register(name, d.guarded(name, fn)); err != nil {
			return err
		}
	}
	return nil
}

// guarded logs every failing call. Panics are recovered by the session.
func (d *daemon) guarded(name string, fn rpc.ProcedureFunc) rpc.ProcedureFunc {
	return func(ctx context.Context, args codec.RawMessage) (any, error) {
		var result any
		err := process.Guard(ctx, d.logger, func(ctx context.Context, _ *slog.Logger) error {
			var err error
			result, err = fn(ctx, args)
			return err
		})
		if err != nil {
			d.logger.Error("procedure failed", "procedure", name, "error", err)
		}
		return result, err
	}
}

func (d *daemon) listSessions(ctx context.Context, _ codec.RawMessage) (any, error) {
	tokens := d.supervisor.ListActiveSessions(ctx, "", "")
	sessions := make([]rpc.SessionInfo, 0, len(tokens))
	for _, token := range tokens {
		record := screen.ParseSessionRecord(token)
		if record.Name == "" {
			continue
		}
		sessions = append(sessions, rpc.SessionInfo{Node: record.Node(), PID: record.PID, Token: token})
	}
	return sessions, nil
}

func (d *daemon) killNode(ctx context.Context, args codec.RawMessage) (any, error) {
	var request rpc.NodeRequest
	if err := decodeNode(args, &request); err != nil {
		return rpc.Failed(err), nil
	}
	d.logger.Info("kill node", "node", request.Node)
	report := d.supervisor.KillSessions(ctx, "", request.Node)
	if d.monitor != nil {
		d.monitor.Trigger()
	}
	return rpc.Reply{Result: report.OK(), Message: report.Message()}, nil
}

func (d *daemon) deleteLogs(_ context.Context, args codec.RawMessage) (any, error) {
	var request rpc.NodeRequest
	if err := decodeNode(args, &request); err != nil {
		return rpc.Failed(err), nil
	}
	d.logger.Info("delete logs", "node", request.Node)
	if err := d.supervisor.DeleteArtifacts(request.Node); err != nil {
		return rpc.Failed(err), nil
	}
	return rpc.Succeeded(""), nil
}

func (d *daemon) logTail(_ context.Context, args codec.RawMessage) (any, error) {
	var request rpc.LogTailRequest
	if err := rpc.DecodePayload(args, &request); err != nil {
		return rpc.Failed(err), nil
	}
	if request.Node == "" {
		return rpc.Failed(fmt.Errorf("node name is required")), nil
	}
	if request.Lines <= 0 {
		request.Lines = defaultTailLines
	}
	text, err := d.supervisor.TailLog(request.Node, request.Lines)
	if err != nil {
		return rpc.Failed(err), nil
	}
	return rpc.Succeeded(text), nil
}

func (d *daemon) wipeScreens(ctx context.Context, _ codec.RawMessage) (any, error) {
	d.logger.Info("wipe dead sessions")
	if err := d.supervisor.Wipe(ctx, ""); err != nil {
		return rpc.Failed(err), nil
	}
	if d.monitor != nil {
		d.monitor.Trigger()
	}
	return rpc.Succeeded(""), nil
}

func (d *daemon) logDirSize(context.Context, codec.RawMessage) (any, error) {
	size, err := d.supervisor.LogDirSize()
	if err != nil {
		return nil, err
	}
	return rpc.LogDirSize{Size: size}, nil
}

func (d *daemon) startNode(ctx context.Context, args codec.RawMessage) (any, error) {
	var request rpc.StartNodeRequest
	if err := rpc.DecodePayload(args, &request); err != nil {
		return rpc.Failed(err), nil
	}
	d.logger.Info("start node", "node", request.Node, "package", request.Package, "executable", request.Executable)
	err := d.supervisor.StartNode(ctx, supervisor.StartRequest{
		Node:           request.Node,
		Package:        request.Package,
		Executable:     request.Executable,
		PackageDir:     request.PackageDir,
		Runner:         request.Runner,
		Args:           request.Args,
		Respawn:        request.Respawn,
		RespawnDelay:   request.RespawnDelay,
		Prefix:         request.Prefix,
		CoordinatorURI: request.CoordinatorURI,
		LogLevel:       request.LogLevel,
		WorkingDir:     supervisor.WorkingDirectory(request.WorkingDir),
		Env:            request.Env,
	})
	if d.monitor != nil {
		d.monitor.Trigger()
	}
	if err != nil {
		return rpc.Failed(err), nil
	}
	return rpc.Succeeded(""), nil
}

func decodeNode(args codec.RawMessage, request *rpc.NodeRequest) error {
	if err := rpc.DecodePayload(args, request); err != nil {
		return err
	}
	if request.Node == "" {
		return fmt.Errorf("node name is required")
	}
	return nil
}
