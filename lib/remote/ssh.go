// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/arne48/multimaster-fkie/lib/fault"
	"github.com/arne48/multimaster-fkie/lib/tasks"
)

const defaultSSHTimeout = 10 * time.Second

// SSHConfig configures an [SSHTransport].
type SSHConfig struct {
	User string
	Port int

	// KeyFile is the private key used for authentication.
	KeyFile string

	// KnownHosts enables host key verification when set. Without it
	// any host key is accepted.
	KnownHosts string

	Timeout time.Duration

	// Client is the ssh binary used for X11 forwarding.
	Client string
}

// SSHTransport runs commands over SSH, keeping one connection per host.
type SSHTransport struct {
	config SSHConfig
	logger *slog.Logger
	tasks  *tasks.Group

	authOnce sync.Once
	auth     ssh.AuthMethod
	hostKeys ssh.HostKeyCallback
	authErr  error

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHTransport returns a transport. Keys are loaded on first use, so
// a machine that never talks to remote hosts needs no key.
func NewSSHTransport(ctx context.Context, config SSHConfig, logger *slog.Logger) *SSHTransport {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSSHTimeout
	}
	if config.Client == "" {
		config.Client = "ssh"
	}
	return &SSHTransport{
		config:  config,
		logger:  logger,
		tasks:   tasks.NewGroup(ctx, logger),
		clients: make(map[string]*ssh.Client),
	}
}

// Exec runs argv on host. A non-zero exit is reported in the output.
func (t *SSHTransport) Exec(ctx context.Context, host string, argv []string) (Output, error) {
	client, err := t.client(ctx, host)
	if err != nil {
		return Output{ExitCode: -1}, err
	}

	session, err := client.NewSession()
	if err != nil {
		t.drop(host, client)
		return Output{ExitCode: -1}, &fault.TransportError{Host: host, Op: "open session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	finished := make(chan error, 1)
	go func() { finished <- session.Run(ShellJoin(argv)) }()

	var runErr error
	select {
	case runErr = <-finished:
	case <-ctx.Done():
		session.Close()
		return Output{ExitCode: -1}, &fault.TransportError{Host: host, Op: "exec", Err: ctx.Err()}
	}

	output := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		output.ExitCode = exitErr.ExitStatus()
	case errors.As(runErr, &missingErr):
		output.ExitCode = -1
	default:
		t.drop(host, client)
		return output, &fault.TransportError{Host: host, Op: "exec", Err: runErr}
	}
	return output, nil
}

// ExecX11 starts the system ssh client with X11 forwarding and reaps it
// in the background.
func (t *SSHTransport) ExecX11(ctx context.Context, host string, argv []string) error {
	arguments := []string{"-X", "-p", strconv.Itoa(t.config.Port)}
	if t.config.KeyFile != "" {
		arguments = append(arguments, "-i", t.config.KeyFile)
	}
	arguments = append(arguments, t.destination(host), ShellJoin(argv))

	command := exec.Command(t.config.Client, arguments...)
	if err := command.Start(); err != nil {
		return &fault.TransportError{Host: host, Op: "exec-x11", Err: err}
	}
	t.tasks.Go("ssh -X "+host, func(context.Context) {
		if err := command.Wait(); err != nil {
			t.logger.Warn("x11 session ended with error", "host", host, "error", err)
		}
	})
	return nil
}

// Close disconnects every host and waits for X11 clients to be reaped.
func (t *SSHTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	for host, client := range t.clients {
		client.Close()
		delete(t.clients, host)
	}
	t.mu.Unlock()
	return t.tasks.Shutdown(ctx)
}

func (t *SSHTransport) destination(host string) string {
	if t.config.User == "" {
		return host
	}
	return t.config.User + "@" + host
}

func (t *SSHTransport) client(ctx context.Context, host string) (*ssh.Client, error) {
	t.mu.Lock()
	existing, ok := t.clients[host]
	t.mu.Unlock()
	if ok {
		return existing, nil
	}

	t.authOnce.Do(t.loadAuth)
	if t.authErr != nil {
		return nil, t.authErr
	}

	address := net.JoinHostPort(host, strconv.Itoa(t.config.Port))
	clientConfig := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            []ssh.AuthMethod{t.auth},
		HostKeyCallback: t.hostKeys,
		Timeout:         t.config.Timeout,
	}

	dialer := net.Dialer{Timeout: t.config.Timeout}
	connection, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &fault.TransportError{Host: host, Op: "dial", Err: err}
	}
	sshConnection, channels, requests, err := ssh.NewClientConn(connection, address, clientConfig)
	if err != nil {
		connection.Close()
		return nil, &fault.TransportError{Host: host, Op: "handshake", Err: err}
	}
	client := ssh.NewClient(sshConnection, channels, requests)

	t.mu.Lock()
	defer t.mu.Unlock()
	if raced, ok := t.clients[host]; ok {
		client.Close()
		return raced, nil
	}
	t.clients[host] = client
	t.logger.Info("ssh connected", "host", host, "address", address)
	return client, nil
}

// drop forgets a broken connection so the next call redials.
func (t *SSHTransport) drop(host string, client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clients[host] == client {
		delete(t.clients, host)
		client.Close()
	}
}

func (t *SSHTransport) loadAuth() {
	keyData, err := os.ReadFile(t.config.KeyFile)
	if err != nil {
		t.authErr = &fault.ConfigurationError{What: "reading ssh key " + t.config.KeyFile, Err: err}
		return
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		t.authErr = &fault.ConfigurationError{What: "parsing ssh key " + t.config.KeyFile, Err: err}
		return
	}
	t.auth = ssh.PublicKeys(signer)

	t.hostKeys = ssh.InsecureIgnoreHostKey()
	if t.config.KnownHosts != "" {
		if _, statErr := os.Stat(t.config.KnownHosts); statErr == nil {
			callback, err := knownhosts.New(t.config.KnownHosts)
			if err != nil {
				t.authErr = &fault.ConfigurationError{What: "loading known hosts", Err: err}
				return
			}
			t.hostKeys = callback
		} else {
			t.logger.Warn("known hosts file missing, host keys are not verified",
				"path", t.config.KnownHosts)
		}
	}
}
