// Package session owns the shared SSH control channel that all bucket
// transfers multiplex over. One authenticated master connection is opened
// before any worker starts; every subsequent ssh/rsync process reuses it
// via the control socket and incurs no further authentication.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/axsddlr/prsync/internal/transport"
)

// State tracks descriptor lifecycle.
type State int

const (
	Unopened State = iota
	Open
	Closed
)

// CommandRunner is the seam for invoking the ssh binary, so the
// multiplexer is testable without a real ssh or remote host.
type CommandRunner func(ctx context.Context, argv []string) (exitCode int, stderr string, err error)

func execCommand(ctx context.Context, argv []string) (int, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), errBuf.String(), nil
	}
	if err != nil {
		return -1, errBuf.String(), err
	}
	return 0, errBuf.String(), nil
}

// Descriptor identifies the shared control channel. Workers borrow it
// read-only for the duration of a run; the engine closes it exactly once
// after the last worker reaches a terminal state. A descriptor with an
// empty control path is the null descriptor for local targets.
type Descriptor struct {
	mu          sync.Mutex
	state       State
	controlPath string
	controlDir  string
	loc         transport.Location
	sshPath     string
	run         CommandRunner
}

// RemoteShell returns the remote-shell command (rsync -e value) that
// reuses the control channel, or "" for a local target.
func (d *Descriptor) RemoteShell() string {
	if d == nil || d.controlPath == "" {
		return ""
	}
	return fmt.Sprintf("%s -o ControlPath=%s", d.sshPath, d.controlPath)
}

// ControlPath returns the control socket path, or "" for a local target.
func (d *Descriptor) ControlPath() string {
	if d == nil {
		return ""
	}
	return d.controlPath
}

// Close tears down the control channel and removes the control directory.
// Idempotent: only the first call does any work.
func (d *Descriptor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Open {
		return nil
	}
	d.state = Closed

	if d.controlPath == "" {
		return nil
	}

	argv := []string{d.sshPath}
	if d.loc.User != "" {
		argv = append(argv, "-l", d.loc.User)
	}
	argv = append(argv, "-O", "exit", "-o", "ControlPath="+d.controlPath, d.loc.Host)

	// Best effort: the master may already be gone.
	if code, stderr, err := d.run(context.Background(), argv); err != nil || code != 0 {
		slog.Debug("control master exit failed",
			"host", d.loc.Host, "code", code, "stderr", stderr, "error", err)
	}

	return os.RemoveAll(d.controlDir)
}

// Multiplexer establishes the shared control channel for a run.
type Multiplexer struct {
	SSHPath string        // ssh binary; empty means "ssh"
	Runner  CommandRunner // nil means real process execution
}

// Open blocks until the control master is authenticated and ready.
// Local targets are a no-op returning the null descriptor. Failures map
// to AuthError or ConnectError; either is fatal to the run.
func (m *Multiplexer) Open(ctx context.Context, target transport.Location) (*Descriptor, error) {
	run := m.Runner
	if run == nil {
		run = execCommand
	}
	sshPath := m.SSHPath
	if sshPath == "" {
		sshPath = "ssh"
	}

	if !target.IsRemote() {
		return &Descriptor{state: Open, run: run}, nil
	}

	dir, err := os.MkdirTemp("", "prsync-ssh-")
	if err != nil {
		return nil, &ConnectError{Host: target.Host, Err: fmt.Errorf("control dir: %w", err)}
	}
	controlPath := filepath.Join(dir, "control_%h_%p_%r")

	argv := []string{sshPath}
	if target.User != "" {
		argv = append(argv, "-l", target.User)
	}
	argv = append(argv,
		"-nNf",
		"-o", "ControlMaster=yes",
		"-o", "ControlPath="+controlPath,
		"-o", "ControlPersist=yes",
		target.Host,
	)

	slog.Debug("opening control master", "host", target.Host, "control", controlPath)

	code, stderr, err := run(ctx, argv)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, &ConnectError{Host: target.Host, Err: err}
	}
	if code != 0 {
		_ = os.RemoveAll(dir)
		return nil, classifyFailure(target.Host, stderr)
	}

	return &Descriptor{
		state:       Open,
		controlPath: controlPath,
		controlDir:  dir,
		loc:         target,
		sshPath:     sshPath,
		run:         run,
	}, nil
}
