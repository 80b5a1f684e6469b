package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGracePeriod bounds how long a cancelled transfer process may
// run after SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Runner abstracts external command execution so the scheduler is
// testable with a fake that never spawns a real process.
type Runner interface {
	// Run executes argv, streaming each combined stdout/stderr line to
	// onLine, and returns the process exit code. A non-nil error means
	// the command could not be started or waited on; a nonzero exit is
	// not an error.
	Run(ctx context.Context, argv []string, onLine func(string)) (int, error)
}

// ExecRunner runs commands as real OS processes. Each process gets its
// own process group so cancellation can signal the whole group.
type ExecRunner struct {
	GracePeriod time.Duration // zero means DefaultGracePeriod
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, onLine func(string)) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return -1, err
	}
	// The child holds its own copy of the write end; closing ours lets
	// the read loop see EOF when the process exits.
	pw.Close()

	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.terminate(cmd.Process.Pid)
		case <-waitDone:
		}
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitLines)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	// A line past the buffer cap stops the scan; keep draining so the
	// child never dies on SIGPIPE mid-transfer. Its exit code is the
	// only success signal.
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, pr)
	}
	pr.Close()

	err = cmd.Wait()
	close(waitDone)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// splitLines is bufio.ScanLines extended to treat a bare carriage
// return as a terminator, so progress output that rewrites a single
// line in place streams as individual updates instead of accumulating
// into one unbounded token.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && advance < len(data) && data[advance] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// terminate signals the process group, waits out the grace period, then
// kills whatever is left.
func (r *ExecRunner) terminate(pid int) {
	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	_ = unix.Kill(-pid, unix.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			_ = unix.Kill(-pid, unix.SIGKILL)
			return
		case <-ticker.C:
			// Signal 0 probes for existence; ESRCH means the group is gone.
			if err := unix.Kill(-pid, 0); err != nil {
				return
			}
		}
	}
}
