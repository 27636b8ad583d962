// Package pty wraps a single PTY-backed child process: spawn, input, resize,
// kill, with asynchronous data and exit callbacks.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// DefaultReadBufferSize is the buffer size for reading PTY output.
const DefaultReadBufferSize = 4096

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Command is the executable to run.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is the environment for the process. If nil, the current process
	// environment is inherited.
	Env []string

	// Dir is the working directory for the process.
	Dir string

	// InitialRows and InitialCols set the initial terminal size.
	InitialRows uint16
	InitialCols uint16

	// OnData is called from the read goroutine for every chunk the child
	// produces. Chunks arrive in the order the process wrote them.
	OnData func(data []byte)

	// OnExit is called exactly once when the child terminates, whatever the
	// cause. A process killed by a signal reports exit code -1.
	OnExit func(exitCode int)
}

// Process is a running PTY-backed child process.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pid  int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Start spawns the command attached to a fresh PTY. Spawn failures (missing
// executable, bad working directory) are returned synchronously; once Start
// returns nil the OnExit callback is guaranteed to fire eventually.
func Start(opts StartOptions) (*Process, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if opts.InitialRows == 0 {
		opts.InitialRows = 24
	}
	if opts.InitialCols == 0 {
		opts.InitialCols = 80
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.InitialRows,
		Cols: opts.InitialCols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY process: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		ptmx: ptmx,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	go p.readLoop(opts.OnData)
	go p.waitLoop(opts.OnExit)

	return p, nil
}

// readLoop reads output from the PTY master and hands it to the data
// callback. It exits on read error, which includes the EIO the master
// reports after the child side closes.
func (p *Process) readLoop(onData func([]byte)) {
	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && onData != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			onData(data)
		}
		if err != nil {
			if err != io.EOF {
				// PTY read errors after child exit are expected; drop them.
			}
			return
		}
	}
}

// waitLoop reaps the child, closes the PTY, and reports the exit code.
func (p *Process) waitLoop(onExit func(int)) {
	err := p.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.ptmx.Close()
		close(p.done)
	}
	p.mu.Unlock()

	if onExit != nil {
		onExit(exitCode)
	}
}

// Write writes input bytes to the PTY. Writing to a terminated process
// returns an error without touching shared state.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.Unlock()

	if _, err := p.ptmx.Write(data); err != nil {
		return fmt.Errorf("failed to write to PTY: %w", err)
	}
	return nil
}

// Resize changes the PTY window size.
func (p *Process) Resize(rows, cols uint16) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("process is closed")
	}
	p.mu.Unlock()

	if err := pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("failed to resize PTY: %w", err)
	}
	return nil
}

// Kill force-terminates the child process. The exit callback still fires via
// the wait loop. Killing an already-closed process is a no-op.
func (p *Process) Kill() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return nil
	}
	if p.cmd.Process != nil {
		// The child may be reaped between the closed check and the kill;
		// that is the same no-op case as an already-closed process.
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// PID returns the child's process ID.
func (p *Process) PID() int {
	return p.pid
}

// IsClosed reports whether the process has terminated and its PTY is closed.
func (p *Process) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Done returns a channel closed when the process has terminated.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
