package pty

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// collector accumulates OnData chunks and records the exit code.
type collector struct {
	mu       sync.Mutex
	output   strings.Builder
	exitCode int
	exited   bool
}

func (c *collector) onData(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output.Write(data)
}

func (c *collector) onExit(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitCode = code
	c.exited = true
}

func (c *collector) snapshot() (string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String(), c.exitCode, c.exited
}

func TestStart_CapturesOutputAndExit(t *testing.T) {
	c := &collector{}

	proc, err := Start(StartOptions{
		Command:     "echo",
		Args:        []string{"hello"},
		InitialRows: 24,
		InitialCols: 80,
		OnData:      c.onData,
		OnExit:      c.onExit,
	})
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}

	// OnExit fires after Done closes; give the callback a moment.
	deadline := time.Now().Add(time.Second)
	for {
		output, code, exited := c.snapshot()
		if exited {
			if code != 0 {
				t.Errorf("expected exit code 0, got %d", code)
			}
			if !strings.Contains(output, "hello") {
				t.Errorf("expected output to contain 'hello', got %q", output)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit callback never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_UnknownBinary(t *testing.T) {
	_, err := Start(StartOptions{
		Command: "/no/such/binary",
		OnData:  func([]byte) {},
		OnExit:  func(int) {},
	})
	if err == nil {
		t.Fatal("expected start failure for unknown binary")
	}
}

func TestProcess_WriteRoundTrip(t *testing.T) {
	c := &collector{}

	proc, err := Start(StartOptions{
		Command:     "cat",
		InitialRows: 24,
		InitialCols: 80,
		OnData:      c.onData,
		OnExit:      c.onExit,
	})
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	defer proc.Kill()

	if proc.PID() <= 0 {
		t.Errorf("expected a positive pid, got %d", proc.PID())
	}

	if err := proc.Write([]byte("ping\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		output, _, _ := c.snapshot()
		if strings.Contains(output, "ping") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("echo never arrived, output so far: %q", output)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcess_Resize(t *testing.T) {
	proc, err := Start(StartOptions{
		Command:     "cat",
		InitialRows: 24,
		InitialCols: 80,
		OnData:      func([]byte) {},
		OnExit:      func(int) {},
	})
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	defer proc.Kill()

	if err := proc.Resize(40, 120); err != nil {
		t.Errorf("failed to resize: %v", err)
	}
}

// TestProcess_KillRacingNaturalExit calls Kill repeatedly while a short-lived
// child exits on its own. The window where the child is already reaped but
// the closed flag is not yet set must behave like the no-op path, not surface
// a "process already finished" error.
func TestProcess_KillRacingNaturalExit(t *testing.T) {
	proc, err := Start(StartOptions{
		Command: "true",
		OnData:  func([]byte) {},
		OnExit:  func(int) {},
	})
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		if err := proc.Kill(); err != nil {
			t.Fatalf("kill during exit must not error: %v", err)
		}
		select {
		case <-proc.Done():
			if err := proc.Kill(); err != nil {
				t.Fatalf("kill after exit must not error: %v", err)
			}
			return
		case <-timeout:
			t.Fatal("process never exited")
		default:
		}
	}
}

func TestProcess_KillAndClosedState(t *testing.T) {
	proc, err := Start(StartOptions{
		Command:     "cat",
		InitialRows: 24,
		InitialCols: 80,
		OnData:      func([]byte) {},
		OnExit:      func(int) {},
	})
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	if proc.IsClosed() {
		t.Error("fresh process must not report closed")
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("failed to kill: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited after kill")
	}

	if !proc.IsClosed() {
		t.Error("exited process must report closed")
	}
	if err := proc.Write([]byte("x")); err == nil {
		t.Error("write after exit must fail")
	}
	if err := proc.Resize(40, 120); err == nil {
		t.Error("resize after exit must fail")
	}
	// Killing an exited process is a safe no-op.
	if err := proc.Kill(); err != nil {
		t.Errorf("kill after exit must be a no-op, got %v", err)
	}
}
