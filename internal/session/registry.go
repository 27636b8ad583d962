// Package session implements the session registry: it owns PTY process
// lifecycles, buffers their output, and feeds the fanout bus and the output
// parser.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-console/backend/internal/buffer"
	"github.com/agent-console/backend/internal/fanout"
	"github.com/agent-console/backend/internal/logger"
	"github.com/agent-console/backend/internal/model"
	"github.com/agent-console/backend/internal/parser"
	"github.com/agent-console/backend/internal/pty"
	"github.com/agent-console/backend/internal/repository"
)

const (
	// DefaultLogCapacity bounds the per-session log ring.
	DefaultLogCapacity = 1000

	// Fixed initial terminal size for spawned processes.
	initialRows = 24
	initialCols = 80
)

// Config holds registry configuration. Command and Args are fixed server
// configuration: clients choose working directories, never commands.
type Config struct {
	Command     string
	Args        []string
	LogDir      string
	MaxRunning  int
	LogCapacity int
}

// Registry is the in-memory collection of sessions. Each entry exclusively
// owns its live process handle; nothing outside the registry holds one.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	bus  *fanout.Bus
	repo *repository.SessionRepository
	cfg  Config
}

// entry is one session's runtime state.
type entry struct {
	session  *model.Session
	process  *pty.Process // nil until started; closed marker after exit
	logs     *buffer.LogRing
	recorder *logger.Recorder

	// gen guards exit callbacks: a callback from a previous process of this
	// session must not clobber the state of a later one.
	gen int

	// streamMu serializes every ring-append + fanout-publish pair against the
	// history-snapshot + attach in Subscribe. Without it a chunk landing in
	// the window between snapshot and attach is either lost or replayed twice.
	streamMu sync.Mutex

	// parseMu serializes the parser between the PTY read goroutine and the
	// input path.
	parseMu sync.Mutex
	parser  *parser.Parser
}

// NewRegistry creates a registry and rehydrates persisted session records.
// Processes do not survive a restart, so every rehydrated record comes back
// stopped with an empty log.
func NewRegistry(ctx context.Context, bus *fanout.Bus, repo *repository.SessionRepository, cfg Config) (*Registry, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = 10
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}

	r := &Registry{
		entries: make(map[string]*entry),
		bus:     bus,
		repo:    repo,
		cfg:     cfg,
	}

	if repo != nil {
		if err := repo.ResetRunning(ctx); err != nil {
			return nil, err
		}
		persisted, err := repo.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range persisted {
			r.entries[s.ID] = &entry{
				session: s,
				logs:    buffer.NewLogRing(cfg.LogCapacity),
				parser:  parser.New(),
			}
		}
	}
	return r, nil
}

// Create allocates a new session in stopped state. No process is spawned.
func (r *Registry) Create(ctx context.Context, req *model.CreateSessionRequest) (*model.SessionView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(req.WorkingDir)
	if err != nil || !info.IsDir() {
		return nil, model.ErrWorkingDirInvalid
	}

	now := time.Now()
	session := &model.Session{
		ID:         uuid.New().String(),
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		Status:     model.SessionStatusStopped,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if session.Name == "" {
		session.Name = fmt.Sprintf("Session %s", session.ID[:8])
	}

	if r.repo != nil {
		if err := r.repo.Create(ctx, session); err != nil {
			return nil, err
		}
	}

	e := &entry{
		session: session,
		logs:    buffer.NewLogRing(r.cfg.LogCapacity),
		parser:  parser.New(),
	}
	e.appendSystem("Session created")

	r.mu.Lock()
	r.entries[session.ID] = e
	r.mu.Unlock()

	return session.View(), nil
}

// Start spawns the configured command for the session. Spawn failure sets
// status error and is retryable: the record stays in the registry.
func (r *Registry) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return model.ErrSessionNotFound
	}
	if e.process != nil && !e.process.IsClosed() {
		r.mu.Unlock()
		return model.ErrSessionRunning
	}
	if r.runningCountLocked() >= r.cfg.MaxRunning {
		r.mu.Unlock()
		return model.ErrSessionLimit
	}
	e.gen++
	gen := e.gen
	e.parseMu.Lock()
	e.parser.Reset()
	e.parseMu.Unlock()

	var rec *logger.Recorder
	if r.cfg.LogDir != "" {
		var err error
		rec, err = logger.NewRecorder(filepath.Join(r.cfg.LogDir, id+".cast"), initialCols, initialRows)
		if err != nil {
			log.Printf("session %s: recording disabled: %v", id, err)
		}
	}

	proc, err := pty.Start(pty.StartOptions{
		Command:     r.cfg.Command,
		Args:        r.cfg.Args,
		Dir:         e.session.WorkingDir,
		InitialRows: initialRows,
		InitialCols: initialCols,
		OnData: func(data []byte) {
			r.handleData(id, data)
		},
		OnExit: func(exitCode int) {
			r.handleExit(id, gen, exitCode)
		},
	})
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		e.session.Status = model.SessionStatusError
		e.session.UpdatedAt = time.Now()
		e.streamMu.Lock()
		e.appendSystem(fmt.Sprintf("Failed to start: %v", err))
		r.mu.Unlock()

		r.publishSystem(id, fmt.Sprintf("Failed to start: %v", err))
		e.streamMu.Unlock()
		r.persistStatus(ctx, id, model.SessionStatusError, nil)
		return fmt.Errorf("failed to start session: %w", err)
	}

	if old := e.recorder; old != nil {
		old.Close()
	}
	e.recorder = rec
	e.process = proc
	pid := proc.PID()
	e.session.PID = &pid
	e.session.Status = model.SessionStatusRunning
	e.session.ExitCode = nil
	e.session.UpdatedAt = time.Now()
	e.streamMu.Lock()
	e.appendSystem("Session started")
	r.mu.Unlock()

	r.publishSystem(id, "Session started")
	e.streamMu.Unlock()
	r.persistStatus(ctx, id, model.SessionStatusRunning, nil)
	return nil
}

// SendInput forwards raw input bytes to the session's process. Any open
// assistant accumulation is flushed first, and a user message is synthesized
// for the input: the echoed prompt line in the output stream is only a
// boundary signal, never re-emitted as a message.
func (r *Registry) SendInput(id string, data []byte) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	var proc *pty.Process
	var rec *logger.Recorder
	if ok {
		proc = e.process
		rec = e.recorder
	}
	r.mu.RUnlock()
	if !ok {
		return model.ErrSessionNotFound
	}
	if proc == nil || proc.IsClosed() {
		return model.ErrSessionNotRunning
	}

	e.parseMu.Lock()
	flushed := e.parser.FlushInput()
	e.parseMu.Unlock()
	if flushed != nil {
		r.bus.PublishMessage(id, *flushed)
	}

	if content := strings.TrimSpace(string(data)); content != "" {
		r.bus.PublishMessage(id, model.Message{
			ID:        uuid.New().String(),
			Role:      model.RoleUser,
			Content:   content,
			Timestamp: time.Now(),
		})
	}

	if rec != nil {
		rec.WriteInput(data)
	}
	return proc.Write(data)
}

// Resize changes the session's terminal size.
func (r *Registry) Resize(id string, cols, rows uint16) error {
	proc, err := r.liveProcess(id)
	if err != nil {
		return err
	}
	return proc.Resize(rows, cols)
}

// Stop force-terminates the session's process. Stopping an already-stopped
// session is a safe no-op that reports ErrSessionNotRunning.
func (r *Registry) Stop(id string) error {
	proc, err := r.liveProcess(id)
	if err != nil {
		return err
	}
	// Status and log updates happen in the exit handler; the kill only
	// initiates termination.
	return proc.Kill()
}

// Delete stops any live process and removes the session with all of its
// state: logs, recorder, fanout subscriptions. Irreversible.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return model.ErrSessionNotFound
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if e.process != nil && !e.process.IsClosed() {
		if err := e.process.Kill(); err != nil {
			log.Printf("session %s: kill on delete: %v", id, err)
		}
	}
	if e.recorder != nil {
		e.recorder.Close()
	}
	r.publishSystem(id, "Session deleted")
	r.bus.Drop(id)

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil && err != model.ErrSessionNotFound {
			return err
		}
	}
	return nil
}

// Subscribe attaches a subscriber to the session's event stream, replaying
// the most recent limit log entries first. The history snapshot and the
// attach happen under the session's stream lock, so every chunk lands on
// exactly one side of the boundary: replayed or delivered live.
func (r *Registry) Subscribe(sub fanout.Subscriber, id string, limit int) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return model.ErrSessionNotFound
	}

	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	r.bus.Subscribe(sub, id, e.logs.Last(limit))
	return nil
}

// Logs returns the most recent limit entries in append order, or all
// buffered entries when limit <= 0.
func (r *Registry) Logs(id string, limit int) ([]model.LogEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return e.logs.Last(limit), nil
}

// Get returns the external view of one session.
func (r *Registry) Get(id string) (*model.SessionView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return e.session.View(), nil
}

// List returns external views of all sessions, newest first.
func (r *Registry) List() []*model.SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]*model.SessionView, 0, len(r.entries))
	for _, e := range r.entries {
		views = append(views, e.session.View())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// RecordingPath returns the .cast file path for a session, if recording is
// enabled.
func (r *Registry) RecordingPath(id string) (string, error) {
	r.mu.RLock()
	_, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return "", model.ErrSessionNotFound
	}
	if r.cfg.LogDir == "" {
		return "", os.ErrNotExist
	}
	return filepath.Join(r.cfg.LogDir, id+".cast"), nil
}

// Close kills all live processes and releases resources.
func (r *Registry) Close() {
	r.mu.Lock()
	procs := make([]*pty.Process, 0, len(r.entries))
	recs := make([]*logger.Recorder, 0, len(r.entries))
	for _, e := range r.entries {
		if e.process != nil {
			procs = append(procs, e.process)
		}
		if e.recorder != nil {
			recs = append(recs, e.recorder)
		}
	}
	r.mu.Unlock()

	for _, proc := range procs {
		if !proc.IsClosed() {
			proc.Kill()
		}
	}
	for _, rec := range recs {
		rec.Close()
	}
}

// handleData is the per-chunk output path: ring append, recording, raw
// fanout, then message reconstruction. It runs on the process's read
// goroutine, so per-session ordering is preserved end to end.
func (r *Registry) handleData(id string, data []byte) {
	r.mu.RLock()
	e, ok := r.entries[id]
	var rec *logger.Recorder
	if ok {
		rec = e.recorder
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.streamMu.Lock()
	e.logs.Append(model.LogEntry{
		Timestamp: time.Now(),
		Type:      model.LogTypeStdout,
		Content:   string(data),
	})
	if rec != nil {
		rec.WriteOutput(data)
	}
	r.bus.PublishData(id, data)
	e.streamMu.Unlock()

	e.parseMu.Lock()
	messages := e.parser.Feed(data)
	e.parseMu.Unlock()
	for _, msg := range messages {
		r.bus.PublishMessage(id, msg)
	}
}

// handleExit finalizes a terminated process: status, system log entry,
// parser flush, exit fanout. Stale callbacks from replaced processes are
// dropped by generation.
func (r *Registry) handleExit(id string, gen int, exitCode int) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.session.Status = model.SessionStatusStopped
	e.session.ExitCode = &exitCode
	e.session.PID = nil
	e.session.UpdatedAt = time.Now()
	e.streamMu.Lock()
	e.appendSystem(fmt.Sprintf("Process exited with code %d", exitCode))
	rec := e.recorder
	e.recorder = nil
	r.mu.Unlock()

	if rec != nil {
		rec.Close()
	}

	e.parseMu.Lock()
	messages := e.parser.FlushExit(exitCode)
	e.parseMu.Unlock()
	for _, msg := range messages {
		r.bus.PublishMessage(id, msg)
	}
	r.bus.PublishExit(id, exitCode)
	e.streamMu.Unlock()

	r.persistStatus(context.Background(), id, model.SessionStatusStopped, &exitCode)
}

// publishSystem broadcasts a lifecycle notification to the session's
// subscribers as a system message.
func (r *Registry) publishSystem(id, content string) {
	r.bus.PublishMessage(id, model.Message{
		ID:        uuid.New().String(),
		Role:      model.RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (r *Registry) persistStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) {
	if r.repo == nil {
		return
	}
	if err := r.repo.UpdateStatus(ctx, id, status, exitCode); err != nil {
		log.Printf("session %s: failed to persist status %s: %v", id, status, err)
	}
}

func (r *Registry) runningCountLocked() int {
	count := 0
	for _, e := range r.entries {
		if e.process != nil && !e.process.IsClosed() {
			count++
		}
	}
	return count
}

// liveProcess snapshots the session's process handle under the registry read
// lock; Start replaces the handle under the write lock, so an unlocked read
// of the pointer field would race it.
func (r *Registry) liveProcess(id string) (*pty.Process, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	var proc *pty.Process
	if ok {
		proc = e.process
	}
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	if proc == nil || proc.IsClosed() {
		return nil, model.ErrSessionNotRunning
	}
	return proc, nil
}

func (e *entry) appendSystem(content string) {
	e.logs.Append(model.LogEntry{
		Timestamp: time.Now(),
		Type:      model.LogTypeSystem,
		Content:   content,
	})
}

