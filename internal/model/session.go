package model

import "time"

// SessionStatus represents the lifecycle status of a terminal session.
type SessionStatus string

const (
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusRunning SessionStatus = "running"
	SessionStatusError   SessionStatus = "error"
)

// Session is the internal session record. The live PTY process handle is
// owned by the registry entry, never by this struct, so a Session can be
// passed around without leaking process ownership.
type Session struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	WorkingDir string        `json:"workingDir"`
	Status     SessionStatus `json:"status"`
	ExitCode   *int          `json:"exitCode,omitempty"`
	PID        *int          `json:"pid,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// SessionView is the external projection of a session: status and metadata
// only. Handlers and transport code serialize views, never internal records,
// so nothing process-related escapes the registry.
type SessionView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	WorkingDir string        `json:"workingDir"`
	Status     SessionStatus `json:"status"`
	ExitCode   *int          `json:"exitCode,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// View projects a session record to its external form.
func (s *Session) View() *SessionView {
	return &SessionView{
		ID:         s.ID,
		Name:       s.Name,
		WorkingDir: s.WorkingDir,
		Status:     s.Status,
		ExitCode:   s.ExitCode,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// LogEntryType distinguishes raw terminal output from registry-generated
// informational entries.
type LogEntryType string

const (
	LogTypeStdout LogEntryType = "stdout"
	LogTypeSystem LogEntryType = "system"
)

// LogEntry is one element of a session's append-only output log. Entries are
// immutable once appended; append order is authoritative, the timestamp is
// informational.
type LogEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Type      LogEntryType `json:"type"`
	Content   string       `json:"content"`
}

// CreateSessionRequest represents a request to create a new session.
type CreateSessionRequest struct {
	Name       string `json:"name"`
	WorkingDir string `json:"workingDir" binding:"required"`
}

// Validate validates the create session request.
func (r *CreateSessionRequest) Validate() error {
	if r.WorkingDir == "" {
		return ErrWorkingDirRequired
	}
	return nil
}
