// Package repository provides SQLite persistence for session metadata.
// Only metadata is persisted: processes, logs and parsed messages are
// ephemeral runtime state.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agent-console/backend/internal/model"
)

// SessionRepository provides data access for session records.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (id, name, working_dir, status, exit_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Name,
		session.WorkingDir,
		session.Status,
		session.ExitCode,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `
		SELECT id, name, working_dir, status, exit_code, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`
	session := &model.Session{}
	var exitCode sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Name,
		&session.WorkingDir,
		&session.Status,
		&exitCode,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		session.ExitCode = &code
	}
	return session, nil
}

// List retrieves all session records, newest first.
func (r *SessionRepository) List(ctx context.Context) ([]*model.Session, error) {
	query := `
		SELECT id, name, working_dir, status, exit_code, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session := &model.Session{}
		var exitCode sql.NullInt64

		if err := rows.Scan(
			&session.ID,
			&session.Name,
			&session.WorkingDir,
			&session.Status,
			&exitCode,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			session.ExitCode = &code
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus updates the status and exit code of a session record.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error {
	query := `
		UPDATE sessions
		SET status = ?, exit_code = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session record.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// ResetRunning marks every record still flagged running as stopped. Called
// on startup: processes do not survive a server restart.
func (r *SessionRepository) ResetRunning(ctx context.Context) error {
	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE status = ?
	`
	if _, err := r.db.ExecContext(ctx, query, model.SessionStatusStopped, time.Now(), model.SessionStatusRunning); err != nil {
		return fmt.Errorf("failed to reset running sessions: %w", err)
	}
	return nil
}
