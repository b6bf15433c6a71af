package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSessionTTL = 24 * time.Hour

	ActorManager = "manager"
	ActorWorker  = "worker"
)

// Session maps a session id onto the actor that owns it.
type Session struct {
	ID        string    `json:"sessionId"`
	ActorType string    `json:"actorType"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateSession stores a new session for actor. A zero ttl means 24 h.
func (s *Store) CreateSession(ctx context.Context, actorType, actorID string, ttl time.Duration) (*Session, error) {
	if actorType != ActorManager && actorType != ActorWorker {
		return nil, fmt.Errorf("store: unknown actor type %q", actorType)
	}
	if actorID == "" {
		return nil, fmt.Errorf("store: actor id is required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		ActorType: actorType,
		ActorID:   actorID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, actor_type, actor_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ActorType, sess.ActorID, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session, or ErrNotFound when it is absent or expired.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var (
		sess               Session
		created, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, actor_type, actor_id, created_at, expires_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.ID, &sess.ActorType, &sess.ActorID, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to get session: %w", err)
	}

	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if !s.now().Before(sess.ExpiresAt) {
		return nil, fmt.Errorf("store: session expired: %w", ErrNotFound)
	}
	return &sess, nil
}

// DeleteSession removes a session. Deleting an unknown session is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("purged expired sessions", zap.Int64("count", n))
	}
	return n, nil
}

// PurgeSessionsEvery deletes expired sessions now and then every interval
// until ctx is cancelled.
func (s *Store) PurgeSessionsEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.PurgeExpiredSessions(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("session purge failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
