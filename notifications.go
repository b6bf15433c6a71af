package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationTaskUpdate    = "task_update"
	NotificationWorkerMessage = "worker_message"
	NotificationWorkflowRun   = "workflow_run"
)

// Notification statuses.
const (
	NotificationUnread = "unread"
	NotificationRead   = "read"
)

const defaultNotificationLimit = 50

// notifTimeLayout is fixed-width so sort keys order chronologically.
const notifTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Notification is a message addressed to one manager.
type Notification struct {
	PK        string            `json:"PK"`
	SK        string            `json:"SK"`
	ID        string            `json:"id"`
	ManagerID string            `json:"managerDeviceUUID"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

func managerKey(managerID string) string {
	return "MANAGER#" + managerID
}

func isNotificationType(t string) bool {
	switch t {
	case NotificationTaskUpdate, NotificationWorkerMessage, NotificationWorkflowRun:
		return true
	}
	return false
}

// CreateNotification stores an unread notification for managerID.
func (s *Store) CreateNotification(ctx context.Context, managerID, notifType, title, message string, metadata map[string]string) (*Notification, error) {
	if !isNotificationType(notifType) {
		return nil, fmt.Errorf("store: unknown notification type %q", notifType)
	}

	createdAt := s.now().UTC().Format(notifTimeLayout)
	id := uuid.NewString()
	n := &Notification{
		PK:        managerKey(managerID),
		SK:        "NOTIF#" + createdAt + "#" + id,
		ID:        id,
		ManagerID: managerID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Status:    NotificationUnread,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}

	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return nil, fmt.Errorf("store: failed to encode notification metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (pk, sk, id, type, title, message, status, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.PK, n.SK, n.ID, n.Type, n.Title, n.Message, n.Status, string(meta), n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns up to limit notifications for managerID, newest
// first.
func (s *Store) ListNotifications(ctx context.Context, managerID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, sk, id, type, title, message, status, metadata, created_at
		 FROM notifications WHERE pk = ? ORDER BY sk DESC LIMIT ?`,
		managerKey(managerID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var (
			n    Notification
			meta string
		)
		if err := rows.Scan(&n.PK, &n.SK, &n.ID, &n.Type, &n.Title, &n.Message, &n.Status, &meta, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan notification: %w", err)
		}
		n.ManagerID = managerID
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
				s.logger.Sugar().Warnw("dropping undecodable notification metadata", "id", n.ID, "error", err)
			}
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread returns how many unread notifications managerID has.
func (s *Store) CountUnread(ctx context.Context, managerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE pk = ? AND status = ?`,
		managerKey(managerID), NotificationUnread,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: failed to count unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationRead marks one of managerID's notifications read. Marking
// another manager's notification reports ErrNotFound.
func (s *Store) MarkNotificationRead(ctx context.Context, managerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE pk = ? AND id = ?`,
		NotificationRead, managerKey(managerID), id,
	)
	if err != nil {
		return fmt.Errorf("store: failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to mark notification read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of managerID read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, managerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE pk = ? AND status = ?`,
		NotificationRead, managerKey(managerID), NotificationUnread,
	)
	if err != nil {
		return 0, fmt.Errorf("store: failed to mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// workflowRunNotification builds the title and message for a finished run.
func workflowRunNotification(repository, workflow, branch, conclusion string, finishedAt time.Time) (title, message string) {
	if conclusion == "" {
		conclusion = "completed"
	}
	title = fmt.Sprintf("Workflow %s %s", workflow, conclusion)
	message = fmt.Sprintf("%s on %s finished at %s", repository, branch, finishedAt.UTC().Format(time.RFC3339))
	return title, message
}
