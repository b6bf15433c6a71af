package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CacheInvalidator drops cached scan results.
type CacheInvalidator interface {
	InvalidateRepository(repository string) int
	InvalidatePrincipal(principal string) int
}

// EventProcessor applies verified webhook events: it keeps installation
// bindings and scan caches in step with GitHub and turns finished workflow
// runs into manager notifications.
type EventProcessor struct {
	store  *Store
	scans  CacheInvalidator
	app    *App
	logger *zap.Logger
	now    func() time.Time
}

// NewEventProcessor creates the processor.
func NewEventProcessor(store *Store, scans CacheInvalidator, app *App, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{
		store:  store,
		scans:  scans,
		app:    app,
		logger: logger.Named("events"),
		now:    time.Now,
	}
}

// Handle processes one delivery. Unknown events are logged and succeed.
func (p *EventProcessor) Handle(ctx context.Context, msg WebhookMessage) error {
	var payload ghWebhookPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("events: failed to parse %s payload: %w", msg.EventType, err)
	}

	log := p.logger.With(
		zap.String("event", msg.EventType),
		zap.String("action", payload.Action),
		zap.String("delivery", msg.DeliveryID),
	)

	switch msg.EventType {
	case "installation":
		return p.handleInstallation(ctx, log, &payload)
	case "installation_repositories":
		for _, r := range payload.RepositoriesAdded {
			p.scans.InvalidateRepository(r.FullName)
		}
		for _, r := range payload.RepositoriesRemoved {
			p.scans.InvalidateRepository(r.FullName)
		}
		log.Info("installation repositories changed",
			zap.Int("added", len(payload.RepositoriesAdded)), zap.Int("removed", len(payload.RepositoriesRemoved)))
	case "push", "repository":
		if payload.Repository.FullName != "" {
			n := p.scans.InvalidateRepository(payload.Repository.FullName)
			log.Info("invalidated cached scans",
				zap.String("repo", payload.Repository.FullName), zap.Int("entries", n))
		}
	case "workflow_run":
		if payload.Action == "completed" {
			return p.handleWorkflowRunCompleted(ctx, log, &payload)
		}
		log.Debug("workflow run update", zap.String("status", payload.WorkflowRun.Status))
	case "workflow_job", "pull_request":
		log.Info("event received", zap.String("repo", payload.Repository.FullName))
	case "ping":
		log.Info("ping received")
	default:
		log.Info("unhandled event")
	}
	return nil
}

func (p *EventProcessor) handleInstallation(ctx context.Context, log *zap.Logger, payload *ghWebhookPayload) error {
	id := payload.Installation.ID
	switch payload.Action {
	case "deleted", "suspend":
		managers, err := p.store.UnbindInstallation(ctx, id)
		if err != nil {
			return fmt.Errorf("events: failed to unbind installation %d: %w", id, err)
		}
		for _, m := range managers {
			p.scans.InvalidatePrincipal("manager:" + m)
		}
		p.app.ForgetInstallation(id)
		log.Info("installation removed",
			zap.Int64("installation_id", id),
			zap.String("account", payload.Installation.Account.Login),
			zap.Strings("unbound_managers", managers))
	default:
		log.Info("installation event",
			zap.Int64("installation_id", id), zap.String("account", payload.Installation.Account.Login))
	}
	return nil
}

func (p *EventProcessor) handleWorkflowRunCompleted(ctx context.Context, log *zap.Logger, payload *ghWebhookPayload) error {
	managers, err := p.store.ManagersForInstallation(ctx, payload.Installation.ID)
	if err != nil {
		return fmt.Errorf("events: failed to look up managers: %w", err)
	}

	run := payload.WorkflowRun
	title, message := workflowRunNotification(payload.Repository.FullName, run.Name, run.HeadBranch, run.Conclusion, p.now())
	metadata := map[string]string{
		"repository":  payload.Repository.FullName,
		"workflowRun": fmt.Sprintf("%d", run.ID),
		"conclusion":  run.Conclusion,
		"url":         run.HTMLURL,
	}

	for _, m := range managers {
		if _, err := p.store.CreateNotification(ctx, m, NotificationWorkflowRun, title, message, metadata); err != nil {
			return fmt.Errorf("events: failed to notify manager %s: %w", m, err)
		}
	}
	log.Info("workflow run completed",
		zap.String("repo", payload.Repository.FullName),
		zap.String("conclusion", run.Conclusion),
		zap.Int("notified", len(managers)))
	return nil
}

// StartEventConsumer processes queued webhook events until ctx is cancelled.
// Call it in a goroutine.
func StartEventConsumer(ctx context.Context, mq *RabbitMQ, p *EventProcessor) error {
	return mq.ConsumeWebhookEvents(ctx, p.Handle)
}
