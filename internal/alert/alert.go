// Package alert delivers consistency alerts to the instance owner.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trainlog/internal/config"
)

// NotificationType represents the type of alert.
type NotificationType string

const (
	NotificationDrift           NotificationType = "DRIFT_DETECTED"
	NotificationPartialCommit   NotificationType = "PARTIAL_COMMIT"
	NotificationMigrationFailed NotificationType = "MIGRATION_FAILED"
)

// Notification represents an alert to be delivered.
type Notification struct {
	ID        string
	Type      NotificationType
	Recipient string
	Subject   string
	Body      string
	Data      map[string]any
	CreatedAt time.Time
}

// Sender is an outbound alert channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Service builds alerts and hands them to a Sender.
type Service struct {
	sender    Sender
	recipient string
	logger    zerolog.Logger
}

// New picks the channel for env: local and development deployments only
// log, as does any deployment without an SMTP host configured.
func New(cfg config.AlertConfig, env config.Environment, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "alert").Logger()

	var sender Sender = &LogSender{logger: logger}
	if !env.IsLocal() && cfg.SMTPHost != "" && cfg.OwnerEmail != "" {
		sender = NewSMTPSender(cfg)
	}
	return &Service{sender: sender, recipient: cfg.OwnerEmail, logger: logger}
}

// NewWithSender creates a Service over an explicit channel.
func NewWithSender(sender Sender, recipient string, logger zerolog.Logger) *Service {
	return &Service{sender: sender, recipient: recipient, logger: logger}
}

// NotifyDrift reports a mismatch between the two stores for one trip.
func (s *Service) NotifyDrift(ctx context.Context, tripID int64, field string, primary, secondary any) error {
	return s.send(ctx, Notification{
		Type:    NotificationDrift,
		Subject: fmt.Sprintf("Drift detected on trip %d", tripID),
		Body: fmt.Sprintf("Trip %d differs between stores on %q.\nprimary:   %v\nsecondary: %v",
			tripID, field, primary, secondary),
		Data: map[string]any{
			"trip_id":   tripID,
			"field":     field,
			"primary":   primary,
			"secondary": secondary,
		},
	})
}

// NotifyDriftSummary reports the outcome of a full comparison.
func (s *Service) NotifyDriftSummary(ctx context.Context, scope string, lines []string) error {
	return s.send(ctx, Notification{
		Type:    NotificationDrift,
		Subject: fmt.Sprintf("%d drifts found comparing %s", len(lines), scope),
		Body:    strings.Join(lines, "\n"),
		Data:    map[string]any{"scope": scope, "count": len(lines)},
	})
}

// NotifyPartialCommit reports a coordinated write that committed on some
// stores only.
func (s *Service) NotifyPartialCommit(ctx context.Context, operation string, err error) error {
	return s.send(ctx, Notification{
		Type:    NotificationPartialCommit,
		Subject: fmt.Sprintf("Partial commit during %s", operation),
		Body:    err.Error(),
		Data:    map[string]any{"operation": operation},
	})
}

// NotifyMigrationFailed reports a bulk migration run that aborted.
func (s *Service) NotifyMigrationFailed(ctx context.Context, runID string, state string, err error) error {
	return s.send(ctx, Notification{
		Type:    NotificationMigrationFailed,
		Subject: fmt.Sprintf("Migration %s failed while %s", runID, state),
		Body:    err.Error(),
		Data:    map[string]any{"run_id": runID, "state": state},
	})
}

func (s *Service) send(ctx context.Context, n Notification) error {
	n.ID = uuid.NewString()
	n.Recipient = s.recipient
	n.CreatedAt = time.Now()

	if err := s.sender.Send(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("type", string(n.Type)).Msg("alert delivery failed")
		return fmt.Errorf("send %s alert: %w", n.Type, err)
	}
	return nil
}

// LogSender writes alerts to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, n Notification) error {
	l.logger.Warn().
		Str("alert_id", n.ID).
		Str("type", string(n.Type)).
		Fields(n.Data).
		Msg(n.Subject)
	return nil
}
