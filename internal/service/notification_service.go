package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/pkg/config"
	"github.com/agrariahq/agraria-api/pkg/jobs"
)

// Notification event names published to the approvals channel.
const (
	NotifySubmitted        = "approval.submitted"
	NotifyStepAdvanced     = "approval.step_advanced"
	NotifyApproved         = "approval.approved"
	NotifyRejected         = "approval.rejected"
	NotifyChangesRequested = "approval.changes_requested"
	NotifyCancelled        = "approval.cancelled"
)

// Notification describes a workflow event destined for interested users.
type Notification struct {
	Event          string    `json:"event"`
	InstanceID     string    `json:"instance_id"`
	ApprovableType string    `json:"approvable_type"`
	ApprovableID   string    `json:"approvable_id"`
	StepID         string    `json:"step_id,omitempty"`
	StepName       string    `json:"step_name,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	Recipients     []string  `json:"recipients,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NotificationService dispatches workflow notifications off the request path.
// Publishing enqueues onto an in-process worker pool; workers push the event
// onto a Redis channel that downstream consumers (mailers, websockets)
// subscribe to. Delivery is best effort: a notification failure never fails
// the approval action that produced it.
type NotificationService struct {
	queue   *jobs.Queue
	redis   *redis.Client
	channel string
	logger  *zap.Logger
}

func NewNotificationService(redisClient *redis.Client, cfg config.ApprovalsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		redis:   redisClient,
		channel: cfg.NotificationChannel,
		logger:  logger,
	}
	s.queue = jobs.NewQueue("approval-notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.NotifyWorkers,
		MaxRetries: cfg.NotifyRetries,
		RetryDelay: cfg.NotifyRetryDelay,
		Logger:     logger,
	})
	return s
}

// Start spins up the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues a notification for asynchronous delivery. Errors are
// logged and swallowed.
func (s *NotificationService) Publish(ctx context.Context, n Notification) {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    n.Event,
		Payload: n,
	})
	if err != nil {
		s.logger.Warn("notification enqueue failed",
			zap.String("event", n.Event),
			zap.String("instance_id", n.InstanceID),
			zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(Notification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if s.redis == nil {
		s.logger.Debug("notification dropped, no redis configured", zap.String("event", n.Event))
		return nil
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.redis.Publish(ctx, s.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	s.logger.Debug("notification published",
		zap.String("event", n.Event),
		zap.String("instance_id", n.InstanceID),
		zap.Int("recipients", len(n.Recipients)))
	return nil
}
