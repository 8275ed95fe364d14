package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Signal task types.
const (
	TypePaymentFailed     = "billing:payment_failed"
	TypeWebhookUnresolved = "billing:webhook_unresolved"
)

// PaymentFailedSignal is raised when a provider reports a failed renewal.
type PaymentFailedSignal struct {
	Gateway                string    `json:"gateway"`
	EventID                string    `json:"event_id"`
	UserID                 string    `json:"user_id,omitempty"`
	SubscriptionID         string    `json:"subscription_id,omitempty"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	TransactionID          string    `json:"transaction_id,omitempty"`
	Amount                 int64     `json:"amount,omitempty"`
	Currency               string    `json:"currency,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// UnresolvedSignal is raised when a verified webhook cannot be correlated
// with local state.
type UnresolvedSignal struct {
	Gateway   string `json:"gateway"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Reason    string `json:"reason"`
}

// Notifier hands billing signals to whatever delivers them.
type Notifier interface {
	PaymentFailed(ctx context.Context, s PaymentFailedSignal) error
	WebhookUnresolved(ctx context.Context, s UnresolvedSignal) error
}

// NopNotifier drops every signal.
type NopNotifier struct{}

func (NopNotifier) PaymentFailed(context.Context, PaymentFailedSignal) error  { return nil }
func (NopNotifier) WebhookUnresolved(context.Context, UnresolvedSignal) error { return nil }

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier enqueues signals as asynq tasks.
type AsynqNotifier struct {
	client Enqueuer
	queue  string
	log    *slog.Logger
}

// NewAsynqNotifier creates an AsynqNotifier publishing to queue.
func NewAsynqNotifier(client Enqueuer, queue string, log *slog.Logger) *AsynqNotifier {
	if client == nil {
		panic("billing: asynq client is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AsynqNotifier{client: client, queue: queue, log: log.With(logger.Component("billing_notifier"))}
}

// NewPaymentFailedTask builds the payment failed task.
func NewPaymentFailedTask(s PaymentFailedSignal, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal payment failed payload: %w", err)
	}
	return asynq.NewTask(TypePaymentFailed, payload, append([]asynq.Option{asynq.MaxRetry(5)}, opts...)...), nil
}

// NewWebhookUnresolvedTask builds the unresolved webhook task.
func NewWebhookUnresolvedTask(s UnresolvedSignal, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook unresolved payload: %w", err)
	}
	return asynq.NewTask(TypeWebhookUnresolved, payload, append([]asynq.Option{asynq.MaxRetry(3)}, opts...)...), nil
}

func (n *AsynqNotifier) PaymentFailed(ctx context.Context, s PaymentFailedSignal) error {
	task, err := NewPaymentFailedTask(s, n.options(s.Gateway+":"+s.EventID)...)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, task)
}

func (n *AsynqNotifier) WebhookUnresolved(ctx context.Context, s UnresolvedSignal) error {
	task, err := NewWebhookUnresolvedTask(s, n.options(s.Gateway+":"+s.EventID)...)
	if err != nil {
		return err
	}
	return n.enqueue(ctx, task)
}

func (n *AsynqNotifier) options(id string) []asynq.Option {
	opts := []asynq.Option{asynq.TaskID(id)}
	if n.queue != "" {
		opts = append(opts, asynq.Queue(n.queue))
	}
	return opts
}

func (n *AsynqNotifier) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		n.log.ErrorContext(ctx, "failed to enqueue billing signal",
			slog.String("task_type", task.Type()),
			logger.Error(err),
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	n.log.InfoContext(ctx, "billing signal queued",
		slog.String("task_type", task.Type()),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}
