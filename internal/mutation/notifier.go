package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind distinguishes success from failure feedback.
type Kind string

// Notification kinds.
const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is user facing feedback for one settled mutation.
type Notification struct {
	Kind Kind `json:"kind"`
	// PrincipalID names the session the feedback belongs to.
	PrincipalID string `json:"principal_id,omitempty"`
	Entity      string `json:"entity,omitempty"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	// Retryable tells the UI to offer a retry action.
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// Notifier delivers feedback to whoever started the mutation. Implementations
// must not block for long; failures are theirs to handle.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Kind == KindError {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, n.Message,
		slog.String("kind", string(n.Kind)),
		slog.String("entity", n.Entity),
		slog.String("detail", n.Detail),
		slog.Bool("retryable", n.Retryable))
}

// Publisher is the subset of the go-redis client used by RedisNotifier.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a per-principal Redis
// pub/sub channel so every UI connection of that session, and no other, can
// show them.
type RedisNotifier struct {
	client  Publisher
	channel string
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisNotifier constructs a RedisNotifier. An empty channel falls back to
// "odyssey:crm:notifications".
func NewRedisNotifier(client Publisher, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = "odyssey:crm:notifications"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, channel: channel, logger: logger, timeout: 2 * time.Second}
}

// Channel returns the base pub/sub channel.
func (r *RedisNotifier) Channel() string {
	return r.channel
}

// ChannelFor returns the channel feedback for principalID is published on.
// Mutations without a principal go to the base channel.
func (r *RedisNotifier) ChannelFor(principalID string) string {
	if principalID == "" {
		return r.channel
	}
	return r.channel + ":" + principalID
}

// Notify implements Notifier.
func (r *RedisNotifier) Notify(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("encode notification", slog.Any("error", err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	channel := r.ChannelFor(n.PrincipalID)
	if err := r.client.Publish(pubCtx, channel, payload).Err(); err != nil {
		r.logger.Warn("publish notification", slog.String("channel", channel), slog.Any("error", err))
	}
}

// MultiNotifier fans a notification out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Retryable reports whether an error asks for a retry affordance.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or anything it wraps, is marked retryable.
// Deadline expiry is always retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
