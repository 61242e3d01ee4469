package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

// Notification is an email/push notice about messaging activity.
type Notification struct {
	UserID   uuid.UUID
	ThreadID uuid.UUID
	Subject  string
	Body     string
}

// Sink is the fire-and-forget notification collaborator. Callers dispatch in
// a goroutine and never block or fail a write on sink errors.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink logs notifications instead of delivering them. Stands in for the
// hosted email/push gateway in development and tests.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	logger.Log.Info("notification dispatched",
		zap.String("user_id", n.UserID.String()),
		zap.String("thread_id", n.ThreadID.String()),
		zap.String("subject", n.Subject),
	)
	return nil
}

// Dispatch sends a notification without blocking the caller. Errors are
// logged, never propagated.
func Dispatch(sink Sink, n Notification) {
	go func() {
		if err := sink.Notify(context.Background(), n); err != nil {
			logger.Log.Warn("notification failed",
				zap.String("user_id", n.UserID.String()),
				zap.Error(err),
			)
		}
	}()
}
