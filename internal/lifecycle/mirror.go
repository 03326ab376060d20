package lifecycle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Mirror receives every published event for external durability or fan-out.
// Implementations must be non-blocking from the caller's perspective.
type Mirror interface {
	Append(evt Event)
}

// RedisMirror appends events to a per-run Redis Stream so detached observers
// can tail a run from another process. Failures are logged and dropped; the
// mirror never feeds back into the loop.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	maxLen  int64
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisMirror creates a stream mirror writing to "<prefix><run_id>".
func NewRedisMirror(client *redis.Client, prefix string, maxLen int64, logger *zap.Logger) *RedisMirror {
	if prefix == "" {
		prefix = "taskpilot:events:"
	}
	if maxLen <= 0 {
		maxLen = 1024
	}
	return &RedisMirror{
		client:  client,
		prefix:  prefix,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Append writes the event to the run's stream in the background.
func (m *RedisMirror) Append(evt Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		err := m.client.XAdd(ctx, &redis.XAddArgs{
			Stream: m.prefix + evt.RunID,
			MaxLen: m.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"actor":     evt.Actor,
				"state":     evt.State,
				"message":   evt.Message,
				"seq":       evt.Seq,
				"timestamp": evt.Timestamp.UnixMilli(),
			},
		}).Err()
		if err != nil {
			m.logger.Warn("failed to mirror lifecycle event",
				zap.String("run_id", evt.RunID),
				zap.String("state", evt.State),
				zap.Error(err),
			)
		}
	}()
}
