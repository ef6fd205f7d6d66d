package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"social-connections/backend/internal/constants"
	"social-connections/backend/pkg/logger"
)

// NATSPublisher publishes events as JSON to <prefix>.followed and <prefix>.unfollowed
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on an existing connection
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		logger: logger.Named("nats"),
	}
}

// Subject returns the subject an event name is published on
func (p *NATSPublisher) Subject(name Name) string {
	if name == Unfollowed {
		return p.prefix + "." + constants.SubjectUnfollowed
	}
	return p.prefix + "." + constants.SubjectFollowed
}

// Publish implements Sink
func (p *NATSPublisher) Publish(ctx context.Context, events []Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.nc.Publish(p.Subject(e.Name), payload); err != nil {
			return fmt.Errorf("failed to publish %s: %w", e.Name, err)
		}
	}
	if len(events) > 0 {
		if err := p.flush(ctx); err != nil {
			return fmt.Errorf("failed to flush events: %w", err)
		}
	}

	p.logger.Debug("Events published", zap.Int("count", len(events)))
	return nil
}

// flush waits for the server to acknowledge, bounded by ctx's deadline or flushTimeout
func (p *NATSPublisher) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return p.nc.FlushWithContext(ctx)
	}
	return p.nc.FlushTimeout(flushTimeout)
}

const flushTimeout = 2 * time.Second
