// Package events turns committed graph changes into Followed / Unfollowed
// events and fans them out to sinks.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-connections/backend/internal/graph"
)

// Name identifies an event kind
type Name string

const (
	Followed   Name = "Followed"
	Unfollowed Name = "Unfollowed"
)

// Event is emitted once per committed link change
type Event struct {
	ID        string         `json:"id"`
	Name      Name           `json:"name"`
	Follower  common.Address `json:"follower"`
	Target    common.Address `json:"target"`
	Seq       int64          `json:"seq"`
	Forwarded bool           `json:"forwarded"`
	Timestamp time.Time      `json:"timestamp"`
}

// FromChanges converts committed changes into events, keeping their order
func FromChanges(changes []graph.Change, forwarded bool) []Event {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	out := make([]Event, 0, len(changes))
	for _, c := range changes {
		name := Followed
		if c.Kind == graph.ChangeUnfollow {
			name = Unfollowed
		}
		out = append(out, Event{
			ID:        uuid.New().String(),
			Name:      name,
			Follower:  c.Follower,
			Target:    c.Target,
			Seq:       c.Seq,
			Forwarded: forwarded,
			Timestamp: now,
		})
	}
	return out
}

// Sink receives events after their call has committed
type Sink interface {
	Publish(ctx context.Context, events []Event) error
}

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every event at Info
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink
func (s *LogSink) Publish(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("Event",
			zap.String("name", string(e.Name)),
			zap.String("follower", e.Follower.Hex()),
			zap.String("target", e.Target.Hex()),
			zap.Int64("seq", e.Seq),
			zap.Bool("forwarded", e.Forwarded),
		)
	}
	return nil
}

// MultiSink publishes to every sink and joins their errors
type MultiSink []Sink

// Publish implements Sink
func (m MultiSink) Publish(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
