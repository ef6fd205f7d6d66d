package graph

import (
	"context"

	apperrors "social-connections/backend/pkg/errors"
)

// Meter charges work against an external budget. Charge fails once the budget is gone.
type Meter interface {
	Charge(operation string, units uint64) error
}

type meterKey struct{}

// WithMeter attaches a meter to ctx; store mutations charge it per target
func WithMeter(ctx context.Context, m Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func meterFrom(ctx context.Context) Meter {
	if m, ok := ctx.Value(meterKey{}).(Meter); ok {
		return m
	}
	return nil
}

// GasMeter is a Meter with a fixed limit
type GasMeter struct {
	limit uint64
	used  uint64
}

// NewGasMeter creates a gas meter with the given limit
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge implements Meter
func (m *GasMeter) Charge(operation string, units uint64) error {
	if m.used+units > m.limit || m.used+units < m.used {
		return apperrors.NewResourceExhausted(operation+": out of gas", m.used+units, m.limit, nil)
	}
	m.used += units
	return nil
}

// Used returns the gas consumed so far
func (m *GasMeter) Used() uint64 {
	return m.used
}

// Limit returns the configured limit
func (m *GasMeter) Limit() uint64 {
	return m.limit
}
