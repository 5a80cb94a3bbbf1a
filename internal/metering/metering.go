// Package metering converts sandbox runtime into billable usage units
// and records them through a collaborator.
package metering

import (
	"context"
	"math"
	"time"

	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/store"
)

// Meter records usage units against a user. Billing internals are out
// of scope; this is the numeric contract only.
type Meter interface {
	RecordRuntime(ctx context.Context, userID string, units float64) error
}

// UnitsForRuntime converts elapsed sandbox time into usage units at
// the given per-hour rate, rounded to 4 decimal places.
func UnitsForRuntime(elapsed time.Duration, ratePerHour float64) float64 {
	units := elapsed.Seconds() * ratePerHour / 3600
	return math.Round(units*10000) / 10000
}

// StoreMeter persists usage records through the store.
type StoreMeter struct {
	store *store.Store
}

// NewStoreMeter creates a meter backed by the database.
func NewStoreMeter(s *store.Store) *StoreMeter {
	return &StoreMeter{store: s}
}

// RecordRuntime writes one runtime usage record.
func (m *StoreMeter) RecordRuntime(ctx context.Context, userID string, units float64) error {
	return m.store.CreateUsageRecord(ctx, &model.UsageRecord{
		UserID: userID,
		Kind:   "runtime",
		Units:  units,
	})
}
