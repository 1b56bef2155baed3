// Package source provides the interchangeable snapshot sources the
// orchestrator can drive: Postgres replay, bulk CSV replay and the
// synthetic generator.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfold/lobstream/internal/models"
)

// ErrExhausted signals that a replay source has no rows past the
// cursor. It is a normal terminal state, not a failure.
var ErrExhausted = errors.New("source exhausted")

// MalformedRecordError carries the timestamp of a row that could not be
// mapped into a snapshot, so the caller can advance past it.
type MalformedRecordError struct {
	Cursor time.Time
	Err    error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %s: %v", e.Cursor.Format(time.RFC3339Nano), e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Source produces raw snapshots. Next returns the first snapshot with a
// timestamp strictly after the cursor; replay sources use the cursor to
// resume, the synthetic generator ignores it.
type Source interface {
	Name() string
	BaseDelay() time.Duration
	Next(ctx context.Context, after time.Time) (models.Snapshot, error)
	Close() error
}

// OrderInjector is implemented by sources that can absorb an externally
// placed order as a price shock. Only the synthetic generator does.
type OrderInjector interface {
	InjectOrder(side string, quantity int)
}

// snapshotFromLevels assembles a snapshot from the flat 40-value level
// layout shared by the l2_orderbook table and the bulk CSV export:
// 10 bid prices, 10 bid volumes, 10 ask prices, 10 ask volumes.
func snapshotFromLevels(ts time.Time, vals []float64) (models.Snapshot, error) {
	if len(vals) != 4*models.BookDepth {
		return models.Snapshot{}, fmt.Errorf("expected %d level values, got %d", 4*models.BookDepth, len(vals))
	}

	bids := make([]models.PriceLevel, models.BookDepth)
	asks := make([]models.PriceLevel, models.BookDepth)
	for i := 0; i < models.BookDepth; i++ {
		bids[i] = models.PriceLevel{Price: vals[i], Volume: vals[models.BookDepth+i]}
		asks[i] = models.PriceLevel{Price: vals[2*models.BookDepth+i], Volume: vals[3*models.BookDepth+i]}
	}

	if bids[0].Price <= 0 || asks[0].Price <= 0 {
		return models.Snapshot{}, fmt.Errorf("non-positive best price (bid %.4f, ask %.4f)", bids[0].Price, asks[0].Price)
	}

	return models.Snapshot{
		Timestamp: ts,
		MidPrice:  (bids[0].Price + asks[0].Price) / 2,
		Bids:      bids,
		Asks:      asks,
	}, nil
}
