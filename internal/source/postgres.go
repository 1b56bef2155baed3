package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

// replayTable is the externally-maintained append-only L2 table:
// strictly increasing ts plus 40 numeric level columns.
const replayTable = "l2_orderbook"

// DB is the subset of pgxpool.Pool the replay source needs. pgxmock
// satisfies it in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresReplay replays historical snapshots row by row, keyed by the
// caller-supplied cursor timestamp.
type PostgresReplay struct {
	db        DB
	baseDelay time.Duration
	query     string
}

// NewPostgresReplay verifies connectivity and that the replay table has
// data; either failure makes the orchestrator fall back to the next
// source in priority order.
func NewPostgresReplay(ctx context.Context, db DB, baseDelay time.Duration) (*PostgresReplay, error) {
	if db == nil {
		return nil, errors.New("no database connection configured")
	}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	var count int64
	if err := db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", replayTable)).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to inspect replay table: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("replay table %s is empty", replayTable)
	}

	logrus.WithField("rows", count).Info("Postgres replay source ready")

	return &PostgresReplay{
		db:        db,
		baseDelay: baseDelay,
		query:     buildReplayQuery(),
	}, nil
}

func buildReplayQuery() string {
	cols := make([]string, 0, 1+4*models.BookDepth)
	cols = append(cols, "ts")
	for _, group := range []string{"bid_price", "bid_volume", "ask_price", "ask_volume"} {
		for i := 1; i <= models.BookDepth; i++ {
			cols = append(cols, fmt.Sprintf("%s_%d", group, i))
		}
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE ts > $1 ORDER BY ts ASC LIMIT 1",
		strings.Join(cols, ", "), replayTable)
}

func (p *PostgresReplay) Name() string { return "postgres-replay" }

func (p *PostgresReplay) BaseDelay() time.Duration { return p.baseDelay }

// Next fetches the first row strictly after the cursor. Rows that fail
// to map into a snapshot come back as MalformedRecordError so the
// caller can skip past them.
func (p *PostgresReplay) Next(ctx context.Context, after time.Time) (models.Snapshot, error) {
	var ts time.Time
	levels := make([]decimal.Decimal, 4*models.BookDepth)
	dest := make([]any, 0, 1+len(levels))
	dest = append(dest, &ts)
	for i := range levels {
		dest = append(dest, &levels[i])
	}

	err := p.db.QueryRow(ctx, p.query, after).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Snapshot{}, ErrExhausted
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to fetch replay row: %w", err)
	}

	vals := make([]float64, len(levels))
	for i, d := range levels {
		vals[i] = d.InexactFloat64()
	}

	snap, err := snapshotFromLevels(ts, vals)
	if err != nil {
		return models.Snapshot{}, &MalformedRecordError{Cursor: ts, Err: err}
	}
	return snap, nil
}

func (p *PostgresReplay) Close() error { return nil }
