package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

// CSVReplay replays snapshots from a bulk L2 export: one row per
// snapshot, a timestamp column followed by the 40 level columns. The
// whole file is parsed up front; malformed rows are logged and skipped.
type CSVReplay struct {
	path      string
	baseDelay time.Duration
	snapshots []models.Snapshot
}

// NewCSVReplay loads and parses the file. A missing file is the
// fallback trigger, so the open error is returned unwrapped for the
// caller to log.
func NewCSVReplay(path string, baseDelay time.Duration) (*CSVReplay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var snapshots []models.Snapshot
	var skipped int
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read replay file: %w", err)
		}
		line++
		if line == 1 && looksLikeHeader(record) {
			continue
		}
		snap, err := parseReplayRecord(record)
		if err != nil {
			skipped++
			logrus.WithFields(logrus.Fields{
				"file": path,
				"line": line,
			}).WithError(err).Warn("Skipping malformed replay record")
			continue
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		return nil, fmt.Errorf("replay file %s contains no usable rows", path)
	}

	sort.SliceStable(snapshots, func(a, b int) bool {
		return snapshots[a].Timestamp.Before(snapshots[b].Timestamp)
	})

	logrus.WithFields(logrus.Fields{
		"file":    path,
		"rows":    len(snapshots),
		"skipped": skipped,
	}).Info("CSV replay source ready")

	return &CSVReplay{path: path, baseDelay: baseDelay, snapshots: snapshots}, nil
}

func (c *CSVReplay) Name() string { return "csv-replay" }

func (c *CSVReplay) BaseDelay() time.Duration { return c.baseDelay }

// Next returns the first snapshot with a timestamp strictly after the
// cursor.
func (c *CSVReplay) Next(_ context.Context, after time.Time) (models.Snapshot, error) {
	idx := sort.Search(len(c.snapshots), func(i int) bool {
		return c.snapshots[i].Timestamp.After(after)
	})
	if idx == len(c.snapshots) {
		return models.Snapshot{}, ErrExhausted
	}
	return c.snapshots[idx], nil
}

func (c *CSVReplay) Close() error { return nil }

// Len reports how many rows were loaded.
func (c *CSVReplay) Len() int { return len(c.snapshots) }

func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := parseTimestamp(record[0])
	return err != nil
}

func parseReplayRecord(record []string) (models.Snapshot, error) {
	want := 1 + 4*models.BookDepth
	if len(record) != want {
		return models.Snapshot{}, fmt.Errorf("expected %d fields, got %d", want, len(record))
	}

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("bad timestamp %q: %w", record[0], err)
	}

	vals := make([]float64, len(record)-1)
	for i, field := range record[1:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("bad numeric field %d (%q): %w", i+1, field, err)
		}
		vals[i] = v
	}

	return snapshotFromLevels(ts, vals)
}

// parseTimestamp accepts either unix microseconds (the loader's native
// export format) or RFC3339.
func parseTimestamp(field string) (time.Time, error) {
	if micros, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.UnixMicro(micros).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, field)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
