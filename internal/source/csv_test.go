package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csvHeader() string {
	cols := []string{"ts"}
	for _, group := range []string{"bid_price", "bid_volume", "ask_price", "ask_volume"} {
		for i := 1; i <= 10; i++ {
			cols = append(cols, fmt.Sprintf("%s_%d", group, i))
		}
	}
	return strings.Join(cols, ",")
}

func csvRow(ts time.Time, bestBid, bestAsk float64) string {
	fields := []string{fmt.Sprintf("%d", ts.UnixMicro())}
	for i := 0; i < 10; i++ {
		fields = append(fields, fmt.Sprintf("%.2f", bestBid-float64(i)*0.01))
	}
	for i := 0; i < 10; i++ {
		fields = append(fields, "50")
	}
	for i := 0; i < 10; i++ {
		fields = append(fields, fmt.Sprintf("%.2f", bestAsk+float64(i)*0.01))
	}
	for i := 0; i < 10; i++ {
		fields = append(fields, "50")
	}
	return strings.Join(fields, ",")
}

func writeReplayFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "l2_orderbook.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestNewCSVReplayMissingFile(t *testing.T) {
	_, err := NewCSVReplay(filepath.Join(t.TempDir(), "absent.csv"), time.Millisecond)
	assert.Error(t, err)
}

func TestNewCSVReplayLoadsAndSorts(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)

	// Rows are deliberately shuffled; the loader must order them.
	path := writeReplayFile(t,
		csvHeader(),
		csvRow(t3, 100.05, 100.07),
		csvRow(t1, 99.99, 100.01),
		csvRow(t2, 100.02, 100.04),
	)

	src, err := NewCSVReplay(path, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "csv-replay", src.Name())
	assert.Equal(t, 100*time.Millisecond, src.BaseDelay())
	assert.Equal(t, 3, src.Len())

	first, err := src.Next(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t1, first.Timestamp)
	assert.InDelta(t, 100.0, first.MidPrice, 1e-9)
}

func TestCSVReplayCursor(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	path := writeReplayFile(t, csvRow(t1, 99.99, 100.01), csvRow(t2, 100.00, 100.02))
	src, err := NewCSVReplay(path, time.Millisecond)
	require.NoError(t, err)

	snap, err := src.Next(context.Background(), t1)
	require.NoError(t, err)
	assert.Equal(t, t2, snap.Timestamp, "Next returns the first row strictly after the cursor")

	_, err = src.Next(context.Background(), t2)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestCSVReplaySkipsMalformedRows(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	path := writeReplayFile(t,
		csvHeader(),
		csvRow(t1, 99.99, 100.01),
		"not-a-timestamp,1,2,3",
		csvRow(t2, 100.00, 100.02),
	)

	src, err := NewCSVReplay(path, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len(), "the malformed row is dropped at load time")
}

func TestCSVReplayAllRowsMalformed(t *testing.T) {
	path := writeReplayFile(t, csvHeader(), "junk,row")
	_, err := NewCSVReplay(path, time.Millisecond)
	assert.ErrorContains(t, err, "no usable rows")
}

func TestCSVReplayRFC3339Timestamps(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	row := csvRow(t1, 99.99, 100.01)
	row = strings.Replace(row, fmt.Sprintf("%d", t1.UnixMicro()), t1.Format(time.RFC3339Nano), 1)

	path := writeReplayFile(t, row)
	src, err := NewCSVReplay(path, time.Millisecond)
	require.NoError(t, err)

	snap, err := src.Next(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.True(t, snap.Timestamp.Equal(t1))
}
