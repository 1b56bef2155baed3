package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/lobstream/internal/models"
)

func midSeries(mids ...float64) []models.EnrichedSnapshot {
	snaps := make([]models.EnrichedSnapshot, len(mids))
	base := time.Now()
	for i, mid := range mids {
		snaps[i] = models.EnrichedSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			MidPrice:  mid,
		}
	}
	return snaps
}

func TestComputeShortSeries(t *testing.T) {
	svc := NewIndicatorService(DefaultIndicatorConfig())

	results := svc.Compute(midSeries(100, 101, 102))
	assert.Empty(t, results, "too few points for any indicator")
	assert.NotNil(t, results)
}

func TestComputeSMAOverFlatSeries(t *testing.T) {
	svc := NewIndicatorService(IndicatorConfig{SMAPeriod: 5, EMAPeriod: 5, RSIPeriod: 3})

	mids := make([]float64, 10)
	for i := range mids {
		mids[i] = 100.0
	}
	results := svc.Compute(midSeries(mids...))
	require.NotEmpty(t, results)

	var sma *IndicatorResult
	for i := range results {
		if results[i].Name == "SMA_5" {
			sma = &results[i]
		}
	}
	require.NotNil(t, sma)
	require.NotEmpty(t, sma.Values)
	last, _ := sma.Values[len(sma.Values)-1].Float64()
	assert.InDelta(t, 100.0, last, 1e-9, "the SMA of a flat series is the series value")
}

func TestComputeNamesFollowPeriods(t *testing.T) {
	svc := NewIndicatorService(IndicatorConfig{SMAPeriod: 7, EMAPeriod: 9, RSIPeriod: 5})

	mids := make([]float64, 30)
	for i := range mids {
		mids[i] = 100 + math.Sin(float64(i))
	}
	results := svc.Compute(midSeries(mids...))

	names := make(map[string]bool, len(results))
	for _, r := range results {
		names[r.Name] = true
	}
	assert.True(t, names["SMA_7"])
	assert.True(t, names["EMA_9"])
	assert.True(t, names["RSI_5"])
}

func TestNewIndicatorServiceDefaultsBadPeriods(t *testing.T) {
	svc := NewIndicatorService(IndicatorConfig{SMAPeriod: -1})
	assert.Equal(t, DefaultIndicatorConfig().SMAPeriod, svc.cfg.SMAPeriod)
}
