package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/lobstream/internal/models"
)

// testBook builds a full 10-level book with the given top of book and a
// flat 50-volume tail so depth-based rules stay quiet.
func testBook(ts time.Time, bidPrice, bidVol, askPrice, askVol float64) models.Snapshot {
	bids := make([]models.PriceLevel, models.BookDepth)
	asks := make([]models.PriceLevel, models.BookDepth)
	bids[0] = models.PriceLevel{Price: bidPrice, Volume: bidVol}
	asks[0] = models.PriceLevel{Price: askPrice, Volume: askVol}
	for i := 1; i < models.BookDepth; i++ {
		bids[i] = models.PriceLevel{Price: bidPrice - float64(i)*0.01, Volume: 50}
		asks[i] = models.PriceLevel{Price: askPrice + float64(i)*0.01, Volume: 50}
	}
	return models.Snapshot{
		Timestamp: ts,
		MidPrice:  (bidPrice + askPrice) / 2,
		Bids:      bids,
		Asks:      asks,
	}
}

func TestProcessFirstSnapshot(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	snap := testBook(time.Now(), 99.99, 50, 100.01, 50)

	out := engine.Process(snap)

	assert.Equal(t, 0.0, out.OFI, "no previous snapshot means no order flow")
	assert.Equal(t, models.RegimeCalm, out.Regime)
	assert.Equal(t, "Calm", out.RegimeLabel)
	assert.Equal(t, 0.0, out.Volatility)
	assert.InDelta(t, 0.02, out.Spread, 1e-9)
	assert.InDelta(t, 100.0, out.Microprice, 1e-9, "equal volumes put the microprice at mid")
	assert.InDelta(t, 50.0, out.DirectionalProb, 1e-9)
	assert.Empty(t, out.Anomalies)
	assert.NotNil(t, out.Anomalies)
	assert.NotNil(t, out.LiquidityGaps)
}

func TestProcessEmptyBook(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	out := engine.Process(models.Snapshot{Timestamp: time.Now(), MidPrice: 100})

	assert.Equal(t, 100.0, out.MidPrice)
	assert.Equal(t, 100.0, out.Microprice)
	assert.Equal(t, 50.0, out.DirectionalProb)
	assert.Equal(t, models.RegimeCalm, out.Regime)
	assert.Empty(t, out.Anomalies)
	assert.Empty(t, out.LiquidityGaps)
}

func TestProcessOFIBidPriceRise(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	base := time.Now()

	engine.Process(testBook(base, 99.99, 80, 100.02, 80))
	out := engine.Process(testBook(base.Add(time.Second), 100.00, 120, 100.02, 80))

	// Bid rose: +120. Ask unchanged at the same volume: 0.
	assert.InDelta(t, 0.24, out.OFI, 1e-9)
}

func TestProcessOFIClipped(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	base := time.Now()

	engine.Process(testBook(base, 99.99, 80, 100.02, 80))
	out := engine.Process(testBook(base.Add(time.Second), 100.00, 900, 100.02, 80))

	assert.Equal(t, 1.0, out.OFI, "raw OFI beyond the normalizer clips to 1")
}

func TestOrderFlowImbalanceTransitions(t *testing.T) {
	lvl := func(p, v float64) models.PriceLevel { return models.PriceLevel{Price: p, Volume: v} }

	tests := []struct {
		name                       string
		prevBid, curBid            models.PriceLevel
		prevAsk, curAsk            models.PriceLevel
		want                       float64
	}{
		{"bid price up adds current volume", lvl(99.99, 80), lvl(100.00, 120), lvl(100.02, 50), lvl(100.02, 50), 120},
		{"bid price down subtracts previous volume", lvl(100.00, 120), lvl(99.99, 80), lvl(100.02, 50), lvl(100.02, 50), -120},
		{"bid volume change at same price", lvl(99.99, 80), lvl(99.99, 110), lvl(100.02, 50), lvl(100.02, 50), 30},
		{"ask price up adds previous volume", lvl(99.99, 50), lvl(99.99, 50), lvl(100.02, 70), lvl(100.03, 90), 70},
		{"ask price down subtracts current volume", lvl(99.99, 50), lvl(99.99, 50), lvl(100.03, 90), lvl(100.02, 70), -70},
		{"ask volume change at same price", lvl(99.99, 50), lvl(99.99, 50), lvl(100.02, 70), lvl(100.02, 100), -30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderFlowImbalance(tt.prevBid, tt.curBid, tt.prevAsk, tt.curAsk)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestWeightedImbalance(t *testing.T) {
	bids := make([]models.PriceLevel, 5)
	asks := make([]models.PriceLevel, 5)
	for i := range bids {
		bids[i] = models.PriceLevel{Price: 100 - float64(i)*0.01, Volume: 10}
		asks[i] = models.PriceLevel{Price: 100.02 + float64(i)*0.01, Volume: 0}
	}

	assert.InDelta(t, 1.0, weightedImbalance(bids, asks), 1e-9, "all volume on the bid side")

	for i := range bids {
		bids[i].Volume, asks[i].Volume = asks[i].Volume, bids[i].Volume
	}
	assert.InDelta(t, -1.0, weightedImbalance(bids, asks), 1e-9, "all volume on the ask side")

	for i := range asks {
		asks[i].Volume = 0
	}
	assert.Equal(t, 0.0, weightedImbalance(bids, asks), "an empty book is neutral")
}

func TestMicroprice(t *testing.T) {
	bid := models.PriceLevel{Price: 99.99, Volume: 300}
	ask := models.PriceLevel{Price: 100.01, Volume: 100}

	// Heavy bid volume pulls the microprice toward the ask.
	got := microprice(bid, ask)
	assert.InDelta(t, (300*100.01+100*99.99)/400, got, 1e-9)
	assert.Greater(t, got, 100.0)

	bid.Volume, ask.Volume = 0, 0
	assert.InDelta(t, 100.0, microprice(bid, ask), 1e-9, "no volume collapses to the midpoint")
}

func TestDirectionalProbTracksDivergence(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	snap := testBook(time.Now(), 99.99, 300, 100.01, 100)

	out := engine.Process(snap)

	assert.Greater(t, out.Divergence, 0.0)
	assert.Greater(t, out.DirectionalProb, 50.0)
	assert.LessOrEqual(t, out.DirectionalProb, 100.0)
}

func TestRollingVolatilityNeedsFullWindow(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg)
	base := time.Now()

	mid := 100.0
	for i := 0; i < cfg.VolSamples; i++ {
		out := engine.Process(testBook(base.Add(time.Duration(i)*time.Second), mid-0.01, 50, mid+0.01, 50))
		assert.Equal(t, 0.0, out.Volatility, "snapshot %d is below the sample requirement", i)
		// Alternate the mid so returns are nonzero once the window fills.
		if i%2 == 0 {
			mid += 0.05
		} else {
			mid -= 0.05
		}
	}

	out := engine.Process(testBook(base.Add(time.Hour), mid-0.01, 50, mid+0.01, 50))
	assert.Greater(t, out.Volatility, 0.0)
}

func TestMidHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryWindow = 30
	engine := NewEngine(cfg)
	base := time.Now()

	for i := 0; i < 100; i++ {
		engine.Process(testBook(base.Add(time.Duration(i)*time.Second), 99.99, 50, 100.01, 50))
	}

	require.LessOrEqual(t, len(engine.mids), 30)
}
