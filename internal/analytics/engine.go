package analytics

import (
	"math"
	"time"

	"github.com/quantfold/lobstream/internal/models"
)

// Config holds the tunable parameters of the analytics engine. The
// defaults reproduce the reference behavior exactly; tests rely on
// them, so override with care.
type Config struct {
	TickSize       float64       `mapstructure:"tick_size"`
	HistoryWindow  int           `mapstructure:"history_window"`
	VolSamples     int           `mapstructure:"vol_samples"`
	GapThreshold   float64       `mapstructure:"gap_threshold"`
	OFINormalizer  float64       `mapstructure:"ofi_normalizer"`
	SmoothingAlpha float64       `mapstructure:"smoothing_alpha"`
	RefitInterval  time.Duration `mapstructure:"refit_interval"`
	MinFitSamples  int           `mapstructure:"min_fit_samples"`
}

// DefaultConfig returns the reference parameter set.
func DefaultConfig() Config {
	return Config{
		TickSize:       0.01,
		HistoryWindow:  600,
		VolSamples:     20,
		GapThreshold:   50,
		OFINormalizer:  500,
		SmoothingAlpha: 0.05,
		RefitInterval:  10 * time.Second,
		MinFitSamples:  50,
	}
}

// Engine computes per-snapshot microstructure metrics, classifies the
// market regime and runs the anomaly rule set. All rolling state lives
// here; Process must be called once per snapshot, in source order, and
// never concurrently for the same Engine.
type Engine struct {
	cfg        Config
	classifier *RegimeClassifier

	mids []float64

	hasPrev      bool
	prevBids     []models.PriceLevel
	prevAsks     []models.PriceLevel
	prevBidDepth float64
	prevAskDepth float64

	avgSpread   float64
	avgSpreadSq float64
	avgL1Vol    float64
}

// NewEngine creates an engine with freshly-seeded baselines. The EWMA
// seeds match the reference implementation so the first spread z-scores
// are comparable across restarts.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:         cfg,
		classifier:  NewRegimeClassifier(cfg.HistoryWindow, cfg.MinFitSamples, cfg.RefitInterval),
		mids:        make([]float64, 0, cfg.HistoryWindow),
		avgSpread:   0.05,
		avgSpreadSq: 0.0025,
		avgL1Vol:    10.0,
	}
}

// obiWeights are the level-decay weights exp(-0.5*i) for the top 5
// levels used by the order-book imbalance.
var obiWeights = func() [5]float64 {
	var w [5]float64
	for i := range w {
		w[i] = math.Exp(-0.5 * float64(i))
	}
	return w
}()

// Process enriches a raw snapshot. It never returns an error: numeric
// degeneracy (empty sides, zero volumes, zero denominators) degrades to
// neutral values instead.
func (e *Engine) Process(snap models.Snapshot) models.EnrichedSnapshot {
	out := models.EnrichedSnapshot{
		Timestamp:       snap.Timestamp,
		MidPrice:        snap.MidPrice,
		Bids:            snap.Bids,
		Asks:            snap.Asks,
		Microprice:      snap.MidPrice,
		DirectionalProb: 50.0,
		Regime:          models.RegimeCalm,
		RegimeLabel:     models.RegimeCalm.Label(),
		Anomalies:       []models.AnomalyEvent{},
		LiquidityGaps:   []models.GapEvent{},
	}

	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return out
	}

	bestBid := snap.Bids[0]
	bestAsk := snap.Asks[0]
	out.BestBid = bestBid.Price
	out.BestAsk = bestAsk.Price
	out.BidVolume = bestBid.Volume
	out.AskVolume = bestAsk.Volume

	spread := bestAsk.Price - bestBid.Price
	out.Spread = spread

	alpha := e.cfg.SmoothingAlpha
	e.avgSpread = (1-alpha)*e.avgSpread + alpha*spread
	e.avgSpreadSq = (1-alpha)*e.avgSpreadSq + alpha*spread*spread

	stdSpread := math.Sqrt(math.Max(0, e.avgSpreadSq-e.avgSpread*e.avgSpread))
	if stdSpread <= 1e-6 {
		stdSpread = 0.01
	}
	spreadZ := (spread - e.avgSpread) / stdSpread

	out.OBI = weightedImbalance(snap.Bids, snap.Asks)

	out.Microprice = microprice(bestBid, bestAsk)
	out.Divergence = out.Microprice - snap.MidPrice
	divergenceScore := out.Divergence / e.cfg.TickSize
	out.DirectionalProb = 100.0 / (1.0 + math.Exp(-2.0*divergenceScore))

	var rawOFI float64
	if e.hasPrev {
		rawOFI = orderFlowImbalance(e.prevBids[0], bestBid, e.prevAsks[0], bestAsk)
	}
	out.OFI = clip(rawOFI/e.cfg.OFINormalizer, -1, 1)

	e.mids = append(e.mids, snap.MidPrice)
	if len(e.mids) > e.cfg.HistoryWindow {
		e.mids = e.mids[1:]
	}
	out.Volatility = e.rollingVolatility()

	// The L1 volume baseline is refreshed before the spoofing rule reads
	// it, so the very first comparison already sees the current book.
	e.avgL1Vol = (1-alpha)*e.avgL1Vol + alpha*(bestBid.Volume+bestAsk.Volume)/2

	out.Regime = e.classifier.Observe(snap.Timestamp, FeatureVector{
		spreadZ,
		math.Abs(out.OBI),
		out.Volatility,
		math.Abs(out.OFI),
	})
	out.RegimeLabel = out.Regime.Label()

	bidDepth := totalDepth(snap.Bids)
	askDepth := totalDepth(snap.Asks)

	out.Anomalies = e.detectAnomalies(detectorInput{
		obi:          out.OBI,
		bids:         snap.Bids,
		asks:         snap.Asks,
		bidDepth:     bidDepth,
		askDepth:     askDepth,
		prevBidDepth: e.prevBidDepth,
		prevAskDepth: e.prevAskDepth,
		hasPrev:      e.hasPrev,
		regime:       out.Regime,
	})
	out.LiquidityGaps = liquidityGapRisk(snap.Bids, snap.Asks, snap.MidPrice, e.cfg.GapThreshold)

	e.prevBids = append(e.prevBids[:0], snap.Bids...)
	e.prevAsks = append(e.prevAsks[:0], snap.Asks...)
	e.prevBidDepth = bidDepth
	e.prevAskDepth = askDepth
	e.hasPrev = true

	return out
}

// weightedImbalance is the decayed order-book imbalance over the top 5
// levels. Zero when the book carries no volume there.
func weightedImbalance(bids, asks []models.PriceLevel) float64 {
	levels := len(obiWeights)
	if len(bids) < levels {
		levels = len(bids)
	}
	if len(asks) < levels {
		levels = len(asks)
	}
	var num, den float64
	for i := 0; i < levels; i++ {
		w := obiWeights[i]
		num += (bids[i].Volume - asks[i].Volume) * w
		den += (bids[i].Volume + asks[i].Volume) * w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// microprice is the volume-weighted fair price; it collapses to the
// midpoint when both top-of-book volumes are zero.
func microprice(bestBid, bestAsk models.PriceLevel) float64 {
	total := bestBid.Volume + bestAsk.Volume
	if total <= 0 {
		return (bestBid.Price + bestAsk.Price) / 2
	}
	return (bestBid.Volume*bestAsk.Price + bestAsk.Volume*bestBid.Price) / total
}

// orderFlowImbalance applies the L1 transition rules between two
// consecutive snapshots. The ask side contributes with inverted sign
// since growing supply is negative flow.
func orderFlowImbalance(prevBid, curBid, prevAsk, curAsk models.PriceLevel) float64 {
	var ofi float64

	switch {
	case curBid.Price > prevBid.Price:
		ofi += curBid.Volume
	case curBid.Price < prevBid.Price:
		ofi -= prevBid.Volume
	default:
		ofi += curBid.Volume - prevBid.Volume
	}

	switch {
	case curAsk.Price > prevAsk.Price:
		ofi += prevAsk.Volume
	case curAsk.Price < prevAsk.Price:
		ofi -= curAsk.Volume
	default:
		ofi -= curAsk.Volume - prevAsk.Volume
	}

	return ofi
}

// rollingVolatility is the scaled standard deviation of log returns
// over the tail of the mid-price history. Requires at least
// VolSamples+1 observations, otherwise 0.
func (e *Engine) rollingVolatility() float64 {
	need := e.cfg.VolSamples + 1
	if len(e.mids) < need {
		return 0
	}
	window := e.mids[len(e.mids)-need:]
	returns := make([]float64, 0, e.cfg.VolSamples)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance) * 1000
}

func totalDepth(levels []models.PriceLevel) float64 {
	var sum float64
	for _, lvl := range levels {
		sum += lvl.Volume
	}
	return sum
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
