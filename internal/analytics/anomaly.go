package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/quantfold/lobstream/internal/models"
)

// Detector thresholds. These are part of the engine contract; tests pin
// the edge cases.
const (
	heavyImbalanceThreshold = 0.5
	gapNoiseFloor           = 0.5
	depthShockRatio         = 0.30
	spoofingBuildFactor     = 2.0
	spoofingCancelFactor    = 0.2
	spoofingPriceTolerance  = 0.001
	gapScanLevels           = 5
	maxGapEvents            = 5
)

type detectorInput struct {
	obi          float64
	bids         []models.PriceLevel
	asks         []models.PriceLevel
	bidDepth     float64
	askDepth     float64
	prevBidDepth float64
	prevAskDepth float64
	hasPrev      bool
	regime       models.Regime
}

// detectAnomalies evaluates the rule set in a fixed order so the output
// list is reproducible. Each rule is independent; none can abort the
// others.
func (e *Engine) detectAnomalies(in detectorInput) []models.AnomalyEvent {
	anomalies := []models.AnomalyEvent{}

	if ev, ok := detectHeavyImbalance(in.obi); ok {
		anomalies = append(anomalies, ev)
	}
	if ev, ok := detectLiquidityGap(in.bids, in.asks); ok {
		anomalies = append(anomalies, ev)
	}
	anomalies = append(anomalies, detectDepthShock(in)...)
	anomalies = append(anomalies, e.detectSpoofing(in)...)
	anomalies = append(anomalies, detectRegimeAlerts(in.regime)...)

	return anomalies
}

func detectHeavyImbalance(obi float64) (models.AnomalyEvent, bool) {
	if math.Abs(obi) <= heavyImbalanceThreshold {
		return models.AnomalyEvent{}, false
	}
	direction := "BUY"
	if obi < 0 {
		direction = "SELL"
	}
	return models.AnomalyEvent{
		Type:     models.AnomalyHeavyImbalance,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("Heavy %s pressure (OBI: %.2f)", direction, obi),
	}, true
}

// detectLiquidityGap flags top-5 levels whose resting volume sits below
// the absolute noise floor.
func detectLiquidityGap(bids, asks []models.PriceLevel) (models.AnomalyEvent, bool) {
	var thin []string
	for i := 0; i < len(bids) && i < gapScanLevels; i++ {
		if bids[i].Volume < gapNoiseFloor {
			thin = append(thin, fmt.Sprintf("B%d", i+1))
		}
	}
	for i := 0; i < len(asks) && i < gapScanLevels; i++ {
		if asks[i].Volume < gapNoiseFloor {
			thin = append(thin, fmt.Sprintf("A%d", i+1))
		}
	}
	if len(thin) == 0 {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		Type:     models.AnomalyLiquidityGap,
		Severity: models.SeverityMedium,
		Message:  fmt.Sprintf("Thin liquidity at levels %s", strings.Join(thin, ", ")),
	}, true
}

// detectDepthShock fires per side when total depth collapses more than
// 30% against the previous snapshot. Never fires on the first snapshot.
func detectDepthShock(in detectorInput) []models.AnomalyEvent {
	if !in.hasPrev {
		return nil
	}
	var events []models.AnomalyEvent
	if in.prevBidDepth > 0 {
		drop := (in.prevBidDepth - in.bidDepth) / in.prevBidDepth
		if drop > depthShockRatio {
			events = append(events, models.AnomalyEvent{
				Type:     models.AnomalyDepthShock,
				Severity: models.SeverityHigh,
				Message:  fmt.Sprintf("Bid depth dropped %.0f%%", drop*100),
			})
		}
	}
	if in.prevAskDepth > 0 {
		drop := (in.prevAskDepth - in.askDepth) / in.prevAskDepth
		if drop > depthShockRatio {
			events = append(events, models.AnomalyEvent{
				Type:     models.AnomalyDepthShock,
				Severity: models.SeverityHigh,
				Message:  fmt.Sprintf("Ask depth dropped %.0f%%", drop*100),
			})
		}
	}
	return events
}

// detectSpoofing looks for a large L1 order that vanished without the
// price moving: previous volume above 2x the smoothed L1 average,
// current volume below 0.2x, price within tolerance.
func (e *Engine) detectSpoofing(in detectorInput) []models.AnomalyEvent {
	if !e.hasPrev || len(in.bids) == 0 || len(in.asks) == 0 {
		return nil
	}
	var events []models.AnomalyEvent
	sides := []struct {
		name string
		prev models.PriceLevel
		cur  models.PriceLevel
	}{
		{"bid", e.prevBids[0], in.bids[0]},
		{"ask", e.prevAsks[0], in.asks[0]},
	}
	for _, s := range sides {
		if s.prev.Volume > spoofingBuildFactor*e.avgL1Vol &&
			s.cur.Volume < spoofingCancelFactor*e.avgL1Vol &&
			math.Abs(s.cur.Price-s.prev.Price) < spoofingPriceTolerance {
			events = append(events, models.AnomalyEvent{
				Type:     models.AnomalySpoofing,
				Severity: models.SeverityCritical,
				Message: fmt.Sprintf("Possible spoofing on %s: L1 volume %.1f -> %.1f with no price move",
					s.name, s.prev.Volume, s.cur.Volume),
			})
		}
	}
	return events
}

func detectRegimeAlerts(regime models.Regime) []models.AnomalyEvent {
	switch regime {
	case models.RegimeStressed:
		return []models.AnomalyEvent{{
			Type:     models.AnomalyRegimeStress,
			Severity: models.SeverityMedium,
			Message:  "Market regime classified as Stressed",
		}}
	case models.RegimeManipulation:
		return []models.AnomalyEvent{{
			Type:     models.AnomalyRegimeCrisis,
			Severity: models.SeverityCritical,
			Message:  "Market regime classified as Manipulation Suspected",
		}}
	default:
		return nil
	}
}

// liquidityGapRisk scores every level with volume below the configured
// gap threshold. Risk decays with distance from mid and scales with how
// empty the level is; the top 5 by score are returned, descending.
func liquidityGapRisk(bids, asks []models.PriceLevel, mid, threshold float64) []models.GapEvent {
	gaps := []models.GapEvent{}
	if threshold <= 0 {
		return gaps
	}

	score := func(lvl models.PriceLevel, side string, rank int) models.GapEvent {
		dist := math.Abs(lvl.Price - mid)
		risk := (1 - lvl.Volume/threshold) * (1 / (1 + 10*dist)) * 100
		return models.GapEvent{
			Price:           lvl.Price,
			Volume:          lvl.Volume,
			Side:            side,
			Level:           rank,
			DistanceFromMid: dist,
			RiskScore:       risk,
		}
	}

	for i, lvl := range bids {
		if lvl.Volume < threshold {
			gaps = append(gaps, score(lvl, models.SideBid, i+1))
		}
	}
	for i, lvl := range asks {
		if lvl.Volume < threshold {
			gaps = append(gaps, score(lvl, models.SideAsk, i+1))
		}
	}

	sort.Slice(gaps, func(a, b int) bool { return gaps[a].RiskScore > gaps[b].RiskScore })
	if len(gaps) > maxGapEvents {
		gaps = gaps[:maxGapEvents]
	}
	return gaps
}
