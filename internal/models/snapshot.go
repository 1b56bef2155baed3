package models

import (
	"time"
)

// PriceLevel is a single resting level of the order book.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Snapshot represents a raw top-of-book snapshot from any source.
// Bids are sorted descending by price, asks ascending, so index 0 is
// the best level on each side.
type Snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	MidPrice  float64      `json:"mid_price"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// BookDepth is the number of levels every source must supply per side.
const BookDepth = 10

// Regime is the coarse market-stress label produced by the online
// classifier. Values are ranked: 0 is the calmest cluster, 3 the most
// stressed.
type Regime int

const (
	RegimeCalm Regime = iota
	RegimeStressed
	RegimeExecutionHot
	RegimeManipulation
)

var regimeLabels = map[Regime]string{
	RegimeCalm:         "Calm",
	RegimeStressed:     "Stressed",
	RegimeExecutionHot: "Execution Hot",
	RegimeManipulation: "Manipulation Suspected",
}

// Label returns the human-readable name for the regime.
func (r Regime) Label() string {
	if label, ok := regimeLabels[r]; ok {
		return label
	}
	return "Unknown"
}

// Anomaly types emitted by the detector rule set.
const (
	AnomalyHeavyImbalance = "HEAVY_IMBALANCE"
	AnomalyLiquidityGap   = "LIQUIDITY_GAP"
	AnomalyDepthShock     = "DEPTH_SHOCK"
	AnomalySpoofing       = "SPOOFING"
	AnomalyRegimeStress   = "REGIME_STRESS"
	AnomalyRegimeCrisis   = "REGIME_CRISIS"
)

// Anomaly severities.
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// AnomalyEvent is a single detector finding. Message is informational
// only; consumers must branch on Type and Severity.
type AnomalyEvent struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// GapEvent describes a thin book level with its scored fill risk.
type GapEvent struct {
	Price           float64 `json:"price"`
	Volume          float64 `json:"volume"`
	Side            string  `json:"side"`
	Level           int     `json:"level"`
	DistanceFromMid float64 `json:"distance_from_mid"`
	RiskScore       float64 `json:"risk_score"`
}

// Gap sides.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// EnrichedSnapshot is the fully-typed output of the analytics engine.
// Every field is always present; empty slices rather than nil are used
// for the anomaly and gap lists so the wire shape never changes.
type EnrichedSnapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	MidPrice        float64        `json:"mid_price"`
	Bids            []PriceLevel   `json:"bids"`
	Asks            []PriceLevel   `json:"asks"`
	BestBid         float64        `json:"best_bid"`
	BestAsk         float64        `json:"best_ask"`
	BidVolume       float64        `json:"q_bid"`
	AskVolume       float64        `json:"q_ask"`
	Spread          float64        `json:"spread"`
	OBI             float64        `json:"obi"`
	OFI             float64        `json:"ofi"`
	Microprice      float64        `json:"microprice"`
	Divergence      float64        `json:"divergence"`
	DirectionalProb float64        `json:"directional_prob"`
	Volatility      float64        `json:"volatility"`
	Regime          Regime         `json:"regime"`
	RegimeLabel     string         `json:"regime_label"`
	Anomalies       []AnomalyEvent `json:"anomalies"`
	LiquidityGaps   []GapEvent     `json:"liquidity_gaps"`
}

// TimestampedAnomaly tags an anomaly with the timestamp of the snapshot
// it was detected on, for the flattened anomaly listing.
type TimestampedAnomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

// OrderRequest is the inbound websocket control message that injects a
// demand or supply shock into the synthetic generator.
type OrderRequest struct {
	Type     string `json:"type"`
	Side     string `json:"side"`
	Quantity int    `json:"quantity"`
}
