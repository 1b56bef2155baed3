// Package services holds the auxiliary services layered on top of the
// session pipeline: mid-price technical indicators and the anomaly
// notifier.
package services

import (
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"

	"github.com/quantfold/lobstream/internal/models"
)

// IndicatorResult is one computed indicator series over the buffered
// mid prices.
type IndicatorResult struct {
	Name      string            `json:"name"`
	Values    []decimal.Decimal `json:"values"`
	Timestamp time.Time         `json:"timestamp"`
}

// IndicatorConfig sets the lookback periods.
type IndicatorConfig struct {
	SMAPeriod int `mapstructure:"sma_period"`
	EMAPeriod int `mapstructure:"ema_period"`
	RSIPeriod int `mapstructure:"rsi_period"`
}

// DefaultIndicatorConfig returns the standard short-horizon periods.
func DefaultIndicatorConfig() IndicatorConfig {
	return IndicatorConfig{SMAPeriod: 20, EMAPeriod: 20, RSIPeriod: 14}
}

// IndicatorService computes technical indicators over the mid-price
// series of a session's buffer.
type IndicatorService struct {
	cfg IndicatorConfig
}

// NewIndicatorService creates the service; zero or negative periods are
// replaced with defaults.
func NewIndicatorService(cfg IndicatorConfig) *IndicatorService {
	def := DefaultIndicatorConfig()
	if cfg.SMAPeriod <= 0 {
		cfg.SMAPeriod = def.SMAPeriod
	}
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = def.EMAPeriod
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	return &IndicatorService{cfg: cfg}
}

// Compute extracts the mid-price series and returns every indicator
// with enough data. Short series simply yield fewer results.
func (s *IndicatorService) Compute(snapshots []models.EnrichedSnapshot) []IndicatorResult {
	prices := make([]float64, len(snapshots))
	for i, snap := range snapshots {
		prices[i] = snap.MidPrice
	}

	results := []IndicatorResult{}
	if r := s.computeSMA(prices); r != nil {
		results = append(results, *r)
	}
	if r := s.computeEMA(prices); r != nil {
		results = append(results, *r)
	}
	if r := s.computeRSI(prices); r != nil {
		results = append(results, *r)
	}
	return results
}

func (s *IndicatorService) computeSMA(prices []float64) *IndicatorResult {
	if len(prices) < s.cfg.SMAPeriod {
		return nil
	}
	smaIndicator := trend.NewSmaWithPeriod[float64](s.cfg.SMAPeriod)
	result := helper.ChanToSlice(smaIndicator.Compute(helper.SliceToChan(prices)))
	return newResult(fmt.Sprintf("SMA_%d", s.cfg.SMAPeriod), result)
}

func (s *IndicatorService) computeEMA(prices []float64) *IndicatorResult {
	if len(prices) < s.cfg.EMAPeriod {
		return nil
	}
	emaIndicator := trend.NewEmaWithPeriod[float64](s.cfg.EMAPeriod)
	result := helper.ChanToSlice(emaIndicator.Compute(helper.SliceToChan(prices)))
	return newResult(fmt.Sprintf("EMA_%d", s.cfg.EMAPeriod), result)
}

func (s *IndicatorService) computeRSI(prices []float64) *IndicatorResult {
	if len(prices) < s.cfg.RSIPeriod+1 {
		return nil
	}
	rsiIndicator := momentum.NewRsiWithPeriod[float64](s.cfg.RSIPeriod)
	result := helper.ChanToSlice(rsiIndicator.Compute(helper.SliceToChan(prices)))
	return newResult(fmt.Sprintf("RSI_%d", s.cfg.RSIPeriod), result)
}

func newResult(name string, values []float64) *IndicatorResult {
	decimals := make([]decimal.Decimal, len(values))
	for i, v := range values {
		decimals[i] = decimal.NewFromFloat(v)
	}
	return &IndicatorResult{Name: name, Values: decimals, Timestamp: time.Now().UTC()}
}
