package source

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

// SyntheticConfig tunes the random-walk generator.
type SyntheticConfig struct {
	StartPrice  float64       `mapstructure:"start_price"`
	SpreadMean  float64       `mapstructure:"spread_mean"`
	SpreadStd   float64       `mapstructure:"spread_std"`
	TickSize    float64       `mapstructure:"tick_size"`
	DepthLevels int           `mapstructure:"depth_levels"`
	TimeStep    time.Duration `mapstructure:"time_step"`
	Seed        int64         `mapstructure:"seed"`
}

// DefaultSyntheticConfig returns the generator parameters of the
// reference simulator.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		StartPrice:  100.0,
		SpreadMean:  0.05,
		SpreadStd:   0.02,
		TickSize:    0.01,
		DepthLevels: models.BookDepth,
		TimeStep:    100 * time.Millisecond,
		Seed:        0,
	}
}

const orderShockMagnitude = 0.5

// Synthetic generates random-walk snapshots on its own goroutine and
// hands them to the consumer over a single-producer/single-consumer
// channel, keeping generation cadence off the broadcast path. The send
// blocks when the consumer stalls, so nothing is ever dropped; the
// backlog is bounded by the channel capacity at the cost of the
// producer pausing.
type Synthetic struct {
	cfg   SyntheticConfig
	rng   *rand.Rand
	delay func() time.Duration

	mu           sync.Mutex
	pendingShock float64

	tradedVolume atomic.Int64

	price float64
	clock time.Time

	out    chan models.Snapshot
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynthetic creates a generator. delay is polled between snapshots
// so speed changes take effect without restarting the producer; a nil
// delay falls back to the configured time step.
func NewSynthetic(cfg SyntheticConfig, delay func() time.Duration) *Synthetic {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = models.BookDepth
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Synthetic{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		delay: delay,
		price: cfg.StartPrice,
		clock: time.Now(),
		out:   make(chan models.Snapshot, 64),
	}
	if s.delay == nil {
		s.delay = func() time.Duration { return cfg.TimeStep }
	}
	return s
}

// Start launches the producer goroutine.
func (s *Synthetic) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.produce(ctx)
}

func (s *Synthetic) produce(ctx context.Context) {
	defer s.wg.Done()
	for {
		snap := s.generate()
		select {
		case <-ctx.Done():
			return
		case s.out <- snap:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay()):
		}
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) BaseDelay() time.Duration { return s.cfg.TimeStep }

// Next hands over the next generated snapshot. The cursor is ignored:
// generated data has no replay position.
func (s *Synthetic) Next(ctx context.Context, _ time.Time) (models.Snapshot, error) {
	select {
	case <-ctx.Done():
		return models.Snapshot{}, ctx.Err()
	case snap := <-s.out:
		return snap, nil
	}
}

func (s *Synthetic) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// InjectOrder applies a fixed-magnitude demand or supply shock to the
// next generated snapshot and accumulates the traded volume counter.
func (s *Synthetic) InjectOrder(side string, quantity int) {
	shock := orderShockMagnitude
	if side == "sell" {
		shock = -orderShockMagnitude
	}
	s.mu.Lock()
	s.pendingShock += shock
	s.mu.Unlock()
	s.tradedVolume.Add(int64(quantity))
	logrus.WithFields(logrus.Fields{
		"side":     side,
		"quantity": quantity,
	}).Debug("Injected order shock into synthetic feed")
}

// TradedVolume returns the cumulative injected order quantity.
func (s *Synthetic) TradedVolume() int64 {
	return s.tradedVolume.Load()
}

// generate advances the random walk one step and builds a full L2 book
// around it. Volume is thickest a couple of ticks behind the touch, and
// a directional pressure derived from the price shock shifts volume
// between the two sides.
func (s *Synthetic) generate() models.Snapshot {
	s.clock = s.clock.Add(s.cfg.TimeStep)

	shock := s.rng.NormFloat64() * 0.1
	s.mu.Lock()
	shock += s.pendingShock
	s.pendingShock = 0
	s.mu.Unlock()
	s.price += shock

	spread := math.Max(s.cfg.TickSize, s.rng.NormFloat64()*s.cfg.SpreadStd+s.cfg.SpreadMean)
	if s.rng.Float64() < 0.05 {
		// Liquidity withdrawal regime: spread blows out 3x-5x.
		spread *= 3 + 2*s.rng.Float64()
	}

	mid := s.price
	bestBid := mid - spread/2
	bestAsk := mid + spread/2
	pressure := clamp(shock*2, -orderShockMagnitude, orderShockMagnitude)

	bids := make([]models.PriceLevel, s.cfg.DepthLevels)
	asks := make([]models.PriceLevel, s.cfg.DepthLevels)
	for i := 0; i < s.cfg.DepthLevels; i++ {
		shape := 1000 * (1 + math.Exp(-0.5*float64(i-2)*float64(i-2)))
		bidVol := math.Max(10, s.rng.NormFloat64()*shape*0.2+shape) * (1 + pressure)
		askVol := math.Max(10, s.rng.NormFloat64()*shape*0.2+shape) * (1 - pressure)
		bids[i] = models.PriceLevel{
			Price:  round2(bestBid - float64(i)*s.cfg.TickSize),
			Volume: math.Floor(bidVol),
		}
		asks[i] = models.PriceLevel{
			Price:  round2(bestAsk + float64(i)*s.cfg.TickSize),
			Volume: math.Floor(askVol),
		}
	}

	return models.Snapshot{
		Timestamp: s.clock,
		MidPrice:  round2(mid),
		Bids:      bids,
		Asks:      asks,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
