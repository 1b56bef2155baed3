package analytics

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/lobstream/internal/models"
)

// FeatureVector is the per-snapshot clustering input:
// [spread z-score, |obi|, volatility, |normalized ofi|].
type FeatureVector [4]float64

const regimeClusters = 4

// RegimeClassifier maintains an online 4-means model over a rolling
// feature window. Refits are synchronous inside Observe; the cost is
// bounded by the window size, which shows up as a small latency spike
// roughly once per refit interval.
//
// Raw cluster indices are unstable across refits, so each refit ranks
// the cluster centers by a stress score and the ranking array maps raw
// index to a stable regime id (0 calmest .. 3 most stressed). The
// ranking swap happens under the lock so concurrent readers never see a
// half-updated mapping.
type RegimeClassifier struct {
	mu sync.RWMutex

	window     []FeatureVector
	maxWindow  int
	minSamples int
	refitEvery time.Duration

	fitted  bool
	lastFit time.Time
	centers []FeatureVector
	ranking [regimeClusters]models.Regime

	rng *rand.Rand
}

// NewRegimeClassifier creates an unfitted classifier. Until the first
// fit every observation is labeled Calm.
func NewRegimeClassifier(window, minSamples int, refitEvery time.Duration) *RegimeClassifier {
	return &RegimeClassifier{
		window:     make([]FeatureVector, 0, window),
		maxWindow:  window,
		minSamples: minSamples,
		refitEvery: refitEvery,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Observe appends a feature vector to the window, refits the model when
// the schedule calls for it, and returns the regime of the vector under
// the current model.
func (c *RegimeClassifier) Observe(now time.Time, feat FeatureVector) models.Regime {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = append(c.window, feat)
	if len(c.window) > c.maxWindow {
		c.window = c.window[1:]
	}

	if len(c.window) > c.minSamples && (!c.fitted || now.Sub(c.lastFit) >= c.refitEvery) {
		c.refit(now)
	}

	if !c.fitted {
		return models.RegimeCalm
	}
	return c.ranking[nearestCenter(c.centers, feat)]
}

// Fitted reports whether the model has been trained at least once.
func (c *RegimeClassifier) Fitted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fitted
}

// refit retrains the cluster model on the whole window and recomputes
// the stress ranking. Caller holds the lock.
func (c *RegimeClassifier) refit(now time.Time) {
	centers := kmeans(c.window, regimeClusters, c.rng)
	if len(centers) < regimeClusters {
		return
	}

	// Stress score per center: spread z + volatility + ofi component.
	type scored struct {
		idx    int
		stress float64
	}
	ranked := make([]scored, regimeClusters)
	for i, center := range centers {
		ranked[i] = scored{idx: i, stress: center[0] + center[2] + center[3]}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].stress < ranked[b].stress })

	var ranking [regimeClusters]models.Regime
	for rank, s := range ranked {
		ranking[s.idx] = models.Regime(rank)
	}

	c.centers = centers
	c.ranking = ranking
	c.fitted = true
	c.lastFit = now
}

func nearestCenter(centers []FeatureVector, feat FeatureVector) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, center := range centers {
		if d := sqDist(center, feat); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func sqDist(a, b FeatureVector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

const kmeansMaxIterations = 50

// kmeans runs Lloyd's algorithm with k-means++ seeding. The feature
// space is tiny (4 dims, <=600 points), so a dependency-free
// implementation is both faster and simpler than pulling in a full ML
// stack.
func kmeans(points []FeatureVector, k int, rng *rand.Rand) []FeatureVector {
	if len(points) < k {
		return nil
	}

	centers := seedCenters(points, k, rng)
	assignments := make([]int, len(points))

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, p := range points {
			nearest := nearestCenter(centers, p)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		var sums [regimeClusters]FeatureVector
		var counts [regimeClusters]int
		for i, p := range points {
			cluster := assignments[i]
			counts[cluster]++
			for d := range p {
				sums[cluster][d] += p[d]
			}
		}
		for ci := 0; ci < k; ci++ {
			if counts[ci] == 0 {
				// Empty cluster: reseed from the point farthest from
				// its current center.
				centers[ci] = farthestPoint(points, centers, assignments)
				continue
			}
			for d := range sums[ci] {
				centers[ci][d] = sums[ci][d] / float64(counts[ci])
			}
		}
	}

	return centers
}

// seedCenters picks initial centers with the k-means++ strategy:
// subsequent centers are drawn proportionally to their squared distance
// from the nearest existing center.
func seedCenters(points []FeatureVector, k int, rng *rand.Rand) []FeatureVector {
	centers := make([]FeatureVector, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])

	for len(centers) < k {
		dists := make([]float64, len(points))
		var total float64
		for i, p := range points {
			d := sqDist(centers[nearestCenter(centers, p)], p)
			dists[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a center.
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		var cum float64
		picked := len(points) - 1
		for i, d := range dists {
			cum += d
			if cum >= target {
				picked = i
				break
			}
		}
		centers = append(centers, points[picked])
	}
	return centers
}

func farthestPoint(points, centers []FeatureVector, assignments []int) FeatureVector {
	best := points[0]
	bestDist := -1.0
	for i, p := range points {
		d := sqDist(centers[assignments[i]], p)
		if d > bestDist {
			bestDist = d
			best = p
		}
	}
	return best
}
