package anomaly

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/SentinelX-Auth/SentinelX/internal/stats"
)

// eulerGamma is the Euler-Mascheroni constant used by the harmonic number
// approximation in averagePathLength.
const eulerGamma = 0.5772156649015329

// ForestConfig controls isolation forest training.
type ForestConfig struct {
	Trees         int     `json:"trees"`
	MaxSamples    int     `json:"max_samples"`
	Contamination float64 `json:"contamination"`
	Seed          uint64  `json:"seed"`
	// RangeMargin bounds the training envelope. A query point lying beyond
	// a feature's training extent by more than RangeMargin times that
	// feature's spread scores as isolated at the root of every tree.
	// Features with no spread are ignored. Zero disables the check.
	RangeMargin float64 `json:"range_margin"`
}

// DefaultForestConfig returns the production training parameters.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          42,
		RangeMargin:   1,
	}
}

// Node is one node of an isolation tree. Leaves have Feature < 0.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Size      int     `json:"n"`
}

// Tree is a flattened isolation tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// IsolationForest is a fitted novelty detector.
type IsolationForest struct {
	Trees         []Tree    `json:"trees"`
	SampleSize    int       `json:"sample_size"`
	Offset        float64   `json:"offset"`
	Contamination float64   `json:"contamination"`
	RangeMargin   float64   `json:"range_margin"`
	Lo            []float64 `json:"lo,omitempty"` // per-feature training minimum
	Hi            []float64 `json:"hi,omitempty"` // per-feature training maximum
}

// FitForest trains a forest over standardized rows. Trees are grown in
// parallel from per-tree seeds drawn up front, so the result depends only on
// cfg.Seed. Cancelling ctx aborts training and returns ctx's error.
func FitForest(ctx context.Context, rows [][]float64, cfg ForestConfig) (*IsolationForest, error) {
	n := len(rows)
	if n == 0 {
		return nil, ErrInsufficientSamples
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultForestConfig().Trees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultForestConfig().MaxSamples
	}

	psi := min(cfg.MaxSamples, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	seeder := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	seeds := make([]uint64, cfg.Trees)
	for i := range seeds {
		seeds[i] = seeder.Uint64()
	}

	f := &IsolationForest{
		Trees:         make([]Tree, cfg.Trees),
		SampleSize:    psi,
		Contamination: cfg.Contamination,
		RangeMargin:   cfg.RangeMargin,
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	dims := len(rows[0])
	f.Lo, f.Hi = make([]float64, dims), make([]float64, dims)
	for d := 0; d < dims; d++ {
		f.Lo[d], f.Hi[d] = extent(rows, all, d)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range f.Trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seeds[i], uint64(i)))
			subset := rng.Perm(n)[:psi]
			var t Tree
			t.grow(rows, subset, 0, maxDepth, rng)
			f.Trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]float64, n)
	for i, r := range rows {
		scores[i] = f.ScoreSamples(r)
	}
	sort.Float64s(scores)
	f.Offset = stats.PercentileSorted(scores, 100*cfg.Contamination)

	return f, nil
}

// grow appends the subtree for idx and returns its node index.
func (t *Tree) grow(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: -1, Size: len(idx)})
	if depth >= maxDepth || len(idx) < 2 {
		return id
	}

	// Only features with spread inside this node can split it.
	dims := len(rows[idx[0]])
	candidates := make([]int, 0, dims)
	for f := 0; f < dims; f++ {
		lo, hi := extent(rows, idx, f)
		if hi > lo {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return id
	}

	feature := candidates[rng.IntN(len(candidates))]
	lo, hi := extent(rows, idx, feature)
	threshold := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if rows[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := t.grow(rows, left, depth+1, maxDepth, rng)
	r := t.grow(rows, right, depth+1, maxDepth, rng)
	t.Nodes[id] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      l,
		Right:     r,
		Size:      len(idx),
	}
	return id
}

func extent(rows [][]float64, idx []int, f int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := rows[i][f]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// pathLength returns the isolation depth of x, adjusted at leaves by the
// expected depth of the points that were not separated further.
func (t *Tree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is the mean depth of an unsuccessful search in a binary
// search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// Outside reports whether x leaves the training envelope widened by
// RangeMargin.
func (f *IsolationForest) Outside(x []float64) bool {
	if f.RangeMargin <= 0 || len(f.Lo) != len(x) {
		return false
	}
	for d, v := range x {
		spread := f.Hi[d] - f.Lo[d]
		if spread <= 0 {
			continue
		}
		pad := f.RangeMargin * spread
		if v < f.Lo[d]-pad || v > f.Hi[d]+pad {
			return true
		}
	}
	return false
}

// ScoreSamples returns the opposite of the anomaly score of x,
// -2^(-E[h(x)]/c(psi)): values lie in [-1, 0) and lower means more
// anomalous. Points outside the training envelope have E[h(x)] = 0.
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	if len(f.Trees) == 0 || f.Outside(x) {
		return -1
	}
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	c := averagePathLength(f.SampleSize)
	if c == 0 {
		return -1
	}
	return -math.Pow(2, -mean/c)
}

// Decision returns ScoreSamples shifted by the contamination offset.
// Non-negative values are inliers.
func (f *IsolationForest) Decision(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}
