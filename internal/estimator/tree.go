package estimator

import (
	"math"
	"math/rand"
	"sort"
)

const minGain = 1e-12

type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

func (n treeNode) isLeaf() bool {
	return n.Left < 0
}

// regressionTree is grown on first and second order gradients. With
// grad = -y, hess = 1 and lambda = 0 the leaves are target means and the
// split gain is the squared error reduction of a plain CART regressor.
type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

type treeConfig struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	minChildWeight  float64
	lambda          float64
	gamma           float64
	maxFeatures     int
	rng             *rand.Rand
}

type treeBuilder struct {
	X    [][]float64
	grad []float64
	hess []float64
	cfg  treeConfig
	tree *regressionTree
}

func growTree(X [][]float64, grad, hess []float64, rows []int, cfg treeConfig) *regressionTree {
	b := &treeBuilder{X: X, grad: grad, hess: hess, cfg: cfg, tree: &regressionTree{}}
	b.grow(rows, 0)
	return b.tree
}

func (b *treeBuilder) sums(rows []int) (float64, float64) {
	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}
	return g, h
}

func (b *treeBuilder) leafValue(g, h float64) float64 {
	denom := h + b.cfg.lambda
	if denom == 0 {
		return 0
	}
	return -g / denom
}

func (b *treeBuilder) score(g, h float64) float64 {
	denom := h + b.cfg.lambda
	if denom == 0 {
		return 0
	}
	return g * g / denom
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	g, h := b.sums(rows)
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{Left: -1, Right: -1, Value: b.leafValue(g, h)})

	if b.cfg.maxDepth > 0 && depth >= b.cfg.maxDepth {
		return idx
	}
	if len(rows) < b.cfg.minSamplesSplit || len(rows) < 2*b.cfg.minSamplesLeaf {
		return idx
	}

	feature, threshold, ok := b.bestSplit(rows, g, h)
	if !ok {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[idx].Feature = feature
	b.tree.Nodes[idx].Threshold = threshold
	b.tree.Nodes[idx].Left = l
	b.tree.Nodes[idx].Right = r
	return idx
}

func (b *treeBuilder) candidateFeatures() []int {
	width := len(b.X[0])
	if b.cfg.maxFeatures <= 0 || b.cfg.maxFeatures >= width || b.cfg.rng == nil {
		features := make([]int, width)
		for i := range features {
			features[i] = i
		}
		return features
	}
	return b.cfg.rng.Perm(width)[:b.cfg.maxFeatures]
}

func (b *treeBuilder) bestSplit(rows []int, g, h float64) (int, float64, bool) {
	parent := b.score(g, h)
	bestGain := minGain
	bestFeature, bestThreshold, found := 0, 0.0, false

	sorted := make([]int, len(rows))
	for _, f := range b.candidateFeatures() {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		var gl, hl float64
		for i := 0; i < len(sorted)-1; i++ {
			gl += b.grad[sorted[i]]
			hl += b.hess[sorted[i]]
			cur, next := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if cur == next {
				continue
			}
			nl, nr := i+1, len(sorted)-i-1
			if nl < b.cfg.minSamplesLeaf || nr < b.cfg.minSamplesLeaf {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.cfg.minChildWeight || hr < b.cfg.minChildWeight {
				continue
			}
			gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.cfg.gamma
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (t *regressionTree) predict(row []float64) float64 {
	if len(t.Nodes) == 0 {
		return math.NaN()
	}
	n := t.Nodes[0]
	for !n.isLeaf() {
		if row[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}
