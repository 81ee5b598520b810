package bundle

import (
	"math/rand/v2"
	"sort"
)

// splitEpsilon is the minimum impurity decrease a split must achieve.
const splitEpsilon = 1e-12

type cartParams struct {
	maxDepth int
	minSplit int
	minLeaf  int
	mtry     int
}

// treeBuilder grows one CART tree on a weighted sample. Nodes are appended
// in preorder, so every child index is greater than its parent's.
type treeBuilder struct {
	x       [][]float64
	y       []int
	w       []float64
	classes int
	params  cartParams
	rng     *rand.Rand
	nodes   []Node
}

func newTreeBuilder(x [][]float64, y []int, w []float64, classes int, params cartParams, rng *rand.Rand) *treeBuilder {
	return &treeBuilder{x: x, y: y, w: w, classes: classes, params: params, rng: rng}
}

func (b *treeBuilder) fit(idx []int) Tree {
	b.nodes = nil
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	dist, total := b.distribution(idx)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: proportions(dist, total)})

	if depth >= b.params.maxDepth ||
		len(idx) < b.params.minSplit ||
		len(idx) < 2*b.params.minLeaf ||
		gini(dist, total) <= splitEpsilon {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, dist, total)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

func (b *treeBuilder) distribution(idx []int) ([]float64, float64) {
	dist := make([]float64, b.classes)
	for _, i := range idx {
		dist[b.y[i]] += b.w[i]
	}
	var total float64
	for _, d := range dist {
		total += d
	}
	return dist, total
}

// bestSplit scans mtry randomly chosen features for the threshold with the
// lowest weighted child Gini impurity.
func (b *treeBuilder) bestSplit(idx []int, parent []float64, total float64) (int, float64, bool) {
	nFeatures := len(b.x[idx[0]])
	mtry := min(b.params.mtry, nFeatures)
	candidates := b.rng.Perm(nFeatures)[:mtry]

	best := gini(parent, total) - splitEpsilon
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	left := make([]float64, b.classes)
	right := make([]float64, b.classes)

	for _, f := range candidates {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		clear(left)
		var wl float64
		for i := 0; i < len(sorted)-1; i++ {
			s := sorted[i]
			left[b.y[s]] += b.w[s]
			wl += b.w[s]

			lo, hi := b.x[s][f], b.x[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			nl := i + 1
			if nl < b.params.minLeaf || len(sorted)-nl < b.params.minLeaf {
				continue
			}

			var wr float64
			for k := range right {
				right[k] = parent[k] - left[k]
				if right[k] < 0 {
					right[k] = 0
				}
				wr += right[k]
			}
			score := (wl*gini(left, wl) + wr*gini(right, wr)) / total
			if score < best {
				best = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, d := range dist {
		p := d / total
		g -= p * p
	}
	return g
}

func proportions(dist []float64, total float64) []float64 {
	out := make([]float64, len(dist))
	if total <= 0 {
		return out
	}
	for k, d := range dist {
		out[k] = d / total
		if out[k] > 1 {
			out[k] = 1
		}
	}
	return out
}
