package bundle

import (
	"math"

	"github.com/rotisserie/eris"
)

// leaf marks a node without a split.
const leaf = -1

// Node is one CART node. Internal nodes send x[Feature] <= Threshold left.
// Value holds the node's normalized class distribution.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      int       `json:"left,omitempty"`
	Right     int       `json:"right,omitempty"`
	Value     []float64 `json:"value"`
}

// Tree is a flattened decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a random forest classifier.
type Forest struct {
	Classes   []string `json:"classes"`
	NFeatures int      `json:"n_features"`
	Trees     []Tree   `json:"trees"`
}

func (t *Tree) leafFor(x []float64) int {
	i := 0
	for t.Nodes[i].Feature != leaf {
		n := &t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// predictRow averages the leaf distributions of every tree.
func (f *Forest) predictRow(x []float64) []float64 {
	out := make([]float64, len(f.Classes))
	for ti := range f.Trees {
		t := &f.Trees[ti]
		v := t.Nodes[t.leafFor(x)].Value
		for k := range out {
			out[k] += v[k]
		}
	}
	n := float64(len(f.Trees))
	for k := range out {
		out[k] /= n
	}
	return out
}

// contributions credits each split feature with the change in the class-k
// probability along the decision path, averaged over trees. The result plus
// bias(k) equals predictRow(x)[k].
func (f *Forest) contributions(x []float64, k int) []float64 {
	out := make([]float64, f.NFeatures)
	for ti := range f.Trees {
		t := &f.Trees[ti]
		i := 0
		for t.Nodes[i].Feature != leaf {
			n := &t.Nodes[i]
			next := n.Right
			if x[n.Feature] <= n.Threshold {
				next = n.Left
			}
			out[n.Feature] += t.Nodes[next].Value[k] - n.Value[k]
			i = next
		}
	}
	trees := float64(len(f.Trees))
	for j := range out {
		out[j] /= trees
	}
	return out
}

// bias is the mean root value for class k.
func (f *Forest) bias(k int) float64 {
	var sum float64
	for ti := range f.Trees {
		sum += f.Trees[ti].Nodes[0].Value[k]
	}
	return sum / float64(len(f.Trees))
}

// validate checks structural invariants once at load time so prediction can
// index without bounds surprises. Children must come after their parent,
// which rules out cycles.
func (f *Forest) validate() error {
	if len(f.Classes) == 0 {
		return eris.New("bundle: forest has no classes")
	}
	if len(f.Trees) == 0 {
		return eris.New("bundle: forest has no trees")
	}
	if f.NFeatures <= 0 {
		return eris.New("bundle: forest has no input features")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return eris.Errorf("bundle: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if len(n.Value) != len(f.Classes) {
				return eris.Errorf("bundle: tree %d node %d has %d values for %d classes", ti, ni, len(n.Value), len(f.Classes))
			}
			for _, v := range n.Value {
				if math.IsNaN(v) || v < 0 || v > 1 {
					return eris.Errorf("bundle: tree %d node %d has invalid class value %v", ti, ni, v)
				}
			}
			if n.Feature == leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures {
				return eris.Errorf("bundle: tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, f.NFeatures)
			}
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return eris.Errorf("bundle: tree %d node %d has invalid children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}
