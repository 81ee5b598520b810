package bundle

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/features"
)

// NumericColumn is a standard-scaled numeric input.
type NumericColumn struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// CategoricalColumn is a one-hot encoded categorical input. Values outside
// Categories encode as all zeros.
type CategoricalColumn struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// Preprocessor scales numeric columns and one-hot encodes categorical
// columns, numeric block first.
type Preprocessor struct {
	Numeric     []NumericColumn     `json:"numeric"`
	Categorical []CategoricalColumn `json:"categorical"`
}

// Width returns the number of output features.
func (p *Preprocessor) Width() int {
	w := len(p.Numeric)
	for _, c := range p.Categorical {
		w += len(c.Categories)
	}
	return w
}

// OutputNames returns the transformed feature names.
func (p *Preprocessor) OutputNames() []string {
	names := make([]string, 0, p.Width())
	for _, c := range p.Numeric {
		names = append(names, "num__"+c.Name)
	}
	for _, c := range p.Categorical {
		for _, cat := range c.Categories {
			names = append(names, "cat__"+c.Name+"_"+cat)
		}
	}
	return names
}

// Transform maps an aligned table to the model matrix. Every column the
// preprocessor was fitted on must be present in the table.
func (p *Preprocessor) Transform(t *features.Table) ([][]float64, error) {
	index := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		index[c.Name] = i
	}

	numIdx := make([]int, len(p.Numeric))
	for i, c := range p.Numeric {
		j, ok := index[c.Name]
		if !ok {
			return nil, eris.Errorf("bundle: transform: numeric column %q missing from input", c.Name)
		}
		numIdx[i] = j
	}
	catIdx := make([]int, len(p.Categorical))
	for i, c := range p.Categorical {
		j, ok := index[c.Name]
		if !ok {
			return nil, eris.Errorf("bundle: transform: categorical column %q missing from input", c.Name)
		}
		catIdx[i] = j
	}

	width := p.Width()
	out := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, eris.Errorf("bundle: transform: row %d has %d values for %d columns", r, len(row), len(t.Columns))
		}
		x := make([]float64, width)
		k := 0
		for i, c := range p.Numeric {
			v, ok := row[numIdx[i]].Float()
			if !ok {
				return nil, eris.Errorf("bundle: transform: row %d column %q is not numeric", r, c.Name)
			}
			x[k] = (v - c.Mean) / c.Scale
			k++
		}
		for i, c := range p.Categorical {
			s := row[catIdx[i]].String()
			for _, cat := range c.Categories {
				if s == cat {
					x[k] = 1
				}
				k++
			}
		}
		out[r] = x
	}
	return out, nil
}

func (p *Preprocessor) validate() error {
	seen := make(map[string]bool)
	for _, c := range p.Numeric {
		if c.Name == "" || seen[c.Name] {
			return eris.Errorf("bundle: numeric column %q is empty or duplicated", c.Name)
		}
		seen[c.Name] = true
		if c.Scale == 0 || math.IsNaN(c.Scale) || math.IsNaN(c.Mean) {
			return eris.Errorf("bundle: numeric column %q has invalid scaling", c.Name)
		}
	}
	for _, c := range p.Categorical {
		if c.Name == "" || seen[c.Name] {
			return eris.Errorf("bundle: categorical column %q is empty or duplicated", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// fitPreprocessor fits scaling statistics and category lists on a table.
func fitPreprocessor(t *features.Table) *Preprocessor {
	p := &Preprocessor{}
	for j, col := range t.Columns {
		switch col.Kind {
		case features.Categorical:
			set := make(map[string]bool)
			for _, row := range t.Rows {
				set[row[j].String()] = true
			}
			cats := make([]string, 0, len(set))
			for c := range set {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			p.Categorical = append(p.Categorical, CategoricalColumn{Name: col.Name, Categories: cats})
		default:
			var sum float64
			for _, row := range t.Rows {
				sum += row[j].Num
			}
			n := float64(len(t.Rows))
			mean := sum / n
			var ss float64
			for _, row := range t.Rows {
				d := row[j].Num - mean
				ss += d * d
			}
			scale := math.Sqrt(ss / n)
			if scale == 0 {
				scale = 1
			}
			p.Numeric = append(p.Numeric, NumericColumn{Name: col.Name, Mean: mean, Scale: scale})
		}
	}
	return p
}
