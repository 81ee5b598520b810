package features

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldSpec declares the kind and valid range of a known feature.
type FieldSpec struct {
	Kind Kind     `yaml:"kind"`
	Min  *float64 `yaml:"min,omitempty"`
	Max  *float64 `yaml:"max,omitempty"`
}

// Schema is the declared set of known features plus the alias table used to
// map raw header spellings onto canonical feature names.
type Schema struct {
	Fields  map[string]FieldSpec `yaml:"fields"`
	Aliases map[string]string    `yaml:"aliases"`
}

func bound(f float64) *float64 { return &f }

func numeric(lo, hi *float64) FieldSpec {
	return FieldSpec{Kind: Numeric, Min: lo, Max: hi}
}

var (
	gradeSpec   = numeric(bound(0), bound(20))
	percentSpec = numeric(bound(0), bound(100))
	ratingSpec  = numeric(bound(0), bound(10))
	countSpec   = numeric(bound(0), nil)
	flagSpec    = numeric(bound(0), bound(1))
	plainSpec   = numeric(nil, nil)
	catSpec     = FieldSpec{Kind: Categorical}
)

// DefaultSchema returns the built-in student feature schema.
func DefaultSchema() Schema {
	return Schema{
		Fields: map[string]FieldSpec{
			// Engagement.
			"attendance":            percentSpec,
			"avg_score":             percentSpec,
			"academic_score":        percentSpec,
			"behavior_score":        ratingSpec,
			"assignments_completed": countSpec,

			// Curricular units.
			"cu1_enrolled":    countSpec,
			"cu1_evaluations": countSpec,
			"cu1_approved":    countSpec,
			"cu1_grade":       gradeSpec,
			"cu2_enrolled":    countSpec,
			"cu2_evaluations": countSpec,
			"cu2_approved":    countSpec,
			"cu2_grade":       gradeSpec,

			// Flags.
			"scholarship_holder":         flagSpec,
			"debtor":                     flagSpec,
			"tuition_fees_up_to_date":    flagSpec,
			"educational_special_needs":  flagSpec,
			"displaced":                  flagSpec,
			"international":              flagSpec,
			"daytime_evening_attendance": flagSpec,

			// Demographics.
			"age_at_enrollment":            countSpec,
			"application_order":            countSpec,
			"previous_qualification_grade": plainSpec,
			"admission_grade":              plainSpec,

			// Economic indicators.
			"unemployment_rate": numeric(bound(0), bound(100)),
			"inflation_rate":    numeric(bound(-10), bound(50)),
			"gdp":               numeric(bound(0), nil),

			// Categorical.
			"grade":                  catSpec,
			"gender":                 catSpec,
			"marital_status":         catSpec,
			"application_mode":       catSpec,
			"course":                 catSpec,
			"attendance_type":        catSpec,
			"nationality":            catSpec,
			"previous_qualification": catSpec,
			"mother_qualification":   catSpec,
			"father_qualification":   catSpec,
			"mother_occupation":      catSpec,
			"father_occupation":      catSpec,
			"department":             catSpec,
			"class_name":             catSpec,
		},
		Aliases: map[string]string{
			"age":                                 "age_at_enrollment",
			"attendance_rate":                     "attendance",
			"attendance_pct":                      "attendance",
			"average_score":                       "avg_score",
			"avg_grade":                           "avg_score",
			"acodemic_score":                      "academic_score",
			"behaviour_score":                     "behavior_score",
			"assignments":                         "assignments_completed",
			"nacionality":                         "nationality",
			"sex":                                 "gender",
			"tuition_fees":                        "tuition_fees_up_to_date",
			"curricular_units_1st_sem_enrolled":    "cu1_enrolled",
			"curricular_units_1st_sem_evaluations": "cu1_evaluations",
			"curricular_units_1st_sem_approved":    "cu1_approved",
			"curricular_units_1st_sem_grade":       "cu1_grade",
			"curricular_units_2nd_sem_enrolled":    "cu2_enrolled",
			"curricular_units_2nd_sem_evaluations": "cu2_evaluations",
			"curricular_units_2nd_sem_approved":    "cu2_approved",
			"curricular_units_2nd_sem_grade":       "cu2_grade",
			"mother_s_qualification":               "mother_qualification",
			"father_s_qualification":               "father_qualification",
			"mother_s_occupation":                  "mother_occupation",
			"father_s_occupation":                  "father_occupation",
		},
	}
}

// LoadSchema returns DefaultSchema overlaid with the fields and aliases in the
// YAML file at path. An empty path returns the defaults.
func LoadSchema(path string) (Schema, error) {
	s := DefaultSchema()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, eris.Wrapf(err, "features: read schema %s", path)
	}

	var overlay Schema
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Schema{}, eris.Wrap(err, "features: parse schema")
	}

	for name, spec := range overlay.Fields {
		key := CanonicalKey(name)
		switch spec.Kind {
		case Numeric, Categorical:
		case "":
			spec.Kind = Numeric
		default:
			return Schema{}, eris.Errorf("features: field %q has unknown kind %q", name, spec.Kind)
		}
		if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
			return Schema{}, eris.Errorf("features: field %q has min > max", name)
		}
		s.Fields[key] = spec
	}
	for from, to := range overlay.Aliases {
		s.Aliases[CanonicalKey(from)] = CanonicalKey(to)
	}

	return s, nil
}

// KindOf returns the declared kind of a feature. Undeclared features are numeric.
func (s Schema) KindOf(name string) Kind {
	if spec, ok := s.Fields[name]; ok && spec.Kind != "" {
		return spec.Kind
	}
	return Numeric
}

// Resolve maps a canonical key through the alias table.
func (s Schema) Resolve(key string) string {
	if to, ok := s.Aliases[key]; ok {
		return to
	}
	return key
}
