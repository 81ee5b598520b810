package model

import "time"

// ModelVersion describes a loaded bundle.
type ModelVersion struct {
	Version  string    `json:"version"`
	Path     string    `json:"path"`
	Features int       `json:"features"`
	Classes  []string  `json:"classes"`
	LoadedAt time.Time `json:"loaded_at"`
}

// PredictionSource records how a prediction was requested.
type PredictionSource string

const (
	SourceInteractive PredictionSource = "interactive"
	SourceBatch       PredictionSource = "batch"
	SourceCLI         PredictionSource = "cli"
)

// PredictionRecord is a persisted prediction.
type PredictionRecord struct {
	ID            string           `json:"id"`
	StudentID     string           `json:"student_id,omitempty"`
	Probability   float64          `json:"probability"`
	RiskTier      Tier             `json:"risk_tier"`
	LowConfidence bool             `json:"low_confidence"`
	ModelVersion  string           `json:"model_version"`
	Source        PredictionSource `json:"source"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewPredictionRecord builds an unsaved record from an assessment.
func NewPredictionRecord(studentID string, a Assessment, src PredictionSource) PredictionRecord {
	return PredictionRecord{
		StudentID:     studentID,
		Probability:   a.Probability,
		RiskTier:      a.RiskTier,
		LowConfidence: a.LowConfidence,
		ModelVersion:  a.ModelVersion,
		Source:        src,
	}
}
