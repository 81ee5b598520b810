package scorer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/ingest"
	"github.com/sells-group/dropout-risk/internal/model"
)

// Retrain trains a new bundle from the labelled table at dataPath, writes it
// atomically to outPath, and makes it the active bundle. The previous bundle
// stays active if any step fails.
func (s *Scorer) Retrain(ctx context.Context, cfg config.TrainConfig, dataPath, outPath string) (model.ModelVersion, *bundle.TrainReport, error) {
	if outPath == "" {
		return model.ModelVersion{}, nil, eris.New("scorer: retrain output path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, _, err := ingest.ReadFile(ctx, dataPath)
	if err != nil {
		return model.ModelVersion{}, nil, eris.Wrap(err, "scorer: read training data")
	}

	samples, err := bundle.PrepareSamples(s.norm, rows, cfg.LabelColumn)
	if err != nil {
		return model.ModelVersion{}, nil, unusableData(err, dataPath)
	}

	b, report, err := bundle.Train(ctx, cfg, s.norm.Schema(), samples)
	if err != nil {
		if ctx.Err() != nil {
			return model.ModelVersion{}, nil, err
		}
		return model.ModelVersion{}, nil, unusableData(err, dataPath)
	}

	if err := b.Save(outPath); err != nil {
		return model.ModelVersion{}, nil, eris.Wrapf(err, "scorer: save bundle to %s", outPath)
	}

	mv := s.Swap(b, outPath)
	s.observer.ObserveReload(true, mv.Version)
	zap.L().Info("scorer: retrained model is active",
		zap.String("version", mv.Version),
		zap.String("data", dataPath),
		zap.String("path", outPath),
		zap.Float64("test_accuracy", report.TestAccuracy),
	)
	return mv, report, nil
}

// unusableData marks a training failure caused by the table's contents as
// bad input. Errors that already carry a kind keep it.
func unusableData(err error, dataPath string) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Wrap(err, apperr.InvalidInputKind, "cannot train on %s", dataPath)
}
