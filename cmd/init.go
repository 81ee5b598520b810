package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/features"
	"github.com/sells-group/dropout-risk/internal/store"
)

// initNormalizer builds the feature normalizer, applying the alias overlay
// when one is configured.
func initNormalizer(c config.ModelConfig) (*features.Normalizer, error) {
	schema, err := features.LoadSchema(c.AliasesPath)
	if err != nil {
		return nil, eris.Wrap(err, "init normalizer")
	}
	return features.NewNormalizer(schema), nil
}

// initStore opens the configured prediction store and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}
