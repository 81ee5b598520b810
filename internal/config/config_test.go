package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "models/dropout_model.json", cfg.Model.Path)
	assert.False(t, cfg.Model.Watch)
	assert.Equal(t, 300, cfg.Train.Trees)
	assert.Equal(t, 15, cfg.Train.MaxDepth)
	assert.Equal(t, 4, cfg.Train.MinSamplesSplit)
	assert.Equal(t, 2, cfg.Train.MinSamplesLeaf)
	assert.Equal(t, uint64(42), cfg.Train.Seed)
	assert.Equal(t, "target", cfg.Train.LabelColumn)
	assert.InDelta(t, 0.2, cfg.Train.TestFraction, 0.001)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dropout.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 20.0, cfg.Server.RateLimit, 0.001)
	assert.Equal(t, 40, cfg.Server.RateBurst)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10, cfg.Server.MaxUploadMB)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
model:
  path: /srv/models/rf.json
  watch: true
train:
  trees: 50
  features: [attendance, avg_score]
store:
  driver: postgres
  database_url: postgres://localhost/dropout
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/models/rf.json", cfg.Model.Path)
	assert.True(t, cfg.Model.Watch)
	assert.Equal(t, 50, cfg.Train.Trees)
	assert.Equal(t, []string{"attendance", "avg_score"}, cfg.Train.Features)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 15, cfg.Train.MaxDepth)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DROPOUT_STORE_DRIVER", "postgres")
	t.Setenv("DROPOUT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DROPOUT_SERVER_PORT", "3000")
	t.Setenv("DROPOUT_MODEL_PATH", "/tmp/model.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/tmp/model.json", cfg.Model.Path)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("model: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Model.Path = "models/dropout_model.json"
	cfg.Train.Trees = 300
	cfg.Train.MaxDepth = 15
	cfg.Train.MinSamplesSplit = 4
	cfg.Train.MinSamplesLeaf = 2
	cfg.Train.LabelColumn = "target"
	cfg.Train.TestFraction = 0.2
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "dropout.db"
	cfg.Server.Port = 8080
	cfg.Server.RateLimit = 20
	cfg.Server.MaxUploadMB = 10
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "score", "train", "history"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateScore_MissingModelPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Model.Path = ""

	err := cfg.Validate("score")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "model.path is required")
}

func TestValidateTrain_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Train.Trees = 0
	cfg.Train.MinSamplesSplit = 1
	cfg.Train.TestFraction = 1

	err := cfg.Validate("train")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "train.trees must be > 0")
	assert.Contains(t, err.Error(), "train.min_samples_split must be >= 2")
	assert.Contains(t, err.Error(), "train.test_fraction")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "none"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateHistory_RequiresStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "none"

	err := cfg.Validate("history")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "history")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
