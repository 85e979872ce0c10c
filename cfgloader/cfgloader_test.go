package cfgloader_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/cfgloader"
)

type testConfig struct {
	Endpoint      string        `yaml:"endpoint"       validate:"required,url"`
	APIKey        string        `yaml:"api_key"`
	SampleRate    float64       `yaml:"sample_rate"    validate:"gte=0,lte=1" default:"1.0"`
	FlushInterval time.Duration `yaml:"flush_interval"                        default:"5s"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "miniapm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "endpoint: http://localhost:3000\n")

	cfg, err := cfgloader.Load[testConfig](path)

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MINIAPM_KEY", "k-from-env")
	path := writeConfig(t, "endpoint: http://localhost:3000\napi_key: ${TEST_MINIAPM_KEY}\n")

	cfg, err := cfgloader.Load[testConfig](path)

	require.NoError(t, err)
	assert.Equal(t, "k-from-env", cfg.APIKey)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "endpoint: http://localhost:3000\nsample_rate: 3.5\n")

	_, err := cfgloader.Load[testConfig](path)

	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := cfgloader.Load[testConfig](filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestLoad_EnvPathOverride(t *testing.T) {
	path := writeConfig(t, "endpoint: http://localhost:3000\n")
	t.Setenv(cfgloader.EnvConfigPath, path)

	cfg, err := cfgloader.Load[testConfig]("")

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.Endpoint)
}
