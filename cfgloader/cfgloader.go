// Package cfgloader loads client configuration from a YAML file for hosts
// that prefer file-based setup over Configure calls. Environment variables
// referenced as ${VAR} in the file are expanded, a .env file is honored
// when present, defaults are applied and the result is validated.
package cfgloader

import (
	"os"

	"github.com/code19m/errx"
	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miniapm/miniapm-go/val"
)

// EnvConfigPath overrides the configuration file location when set.
const EnvConfigPath = "MINIAPM_CONFIG"

// DefaultPath is used when no explicit path and no override are given.
const DefaultPath = "miniapm.yaml"

// Load reads, expands, defaults and validates a configuration struct from
// path. An empty path falls back to $MINIAPM_CONFIG, then to
// "miniapm.yaml". Unlike an application config loader this never exits
// the process; all failures come back as errors.
func Load[T any](path string) (T, error) {
	var cfg T

	// A missing .env file is fine; it is a local-development nicety.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errx.Wrap(err, errx.WithDetails(errx.D{"path": path}))
	}

	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errx.Wrap(err, errx.WithDetails(errx.D{"path": path}))
	}

	if err := defaults.Set(&cfg); err != nil {
		return cfg, errx.Wrap(err)
	}

	if err := val.Struct(&cfg); err != nil {
		return cfg, errx.Wrap(err)
	}

	return cfg, nil
}
