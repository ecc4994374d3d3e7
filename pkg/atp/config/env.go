// Package config implements process configuration: environment variables
// read once at startup (Env), and a hot-reloadable YAML scenario describing
// a run's worker/aggregator/network/congestion parameters.
package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Env holds the process-level settings sourced from the environment.
type Env struct {
	LogLevel     string `env:"ATP_LOG_LEVEL,default=info"`
	MetricsAddr  string `env:"ATP_METRICS_ADDR,default="`
	ScenarioFile string `env:"ATP_SCENARIO_FILE,default=scenario.yml"`
}

// LoadEnv populates an Env from the process environment.
func LoadEnv(ctx context.Context) (Env, error) {
	var env Env
	err := envconfig.Process(ctx, &env)
	return env, err
}
