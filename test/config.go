package test

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TEST_READ_TIMEOUT bounds every single frame wait in the scenario
	ReadTimeout time.Duration `envconfig:"TEST_READ_TIMEOUT" default:"2s"`
	// TEST_HISTORY_LIMIT is the replay cap the relay under test runs with
	HistoryLimit int `envconfig:"TEST_HISTORY_LIMIT" default:"20"`
	// TEST_DEBUG switches the relay under test to debug logging
	Debug bool `envconfig:"TEST_DEBUG" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
