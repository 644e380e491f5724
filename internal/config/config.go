// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "gosigner.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir          string  `yaml:"dataDir"                                        split_words:"true"`
	KeyFile          string  `yaml:"keyFile"                                        split_words:"true"`
	ChainUrl         string  `yaml:"chainUrl"         envconfig:"GOSIGNER_CHAIN_URL"`
	MsgStoreUrl      string  `yaml:"msgStoreUrl"      envconfig:"GOSIGNER_MSGSTORE_URL"`
	BindAddr         string  `yaml:"bindAddr"                                       split_words:"true"`
	ShutdownTimeout  string  `yaml:"shutdownTimeout"                                split_words:"true"`
	DeferTimeout     string  `yaml:"deferTimeout"                                   split_words:"true"`
	QuorumTimeout    string  `yaml:"quorumTimeout"                                  split_words:"true"`
	BurnPollInterval string  `yaml:"burnPollInterval"                               split_words:"true"`
	VotePollInterval string  `yaml:"votePollInterval"                               split_words:"true"`
	QuorumThreshold  float64 `yaml:"quorumThreshold"                                split_words:"true"`
	CycleLength      uint64  `yaml:"cycleLength"                                    split_words:"true"`
	HandoffWindow    uint64  `yaml:"handoffWindow"                                  split_words:"true"`
	MetricsPort      uint    `yaml:"metricsPort"                                    split_words:"true"`
	Tracing          bool    `yaml:"tracing"                                        split_words:"true"`
	TracingStdout    bool    `yaml:"tracingStdout"                                  split_words:"true"`
}

var globalConfig = &Config{
	DataDir:          ".gosigner",
	KeyFile:          "signer.key",
	BindAddr:         "0.0.0.0",
	MetricsPort:      12700,
	QuorumThreshold:  0.70,
	CycleLength:      2100,
	HandoffWindow:    10,
	DeferTimeout:     "30s",
	QuorumTimeout:    "60s",
	BurnPollInterval: "5s",
	VotePollInterval: "2s",
	ShutdownTimeout:  DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.gosigner/gosigner.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".gosigner", "gosigner.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/gosigner/gosigner.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/gosigner/gosigner.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("gosigner", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if globalConfig.QuorumThreshold <= 0 ||
		globalConfig.QuorumThreshold >= 1 {
		return nil, fmt.Errorf(
			"quorum threshold must be in (0, 1), got %f",
			globalConfig.QuorumThreshold,
		)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
