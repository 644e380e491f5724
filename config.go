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

package gosigner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/gosigner/signing"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultQuorumThreshold is the fraction of total signer weight
	// that must be strictly exceeded for a vote result to be terminal
	DefaultQuorumThreshold = 0.70
	// DefaultCycleLength is the reward cycle length in burn blocks
	DefaultCycleLength = 2100
	// DefaultHandoffWindow is how many burn blocks before a cycle
	// boundary the signer-set handoff opens
	DefaultHandoffWindow = 10
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	keyPair          *signing.KeyPair
	dataDir          string
	chainUrl         string
	msgStoreUrl      string
	quorumThreshold  float64
	cycleLength      uint64
	handoffWindow    uint64
	deferTimeout     time.Duration
	quorumTimeout    time.Duration
	burnPollInterval time.Duration
	votePollInterval time.Duration
	tracing          bool
	tracingStdout    bool
	shutdownTimeout  time.Duration
}

func (s *Signer) configValidate() error {
	if s.config.keyPair == nil {
		return errors.New("no signing key configured")
	}
	if s.config.chainUrl == "" {
		return errors.New("no chain endpoint configured")
	}
	if s.config.msgStoreUrl == "" {
		return errors.New("no message store endpoint configured")
	}
	if s.config.quorumThreshold <= 0 || s.config.quorumThreshold >= 1 {
		return fmt.Errorf(
			"quorum threshold must be in (0, 1), got %f",
			s.config.quorumThreshold,
		)
	}
	if s.config.cycleLength == 0 {
		return errors.New("reward cycle length must be nonzero")
	}
	if s.config.handoffWindow >= s.config.cycleLength {
		return fmt.Errorf(
			"handoff window (%d) must be shorter than the reward cycle (%d)",
			s.config.handoffWindow,
			s.config.cycleLength,
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the signer config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new signer config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		quorumThreshold: DefaultQuorumThreshold,
		cycleLength:     DefaultCycleLength,
		handoffWindow:   DefaultHandoffWindow,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithKeyPair specifies the signing key for this signer's votes
func WithKeyPair(keyPair *signing.KeyPair) ConfigOptionFunc {
	return func(c *Config) {
		c.keyPair = keyPair
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithChainUrl specifies the base URL of the chain observation endpoint
func WithChainUrl(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.chainUrl = url
	}
}

// WithMsgStoreUrl specifies the base URL of the replicated message store
func WithMsgStoreUrl(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.msgStoreUrl = url
	}
}

// WithQuorumThreshold specifies the fraction of total signer weight that
// must be strictly exceeded for a vote result to become terminal. The
// default is 0.70
func WithQuorumThreshold(threshold float64) ConfigOptionFunc {
	return func(c *Config) {
		c.quorumThreshold = threshold
	}
}

// WithCycleLength specifies the reward cycle length in burn blocks
func WithCycleLength(length uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.cycleLength = length
	}
}

// WithHandoffWindow specifies how many burn blocks before a reward cycle
// boundary the signer-set handoff window opens. The default is 10
func WithHandoffWindow(window uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.handoffWindow = window
	}
}

// WithDeferTimeout bounds how long a deferred proposal validation may
// wait before converting to a timeout rejection
func WithDeferTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.deferTimeout = timeout
	}
}

// WithQuorumTimeout bounds how long the signer waits on peer votes
// before letting a tenure proceed without a quorum result
func WithQuorumTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.quorumTimeout = timeout
	}
}

// WithBurnPollInterval specifies the burn chain polling interval
func WithBurnPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.burnPollInterval = interval
	}
}

// WithVotePollInterval specifies the peer vote polling interval
func WithVotePollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.votePollInterval = interval
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
