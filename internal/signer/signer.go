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

package signer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/gosigner"
	"github.com/blinklabs-io/gosigner/internal/config"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "signer")

	keyPair, err := signing.LoadKeyPair(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	deferTimeout, err := parseOptionalDuration(cfg.DeferTimeout)
	if err != nil {
		return fmt.Errorf("invalid defer timeout: %w", err)
	}
	quorumTimeout, err := parseOptionalDuration(cfg.QuorumTimeout)
	if err != nil {
		return fmt.Errorf("invalid quorum timeout: %w", err)
	}
	burnPollInterval, err := parseOptionalDuration(cfg.BurnPollInterval)
	if err != nil {
		return fmt.Errorf("invalid burn poll interval: %w", err)
	}
	votePollInterval, err := parseOptionalDuration(cfg.VotePollInterval)
	if err != nil {
		return fmt.Errorf("invalid vote poll interval: %w", err)
	}

	s, err := gosigner.New(
		gosigner.NewConfig(
			gosigner.WithLogger(logger),
			gosigner.WithKeyPair(keyPair),
			gosigner.WithDataDir(cfg.DataDir),
			gosigner.WithChainUrl(cfg.ChainUrl),
			gosigner.WithMsgStoreUrl(cfg.MsgStoreUrl),
			gosigner.WithQuorumThreshold(cfg.QuorumThreshold),
			gosigner.WithCycleLength(cfg.CycleLength),
			gosigner.WithHandoffWindow(cfg.HandoffWindow),
			gosigner.WithDeferTimeout(deferTimeout),
			gosigner.WithQuorumTimeout(quorumTimeout),
			gosigner.WithBurnPollInterval(burnPollInterval),
			gosigner.WithVotePollInterval(votePollInterval),
			gosigner.WithTracing(cfg.Tracing),
			gosigner.WithTracingStdout(cfg.TracingStdout),
			gosigner.WithShutdownTimeout(shutdownTimeout),
			// Enable metrics with default prometheus registry
			gosigner.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"signer",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "signer",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run signer in goroutine
	errChan := make(chan error, 1)
	go func() {
		err := s.Run()
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown signer
		if err := s.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("signer stopped")
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := s.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("signer error", "error", err)
		signalCtxStop()

		// Shutdown signer resources
		if stopErr := s.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		// Cleanup on error
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
