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

// Package chainstate provides durable, versioned storage of the
// signer's observed chain history, proposals, votes, and quorum
// results. Metadata lives in sqlite; raw proposal payloads and signed
// vote envelopes live in a badger blob store for audit replay.
package chainstate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/gosigner/chainstate/models"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

var (
	// ErrVoteConflict is returned when recording a vote would give the
	// same signer two differing decisions for one block hash. For our
	// own votes this is an invariant violation and the write is refused
	ErrVoteConflict = errors.New(
		"conflicting vote for block hash already recorded",
	)
	ErrNotFound = errors.New("record not found")
)

// Config is the chainstate store configuration
type Config struct {
	// DataDir is the persistent data directory. An in-memory store is
	// used when empty, useful for testing
	DataDir      string
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Store is the chainstate store instance
type Store struct {
	logger       *slog.Logger
	db           *gorm.DB
	blob         *badger.DB
	dataDir      string
	promRegistry prometheus.Registerer
}

// New creates a chainstate store with optional persistence using the
// provided data directory
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var metadataDb *gorm.DB
	var err error
	if cfg.DataDir == "" {
		// In-memory database when no data directory is specified
		// cache=shared allows multiple connections to share the same in-memory database
		metadataDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		metadataDbPath := filepath.Join(cfg.DataDir, "chainstate.sqlite")
		// WAL journal mode so audit reads can run alongside the write path
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=cache_size(-50000)"
		metadataDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	blobDb, err := openBlob(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{
		logger:       logger,
		db:           metadataDb,
		blob:         blobDb,
		dataDir:      cfg.DataDir,
		promRegistry: cfg.PromRegistry,
	}
	if err := s.init(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Store) init() error {
	// Configure tracing for GORM
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	// Create table schemas
	if err := s.db.AutoMigrate(&SchemaVersion{}); err != nil {
		return err
	}
	for _, model := range models.MigrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := s.db.AutoMigrate(model); err != nil {
			return err
		}
	}
	// Check schema version and run any pending upgrades before normal
	// operation resumes
	if err := s.upgradeSchema(); err != nil {
		return err
	}
	return nil
}

// DataDir returns the path to the data directory used for storage
func (s *Store) DataDir() string {
	return s.dataDir
}

// Logger returns the logger instance
func (s *Store) Logger() *slog.Logger {
	return s.logger
}

// DB returns the underlying metadata database handle. Intended for
// audit reads and tests
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close cleans up the store connections
func (s *Store) Close() error {
	var err error
	if sqlDb, dbErr := s.db.DB(); dbErr == nil {
		err = errors.Join(err, sqlDb.Close())
	}
	if s.blob != nil {
		err = errors.Join(err, s.blob.Close())
	}
	return err
}

func openBlob(dataDir string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		blobDir := filepath.Join(dataDir, "blob")
		opts = badger.DefaultOptions(blobDir)
	}
	opts = opts.WithLogger(newBadgerLogger(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return db, nil
}

// badgerLogger forwards badger's log output to slog
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{
		logger: logger.With("component", "chainstate.blob"),
	}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
