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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/gosigner/bchain"
	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/event"
	"github.com/blinklabs-io/gosigner/msgstore"
	"github.com/blinklabs-io/gosigner/runloop"
	"github.com/blinklabs-io/gosigner/signerset"
	"github.com/blinklabs-io/gosigner/sortition"
	"github.com/blinklabs-io/gosigner/validation"
	"github.com/blinklabs-io/gosigner/votecoord"
)

type Signer struct {
	eventBus      *event.EventBus
	store         *chainstate.Store
	tracker       *sortition.Tracker
	registry      *signerset.Registry
	validator     *validation.Validator
	coordinator   *votecoord.Coordinator
	chain         bchain.Client
	votes         *msgstore.Votes
	runLoop       *runloop.StateMachine
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Signer, error) {
	eventBus := event.NewEventBus(cfg.promRegistry)
	s := &Signer{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := s.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func (s *Signer) Run() error {
	// Configure tracing
	if s.config.tracing {
		if err := s.setupTracing(); err != nil {
			return err
		}
	}
	// Load chainstate store
	store, err := chainstate.New(&chainstate.Config{
		DataDir:      s.config.dataDir,
		Logger:       s.config.logger,
		PromRegistry: s.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open chainstate store: %w", err)
	}
	s.store = store
	// Chain observation client
	s.chain = bchain.NewHttpClient(&bchain.HttpClientConfig{
		Logger:  s.config.logger,
		BaseUrl: s.config.chainUrl,
	})
	// Sortition tracker, recovering persisted view state
	tracker, err := sortition.New(&sortition.Config{
		Logger:       s.config.logger,
		Store:        s.store,
		Source:       s.chain,
		EventBus:     s.eventBus,
		PromRegistry: s.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to load sortition tracker: %w", err)
	}
	s.tracker = tracker
	// Signer set registry
	registry, err := signerset.New(&signerset.Config{
		Logger:        s.config.logger,
		Store:         s.store,
		CycleLength:   s.config.cycleLength,
		HandoffWindow: s.config.handoffWindow,
		EventBus:      s.eventBus,
		PromRegistry:  s.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to load signer set registry: %w", err)
	}
	s.registry = registry
	// Proposal validator
	s.validator = validation.New(&validation.Config{
		Logger:       s.config.logger,
		Store:        s.store,
		Views:        s.tracker,
		PromRegistry: s.config.promRegistry,
	})
	// Replicated message store vote exchange
	s.votes = msgstore.NewVotes(&msgstore.VotesConfig{
		Logger: s.config.logger,
		Client: msgstore.NewHttpClient(&msgstore.HttpClientConfig{
			Logger:  s.config.logger,
			BaseUrl: s.config.msgStoreUrl,
		}),
		Store:    s.store,
		Registry: s.registry,
		Self:     s.config.keyPair.ID(),
	})
	// Vote coordinator
	coordinator, err := votecoord.New(&votecoord.Config{
		Logger:       s.config.logger,
		Store:        s.store,
		Registry:     s.registry,
		Signer:       s.config.keyPair,
		Publisher:    s.votes,
		EventBus:     s.eventBus,
		Threshold:    s.config.quorumThreshold,
		PromRegistry: s.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to load vote coordinator: %w", err)
	}
	s.coordinator = coordinator
	// State machine event loop
	s.runLoop = runloop.New(&runloop.Config{
		Logger:           s.config.logger,
		EventBus:         s.eventBus,
		Store:            s.store,
		Tracker:          s.tracker,
		Registry:         s.registry,
		Validator:        s.validator,
		Coordinator:      s.coordinator,
		Chain:            s.chain,
		Votes:            s.votes,
		DeferTimeout:     s.config.deferTimeout,
		QuorumTimeout:    s.config.quorumTimeout,
		BurnPollInterval: s.config.burnPollInterval,
		VotePollInterval: s.config.votePollInterval,
		PromRegistry:     s.config.promRegistry,
	})
	s.runLoop.Start(context.Background())
	s.config.logger.Info(
		"signer started",
		"component", "signer",
		"signer_id", s.config.keyPair.ID().String(),
	)

	// Wait for shutdown signal
	<-s.done
	return nil
}

func (s *Signer) Stop() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown()
	})
	return err
}

func (s *Signer) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if s.config.shutdownTimeout > 0 {
		shutdownTimeout = s.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	s.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop observing and voting
	s.config.logger.Debug("shutdown phase 1: stopping event loop")

	if s.runLoop != nil {
		s.runLoop.Stop()
	}

	// Phase 2: Flush state and close the store
	s.config.logger.Debug("shutdown phase 2: flushing state")

	if s.store != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("chainstate store close: %w", closeErr),
			)
		}
	}

	// Phase 3: Cleanup resources
	s.config.logger.Debug("shutdown phase 3: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range s.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	s.shutdownFuncs = nil

	if s.eventBus != nil {
		s.eventBus.Stop()
	}

	s.config.logger.Debug("graceful shutdown complete")
	close(s.done)
	return err
}
