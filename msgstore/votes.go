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

package msgstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/signerset"
	"github.com/blinklabs-io/gosigner/stacks"
)

type VotesConfig struct {
	Logger   *slog.Logger
	Client   Client
	Store    *chainstate.Store
	Registry *signerset.Registry
	Self     stacks.SignerID
}

// Votes exchanges vote envelopes over the replicated store. It
// implements the coordinator's VotePublisher on the write side and
// feeds the orchestrator's peer-vote polling on the read side
type Votes struct {
	logger   *slog.Logger
	client   Client
	store    *chainstate.Store
	registry *signerset.Registry
	self     stacks.SignerID
}

func NewVotes(cfg *VotesConfig) *Votes {
	v := &Votes{
		logger:   cfg.Logger,
		client:   cfg.Client,
		store:    cfg.Store,
		registry: cfg.Registry,
		self:     cfg.Self,
	}
	if v.logger == nil {
		v.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return v
}

// PublishVote writes our vote envelope to our slot. The envelope is
// stored locally first so a restart can republish identical content
func (v *Votes) PublishVote(ctx context.Context, vote stacks.Vote) error {
	set, err := v.registry.Current()
	if err != nil {
		return err
	}
	slot, err := SlotForSigner(set, v.self)
	if err != nil {
		return err
	}
	payload, err := EncodeVote(vote)
	if err != nil {
		return err
	}
	if err := v.store.AddVoteEnvelope(
		vote.Signer,
		vote.BlockHash,
		payload,
	); err != nil {
		return err
	}
	if err := v.client.Publish(ctx, slot, payload); err != nil {
		return fmt.Errorf("publish vote envelope: %w", err)
	}
	return nil
}

// FetchPeerVotes reads every slot and decodes the vote envelopes,
// skipping our own slot and any undecodable payloads. A bad envelope
// from one peer never blocks the rest
func (v *Votes) FetchPeerVotes(ctx context.Context) ([]stacks.Vote, error) {
	contents, err := v.client.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch vote envelopes: %w", err)
	}
	votes := make([]stacks.Vote, 0, len(contents))
	for _, content := range contents {
		if len(content.Payload) == 0 {
			continue
		}
		vote, err := DecodeVote(content.Payload)
		if err != nil {
			v.logger.Warn(
				"discarding bad vote envelope",
				"component", "msgstore",
				"slot", content.Slot,
				"error", err,
			)
			continue
		}
		if vote.Signer == v.self {
			continue
		}
		votes = append(votes, vote)
	}
	return votes, nil
}
