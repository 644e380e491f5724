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

// Package msgstore is the client for the replicated, slot-addressed
// storage layer signers exchange votes through. Each signer writes its
// own slot, determined by its position in the active signer set, and
// reads every slot when polling for peer votes.
package msgstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blinklabs-io/gosigner/stacks"
)

// EnvelopeVersion is the vote envelope format written by this release
const EnvelopeVersion = 1

var (
	ErrUnsupportedEnvelope = errors.New("unsupported vote envelope version")
	ErrInvalidEnvelope     = errors.New("invalid vote envelope")
	ErrNotInSignerSet      = errors.New("signer not in active signer set")
)

// SlotContent is one slot's current payload
type SlotContent struct {
	Payload []byte
	Slot    uint32
}

// Client is the consumed publish/fetch capability over the replicated
// storage layer
type Client interface {
	// Publish replaces the given slot's content. Rewriting identical
	// content is safe
	Publish(ctx context.Context, slot uint32, payload []byte) error
	// FetchAll returns the current content of every non-empty slot
	FetchAll(ctx context.Context) ([]SlotContent, error)
}

// voteEnvelope is the versioned wire form of a vote
type voteEnvelope struct {
	Version   int    `json:"version"`
	Signer    string `json:"signer"`
	BlockHash string `json:"block_hash"`
	Decision  uint8  `json:"decision"`
	Signature string `json:"signature"`
}

// EncodeVote serializes a vote into a versioned envelope
func EncodeVote(vote stacks.Vote) ([]byte, error) {
	return json.Marshal(voteEnvelope{
		Version:   EnvelopeVersion,
		Signer:    vote.Signer.String(),
		BlockHash: vote.BlockHash.String(),
		Decision:  uint8(vote.Decision),
		Signature: hex.EncodeToString(vote.Signature),
	})
}

// DecodeVote parses a versioned envelope back into a vote
func DecodeVote(payload []byte) (stacks.Vote, error) {
	var envelope voteEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return stacks.Vote{}, fmt.Errorf(
			"%w: %w",
			ErrInvalidEnvelope,
			err,
		)
	}
	if envelope.Version != EnvelopeVersion {
		return stacks.Vote{}, fmt.Errorf(
			"%w: %d",
			ErrUnsupportedEnvelope,
			envelope.Version,
		)
	}
	signerRaw, err := hex.DecodeString(envelope.Signer)
	if err != nil {
		return stacks.Vote{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	signer, err := stacks.NewSignerID(signerRaw)
	if err != nil {
		return stacks.Vote{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	blockHash, err := stacks.NewBlockHash(envelope.BlockHash)
	if err != nil {
		return stacks.Vote{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	signature, err := hex.DecodeString(envelope.Signature)
	if err != nil {
		return stacks.Vote{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	vote := stacks.Vote{
		Signer:    signer,
		BlockHash: blockHash,
		Decision:  stacks.Decision(envelope.Decision),
		Signature: signature,
	}
	if !vote.Decision.Valid() {
		return stacks.Vote{}, fmt.Errorf(
			"%w: decision %d",
			ErrInvalidEnvelope,
			envelope.Decision,
		)
	}
	return vote, nil
}

// SlotForSigner returns the slot a signer writes, its position in the
// ordered signer set
func SlotForSigner(set *stacks.SignerSet, id stacks.SignerID) (uint32, error) {
	idx := set.IndexOf(id)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotInSignerSet, id.String())
	}
	return uint32(idx), nil // #nosec G115
}
