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

package chainstate

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/gosigner/stacks"
	badger "github.com/dgraph-io/badger/v4"
)

// Blob key prefixes. Raw payloads are retained alongside the metadata
// rows so audit tooling can replay exactly what was received on the
// wire
const (
	blobPrefixProposal = "proposal/"
	blobPrefixVote     = "vote/"
)

func proposalBlobKey(key stacks.ProposalKey) []byte {
	return fmt.Appendf(
		nil,
		"%s%s/%d",
		blobPrefixProposal,
		key.TenureID.String(),
		key.Height,
	)
}

func voteBlobKey(signer stacks.SignerID, blockHash stacks.BlockHash) []byte {
	return fmt.Appendf(
		nil,
		"%s%s/%s",
		blobPrefixVote,
		signer.String(),
		blockHash.String(),
	)
}

// AddProposalPayload stores the raw received proposal payload
func (s *Store) AddProposalPayload(
	key stacks.ProposalKey,
	payload []byte,
) error {
	return s.blob.Update(func(txn *badger.Txn) error {
		return txn.Set(proposalBlobKey(key), payload)
	})
}

// ProposalPayload returns the raw payload for a proposal key
func (s *Store) ProposalPayload(key stacks.ProposalKey) ([]byte, error) {
	var ret []byte
	err := s.blob.View(func(txn *badger.Txn) error {
		item, err := txn.Get(proposalBlobKey(key))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ret, nil
}

// AddVoteEnvelope stores the raw signed vote envelope as received from
// (or published to) the replicated message store
func (s *Store) AddVoteEnvelope(
	signer stacks.SignerID,
	blockHash stacks.BlockHash,
	payload []byte,
) error {
	return s.blob.Update(func(txn *badger.Txn) error {
		return txn.Set(voteBlobKey(signer, blockHash), payload)
	})
}

// VoteEnvelope returns the raw vote envelope for a (signer, block
// hash) pair
func (s *Store) VoteEnvelope(
	signer stacks.SignerID,
	blockHash stacks.BlockHash,
) ([]byte, error) {
	var ret []byte
	err := s.blob.View(func(txn *badger.Txn) error {
		item, err := txn.Get(voteBlobKey(signer, blockHash))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ret, nil
}
