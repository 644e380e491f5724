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

// Package bchain is the read-only client for the chain node: burn
// chain tip, sortition eligibility, the block proposal feed, and the
// reward-cycle signer set source. All reads retry transient failures
// with exponential backoff.
package bchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blinklabs-io/gosigner/sortition"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/cenkalti/backoff/v4"
)

// Retry tuning for transient chain-node failures
const (
	retryInitialInterval = 128 * time.Millisecond
	retryMaxInterval     = 16384 * time.Millisecond
	defaultRetryTimeout  = 30 * time.Second
	defaultQueryTimeout  = 10 * time.Second
)

// Client is the consumed chain-node read interface. It also satisfies
// sortition.ChainSource
type Client interface {
	BurnTip(ctx context.Context) (stacks.BurnBlock, error)
	BurnBlockAtHeight(
		ctx context.Context,
		height uint64,
	) (stacks.BurnBlock, error)
	SortitionFor(
		ctx context.Context,
		block stacks.BurnBlock,
	) (sortition.Result, error)
	PendingProposals(ctx context.Context) ([]stacks.BlockProposal, error)
	SignerSet(ctx context.Context, cycle uint64) (*stacks.SignerSet, error)
}

type HttpClientConfig struct {
	Logger *slog.Logger
	// BaseUrl is the chain node's API base, e.g. http://localhost:20443
	BaseUrl string
	// RetryTimeout bounds the total time spent retrying one request
	RetryTimeout time.Duration
	HttpClient   *http.Client
}

// HttpClient talks to the chain node's JSON API
type HttpClient struct {
	logger       *slog.Logger
	baseUrl      string
	retryTimeout time.Duration
	client       *http.Client
}

func NewHttpClient(cfg *HttpClientConfig) *HttpClient {
	c := &HttpClient{
		logger:       cfg.Logger,
		baseUrl:      cfg.BaseUrl,
		retryTimeout: cfg.RetryTimeout,
		client:       cfg.HttpClient,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.retryTimeout == 0 {
		c.retryTimeout = defaultRetryTimeout
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultQueryTimeout}
	}
	return c
}

// burnBlockDto mirrors the node's burn block JSON
type burnBlockDto struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  int64  `json:"timestamp"`
}

func (d *burnBlockDto) toBurnBlock() (stacks.BurnBlock, error) {
	hash, err := stacks.NewBurnHash(d.Hash)
	if err != nil {
		return stacks.BurnBlock{}, err
	}
	parent, err := stacks.NewBurnHash(d.ParentHash)
	if err != nil {
		return stacks.BurnBlock{}, err
	}
	return stacks.BurnBlock{
		Height:     d.Height,
		Hash:       hash,
		ParentHash: parent,
		Timestamp:  time.Unix(d.Timestamp, 0).UTC(),
	}, nil
}

type sortitionDto struct {
	ConsensusHash string `json:"consensus_hash"`
	WinningMiner  string `json:"winning_miner,omitempty"`
}

type proposalDto struct {
	BlockHash       string `json:"block_hash"`
	ParentBlockHash string `json:"parent_block_hash"`
	TenureID        string `json:"tenure_id"`
	Height          uint64 `json:"height"`
	MinerSignature  string `json:"miner_signature"`
	BurnView        string `json:"burn_view"`
}

type signerSetDto struct {
	Cycle   uint64 `json:"cycle"`
	Signers []struct {
		PublicKey string `json:"public_key"`
		Weight    uint64 `json:"weight"`
	} `json:"signers"`
}

func (c *HttpClient) BurnTip(ctx context.Context) (stacks.BurnBlock, error) {
	var dto burnBlockDto
	if err := c.getJson(ctx, "/v1/burn/tip", &dto); err != nil {
		return stacks.BurnBlock{}, err
	}
	return dto.toBurnBlock()
}

func (c *HttpClient) BurnBlockAtHeight(
	ctx context.Context,
	height uint64,
) (stacks.BurnBlock, error) {
	var dto burnBlockDto
	path := fmt.Sprintf("/v1/burn/blocks/%d", height)
	if err := c.getJson(ctx, path, &dto); err != nil {
		return stacks.BurnBlock{}, err
	}
	return dto.toBurnBlock()
}

func (c *HttpClient) SortitionFor(
	ctx context.Context,
	block stacks.BurnBlock,
) (sortition.Result, error) {
	var dto sortitionDto
	path := fmt.Sprintf("/v1/sortitions/%s", block.Hash.String())
	if err := c.getJson(ctx, path, &dto); err != nil {
		return sortition.Result{}, err
	}
	chash, err := stacks.NewConsensusHash(dto.ConsensusHash)
	if err != nil {
		return sortition.Result{}, err
	}
	ret := sortition.Result{ConsensusHash: chash}
	if dto.WinningMiner != "" {
		raw, err := hex.DecodeString(dto.WinningMiner)
		if err != nil {
			return sortition.Result{}, fmt.Errorf(
				"invalid winning miner key: %w",
				err,
			)
		}
		miner, err := stacks.NewSignerID(raw)
		if err != nil {
			return sortition.Result{}, err
		}
		ret.Winner = &miner
	}
	return ret, nil
}

func (c *HttpClient) PendingProposals(
	ctx context.Context,
) ([]stacks.BlockProposal, error) {
	var dtos []proposalDto
	if err := c.getJson(ctx, "/v1/proposals/pending", &dtos); err != nil {
		return nil, err
	}
	ret := make([]stacks.BlockProposal, 0, len(dtos))
	for _, dto := range dtos {
		proposal, err := dto.toProposal()
		if err != nil {
			return nil, err
		}
		ret = append(ret, proposal)
	}
	return ret, nil
}

func (d *proposalDto) toProposal() (stacks.BlockProposal, error) {
	blockHash, err := stacks.NewBlockHash(d.BlockHash)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	parentHash, err := stacks.NewBlockHash(d.ParentBlockHash)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	tenureID, err := stacks.NewConsensusHash(d.TenureID)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	burnView, err := stacks.NewConsensusHash(d.BurnView)
	if err != nil {
		return stacks.BlockProposal{}, err
	}
	sig, err := hex.DecodeString(d.MinerSignature)
	if err != nil {
		return stacks.BlockProposal{}, fmt.Errorf(
			"invalid miner signature: %w",
			err,
		)
	}
	return stacks.BlockProposal{
		BlockHash:       blockHash,
		ParentBlockHash: parentHash,
		TenureID:        tenureID,
		Height:          d.Height,
		MinerSignature:  sig,
		BurnView:        burnView,
	}, nil
}

func (c *HttpClient) SignerSet(
	ctx context.Context,
	cycle uint64,
) (*stacks.SignerSet, error) {
	var dto signerSetDto
	path := fmt.Sprintf("/v1/signers/%d", cycle)
	if err := c.getJson(ctx, path, &dto); err != nil {
		return nil, err
	}
	set := &stacks.SignerSet{Cycle: dto.Cycle}
	for _, signer := range dto.Signers {
		raw, err := hex.DecodeString(signer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signer public key: %w", err)
		}
		id, err := stacks.NewSignerID(raw)
		if err != nil {
			return nil, err
		}
		set.Entries = append(set.Entries, stacks.SignerEntry{
			ID:     id,
			Weight: signer.Weight,
		})
	}
	return set, nil
}

// getJson performs a GET with exponential backoff on transient
// failures. Client errors other than 429 are permanent
func (c *HttpClient) getJson(
	ctx context.Context,
	path string,
	out any,
) error {
	url := c.baseUrl + path
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = c.retryTimeout
	operation := func() error {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			url,
			nil,
		)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Debug(
				"chain node request failed",
				"component", "bchain",
				"url", url,
				"error", err,
			)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf(
				"chain node returned status %d for %s",
				resp.StatusCode,
				path,
			)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
				resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(
				fmt.Errorf("decode chain node response: %w", err),
			)
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
