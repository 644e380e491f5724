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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 128 * time.Millisecond
	retryMaxInterval     = 16384 * time.Millisecond
	defaultRetryTimeout  = 30 * time.Second
	defaultQueryTimeout  = 10 * time.Second
)

type HttpClientConfig struct {
	Logger *slog.Logger
	// BaseUrl is the replicated store's API base
	BaseUrl      string
	RetryTimeout time.Duration
	HttpClient   *http.Client
}

// HttpClient talks to the replicated store's JSON API
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

type slotDto struct {
	Slot    uint32 `json:"slot"`
	Payload []byte `json:"payload"`
}

func (c *HttpClient) Publish(
	ctx context.Context,
	slot uint32,
	payload []byte,
) error {
	url := fmt.Sprintf("%s/v1/slots/%d", c.baseUrl, slot)
	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodPut,
			url,
			bytes.NewReader(payload),
		)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK &&
			resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf(
				"replicated store returned status %d for slot %d",
				resp.StatusCode,
				slot,
			)
		}
		return nil
	})
}

func (c *HttpClient) FetchAll(
	ctx context.Context,
) ([]SlotContent, error) {
	url := c.baseUrl + "/v1/slots"
	var ret []SlotContent
	err := c.retry(ctx, func() error {
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
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf(
				"replicated store returned status %d",
				resp.StatusCode,
			)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var dtos []slotDto
		if err := json.Unmarshal(body, &dtos); err != nil {
			return backoff.Permanent(
				fmt.Errorf("decode replicated store response: %w", err),
			)
		}
		ret = ret[:0]
		for _, dto := range dtos {
			ret = append(ret, SlotContent{
				Slot:    dto.Slot,
				Payload: dto.Payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *HttpClient) retry(
	ctx context.Context,
	operation func() error,
) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = c.retryTimeout
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
