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
	"testing"
	"time"

	"github.com/blinklabs-io/gosigner/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.InDelta(t, 0.70, cfg.quorumThreshold, 0.0001)
	assert.Equal(t, uint64(2100), cfg.cycleLength)
	assert.Equal(t, uint64(10), cfg.handoffWindow)
	assert.NotNil(t, cfg.logger)
}

func TestNewConfigOptions(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	cfg := NewConfig(
		WithKeyPair(keyPair),
		WithDataDir("/tmp/signer"),
		WithChainUrl("http://localhost:20443"),
		WithMsgStoreUrl("http://localhost:30443"),
		WithQuorumThreshold(0.67),
		WithCycleLength(100),
		WithHandoffWindow(5),
		WithShutdownTimeout(10*time.Second),
	)
	assert.Equal(t, keyPair, cfg.keyPair)
	assert.Equal(t, "/tmp/signer", cfg.dataDir)
	assert.Equal(t, "http://localhost:20443", cfg.chainUrl)
	assert.Equal(t, "http://localhost:30443", cfg.msgStoreUrl)
	assert.InDelta(t, 0.67, cfg.quorumThreshold, 0.0001)
	assert.Equal(t, uint64(100), cfg.cycleLength)
	assert.Equal(t, uint64(5), cfg.handoffWindow)
	assert.Equal(t, 10*time.Second, cfg.shutdownTimeout)
}

func TestConfigValidate(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	valid := []ConfigOptionFunc{
		WithKeyPair(keyPair),
		WithChainUrl("http://localhost:20443"),
		WithMsgStoreUrl("http://localhost:30443"),
	}

	_, err = New(NewConfig(valid...))
	assert.NoError(t, err)

	testDefs := []struct {
		name string
		opts []ConfigOptionFunc
	}{
		{
			name: "missing key",
			opts: []ConfigOptionFunc{
				WithChainUrl("http://localhost:20443"),
				WithMsgStoreUrl("http://localhost:30443"),
			},
		},
		{
			name: "missing chain endpoint",
			opts: []ConfigOptionFunc{
				WithKeyPair(keyPair),
				WithMsgStoreUrl("http://localhost:30443"),
			},
		},
		{
			name: "missing message store endpoint",
			opts: []ConfigOptionFunc{
				WithKeyPair(keyPair),
				WithChainUrl("http://localhost:20443"),
			},
		},
		{
			name: "threshold out of range",
			opts: append(
				[]ConfigOptionFunc{WithQuorumThreshold(1.5)},
				valid...,
			),
		},
		{
			name: "handoff window exceeds cycle",
			opts: append(
				[]ConfigOptionFunc{
					WithCycleLength(10),
					WithHandoffWindow(10),
				},
				valid...,
			),
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := New(NewConfig(testDef.opts...))
			assert.Error(t, err)
		})
	}
}
