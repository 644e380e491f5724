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

package stacks

import (
	"crypto/sha256"
	"fmt"
)

// Decision is a signer's verdict on a block proposal
type Decision uint8

const (
	DecisionAccept Decision = 1
	DecisionReject Decision = 2
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	default:
		return fmt.Sprintf("unknown (%d)", d)
	}
}

// Valid returns true for a known decision value
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// Vote is a single signer's signed decision on a block hash. Exactly
// one vote per (signer, block hash) is valid; a second differing vote
// from the same signer is equivocation
type Vote struct {
	Signer    SignerID
	BlockHash BlockHash
	Decision  Decision
	Signature []byte
}

// SignHash computes the digest covered by the vote signature
func (v *Vote) SignHash() []byte {
	h := sha256.New()
	h.Write(v.Signer[:])
	h.Write(v.BlockHash[:])
	h.Write([]byte{byte(v.Decision)})
	return h.Sum(nil)
}
