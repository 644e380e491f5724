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

package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blinklabs-io/gosigner/internal/config"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/blinklabs-io/gosigner/stacks"
	"github.com/spf13/cobra"
)

func parseDecision(s string) (stacks.Decision, error) {
	switch strings.ToLower(s) {
	case "accept":
		return stacks.DecisionAccept, nil
	case "reject":
		return stacks.DecisionReject, nil
	default:
		return 0, fmt.Errorf("invalid decision %q: want accept or reject", s)
	}
}

func generateVoteCommand() *cobra.Command {
	var keyFile string
	var blockHashHex string
	var decisionStr string
	cmd := &cobra.Command{
		Use:   "generate-vote",
		Short: "Sign a vote for a block hash offline",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			path := keyFile
			if path == "" {
				path = cfg.KeyFile
			}
			keyPair, err := signing.LoadKeyPair(path)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			blockHash, err := stacks.NewBlockHash(blockHashHex)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			decision, err := parseDecision(decisionStr)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			vote := stacks.Vote{
				Signer:    keyPair.ID(),
				BlockHash: blockHash,
				Decision:  decision,
			}
			sig, err := keyPair.Sign(vote.SignHash())
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Printf(
				"signer: %s\nblock hash: %s\ndecision: %s\nsignature: %s\n",
				vote.Signer,
				vote.BlockHash,
				vote.Decision,
				hex.EncodeToString(sig),
			)
		},
	}
	cmd.Flags().StringVarP(
		&keyFile,
		"key",
		"k",
		"",
		"signing key file (defaults to the configured key file)",
	)
	cmd.Flags().StringVar(
		&blockHashHex,
		"block-hash",
		"",
		"hex-encoded block hash to vote on",
	)
	cmd.Flags().StringVar(
		&decisionStr,
		"decision",
		"accept",
		"vote decision (accept or reject)",
	)
	_ = cmd.MarkFlagRequired("block-hash")
	return cmd
}

func verifyVoteCommand() *cobra.Command {
	var signerHex string
	var blockHashHex string
	var decisionStr string
	var sigHex string
	cmd := &cobra.Command{
		Use:   "verify-vote",
		Short: "Verify a vote signature offline",
		Run: func(cmd *cobra.Command, args []string) {
			signerRaw, err := hex.DecodeString(signerHex)
			if err != nil {
				slog.Error(fmt.Sprintf("invalid signer: %s", err))
				os.Exit(1)
			}
			signer, err := stacks.NewSignerID(signerRaw)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			blockHash, err := stacks.NewBlockHash(blockHashHex)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			decision, err := parseDecision(decisionStr)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				slog.Error(fmt.Sprintf("invalid signature: %s", err))
				os.Exit(1)
			}
			vote := stacks.Vote{
				Signer:    signer,
				BlockHash: blockHash,
				Decision:  decision,
			}
			if !signing.Verify(signer, vote.SignHash(), sig) {
				fmt.Println("signature invalid")
				os.Exit(1)
			}
			fmt.Println("signature valid")
		},
	}
	cmd.Flags().StringVar(
		&signerHex,
		"signer",
		"",
		"hex-encoded compressed public key of the signer",
	)
	cmd.Flags().StringVar(
		&blockHashHex,
		"block-hash",
		"",
		"hex-encoded block hash the vote covers",
	)
	cmd.Flags().StringVar(
		&decisionStr,
		"decision",
		"accept",
		"vote decision (accept or reject)",
	)
	cmd.Flags().StringVar(
		&sigHex,
		"signature",
		"",
		"hex-encoded vote signature",
	)
	_ = cmd.MarkFlagRequired("signer")
	_ = cmd.MarkFlagRequired("block-hash")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
