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
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/gosigner/internal/config"
	"github.com/blinklabs-io/gosigner/signing"
	"github.com/spf13/cobra"
)

func keygenCommand() *cobra.Command {
	var outputFile string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			path := outputFile
			if path == "" {
				path = cfg.KeyFile
			}
			if _, err := os.Stat(path); err == nil && !force {
				slog.Error(
					"key file already exists, use --force to overwrite",
					"path", path,
				)
				os.Exit(1)
			}
			keyPair, err := signing.GenerateKeyPair()
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			if err := signing.SaveKeyPair(keyPair, path); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Printf(
				"wrote %s\nsigner ID: %s\n",
				path,
				keyPair.ID().String(),
			)
		},
	}
	cmd.Flags().
		StringVarP(&outputFile, "output", "o", "", "key file to write (defaults to configured key file)")
	cmd.Flags().
		BoolVarP(&force, "force", "f", false, "overwrite an existing key file")
	return cmd
}
