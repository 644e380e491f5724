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

	"github.com/blinklabs-io/gosigner/chainstate"
	"github.com/blinklabs-io/gosigner/internal/config"
	"github.com/spf13/cobra"
)

func pruneCommand() *cobra.Command {
	var beforeCycle uint64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune vote history for finalized reward cycles",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			logger := commonRun()
			if beforeCycle == 0 {
				slog.Error("--before-cycle is required")
				os.Exit(1)
			}
			store, err := chainstate.New(&chainstate.Config{
				DataDir: cfg.DataDir,
				Logger:  logger,
			})
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			defer store.Close()
			if err := store.PruneCycles(beforeCycle); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Printf("pruned vote history below cycle %d\n", beforeCycle)
		},
	}
	cmd.Flags().
		Uint64Var(&beforeCycle, "before-cycle", 0, "prune reward cycles below this cycle number")
	return cmd
}
