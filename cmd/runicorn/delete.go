// Copyright 2025 Tom Barlow
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
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	var (
		runID string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a run (soft-delete by default, --force removes it permanently)",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, closeIdx, err := openIndexReadOnly()
			if err != nil {
				return err
			}
			defer closeIdx()

			store := idx.Store()

			if force {
				if err := store.HardDelete(runID); err != nil {
					return err
				}
				if err := idx.DeleteRun(context.Background(), runID); err != nil {
					return err
				}
				fmt.Printf("permanently deleted run %s\n", runID)
				return nil
			}

			status, err := store.SoftDelete(runID)
			if err != nil {
				return err
			}
			meta, err := store.ReadMeta(runID)
			if err != nil {
				return err
			}
			if err := idx.UpsertRun(context.Background(), meta, status); err != nil {
				return err
			}
			fmt.Printf("soft-deleted run %s\n", runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id to delete")
	cmd.MarkFlagRequired("run-id")
	cmd.Flags().BoolVar(&force, "force", false, "permanently remove the run directory instead of soft-deleting it")
	return cmd
}
