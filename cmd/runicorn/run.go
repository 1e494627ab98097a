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
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	clifmt "github.com/Skydoge-zjm/runicorn/internal/cli/format"
	"github.com/Skydoge-zjm/runicorn/internal/config"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

var (
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect stored runs",
	}
	cmd.AddCommand(newRunListCommand())
	return cmd
}

func newRunListCommand() *cobra.Command {
	var (
		pathPrefix string
		asJSON     bool
		pageSize   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs under a path prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, closeIdx, err := openIndexReadOnly()
			if err != nil {
				return err
			}
			defer closeIdx()

			result, err := idx.ListRuns(context.Background(), index.ListRunsParams{
				Filter:   index.ListFilter{PathPrefix: pathPrefix},
				SortBy:   index.SortCreatedAt,
				SortDir:  index.SortDesc,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			printRunTable(result.Runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathPrefix, "path", "", "only runs whose path starts with this prefix")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON instead of a table")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "maximum number of runs to print")
	return cmd
}

func printRunTable(runs []index.RunSummary) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(statusMuted).
		Headers("ID", "PATH", "STATUS", "METRIC", "CREATED")

	for _, r := range runs {
		metric := "-"
		if r.PrimaryMetricName != "" {
			metric = fmt.Sprintf("%s=%.4g", r.PrimaryMetricName, r.PrimaryMetricBest)
		}
		t.Row(shortID(r.ID), r.Path, renderStatus(r.Status), metric, r.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Println(t)
}

func renderStatus(s runstore.Status) string {
	if !clifmt.IsTTY() {
		return string(s)
	}
	switch s {
	case runstore.StatusFinished:
		return statusOK.Render(string(s))
	case runstore.StatusFailed, runstore.StatusInterrupted:
		return statusError.Render(string(s))
	case runstore.StatusStale:
		return statusWarn.Render(string(s))
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// openIndexReadOnly opens the configured data root's run store and
// index for a CLI subcommand, without standing up the sweep goroutine
// or the HTTP server serve wires together. The index is opened
// read-write: delete and import write through it.
func openIndexReadOnly() (*index.Index, func(), error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, nil, err
	}
	store, err := runstore.New(cfg.DataRoot, nil)
	if err != nil {
		return nil, nil, err
	}
	idx, err := index.Open(index.Config{
		Path:             cfg.DataRoot + "/index.db",
		MetricsCacheSize: cfg.MetricsCacheSize,
	}, store, nil)
	if err != nil {
		return nil, nil, err
	}
	return idx, func() { idx.Close() }, nil
}
