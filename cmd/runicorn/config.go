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
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Skydoge-zjm/runicorn/internal/config"
	"github.com/Skydoge-zjm/runicorn/internal/jq"
)

func newConfigCommand() *cobra.Command {
	var (
		show        bool
		setUserRoot string
		query       string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the tracker's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}

			if setUserRoot != "" {
				cfg, err := config.Load("")
				if err != nil {
					return err
				}
				cfg.DataRoot = setUserRoot
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Printf("data_root set to %s\n", setUserRoot)
				return nil
			}

			if show || query != "" {
				cfg, err := config.Load("")
				if err != nil {
					return err
				}
				if query != "" {
					return printQueried(cfg, query)
				}
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			}

			if _, err := os.Stat(path); os.IsNotExist(err) {
				return firstRunSetup(path)
			}
			return cmd.Help()
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the effective configuration")
	cmd.Flags().StringVar(&setUserRoot, "set-user-root", "", "persist a new data_root to the config file")
	cmd.Flags().StringVar(&query, "query", "", "a jq expression applied to the effective configuration")
	return cmd
}

// firstRunSetup prompts for a data root the first time "config" runs
// with no config file on disk yet, rather than silently writing one
// with a guessed default.
func firstRunSetup(path string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	dataRoot := cfg.DataRoot
	if err := survey.AskOne(&survey.Input{
		Message: "Where should runicorn store run data?",
		Default: dataRoot,
	}, &dataRoot); err != nil {
		return err
	}
	cfg.DataRoot = dataRoot

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("wrote %s (data_root: %s)\n", path, dataRoot)
	return nil
}

// printQueried renders v through a jq expression for config --query.
func printQueried(v any, expr string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var asMap any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return err
	}

	executor := jq.NewExecutor(5*time.Second, 8<<20)
	result, err := executor.Execute(context.Background(), expr, asMap)
	if err != nil {
		return fmt.Errorf("jq: %w", err)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
