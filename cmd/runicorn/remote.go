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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/config"
)

// remoteClient talks to a locally running "runicorn serve" process's
// remote-viewer control surface — the connections themselves live in
// that process, not in the CLI, so every remote subcommand is a thin
// HTTP client rather than an internal/remote.Controller caller.
type remoteClient struct {
	baseURL string
	http    *http.Client
}

func newRemoteClientFromConfig() (*remoteClient, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return &remoteClient{
		baseURL: "http://" + cfg.Listen.Addr(),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// errorBody mirrors apierr.WriteHTTP's unexported response shape
// ({"detail", "error", "context"}) so the CLI, talking to the server
// over plain HTTP, can recover structured detail like a host-key
// problem instead of just a flat message.
type errorBody struct {
	Detail  string          `json:"detail"`
	Error   string          `json:"error"`
	Context json.RawMessage `json:"context"`
}

// apiError is the error returned by do() for any 4xx/5xx response; its
// body is populated whenever the server sent a JSON error body so
// callers needing structured detail (a host-key confirmation) don't
// have to re-issue the request.
type apiError struct {
	status int
	body   errorBody
}

func (e *apiError) Error() string {
	if e.body.Detail != "" {
		return e.body.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.status)
}

func (c *remoteClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is 'runicorn serve' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(&apiErr.body)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newRemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control the SSH-based remote viewer",
	}
	cmd.AddCommand(newRemoteConnectCommand())
	cmd.AddCommand(newRemoteListCommand())
	cmd.AddCommand(newRemoteDisconnectCommand())
	cmd.AddCommand(newRemoteEnvironmentsCommand())
	cmd.AddCommand(newRemoteViewerStartCommand())
	cmd.AddCommand(newRemoteViewerStopCommand())
	return cmd
}

func newRemoteConnectCommand() *cobra.Command {
	var (
		host, username, password, privateKeyPath string
		port                                     int
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a remote host over SSH",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}

			if password == "" && privateKeyPath == "" {
				password, err = promptNoEchoPassword(fmt.Sprintf("Password for %s@%s: ", username, host))
				if err != nil {
					return err
				}
			}

			body := map[string]any{
				"host": host, "port": port, "username": username,
				"auth": map[string]any{"password": password, "private_key_path": privateKeyPath},
			}
			var out struct {
				ConnectionID string `json:"connection_id"`
			}
			err = client.do(http.MethodPost, "/api/remote/connect", body, &out)
			if err == nil {
				fmt.Printf("connected: %s\n", out.ConnectionID)
				return nil
			}

			var problem apierr.HostKeyProblem
			if !decodeHostKeyProblem(err, &problem) {
				return err
			}
			return confirmAndAddKnownHost(client, problem, body)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "remote host")
	cmd.MarkFlagRequired("host")
	cmd.Flags().IntVar(&port, "port", 22, "remote SSH port")
	cmd.Flags().StringVar(&username, "username", "", "remote username")
	cmd.MarkFlagRequired("username")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted for without echo when neither --password nor --private-key is given)")
	cmd.Flags().StringVar(&privateKeyPath, "private-key", "", "path to a private key")
	return cmd
}

// promptNoEchoPassword reads a password from the controlling terminal
// without echoing it, so a bare "remote connect" never leaves a
// credential sitting in shell history or a flag visible to "ps".
func promptNoEchoPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytePw), nil
}

// decodeHostKeyProblem extracts the HostKeyProblem an apiError carries
// when the server rejected a connect attempt with 409
// host_key_confirmation_required.
func decodeHostKeyProblem(err error, out *apierr.HostKeyProblem) bool {
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.status != http.StatusConflict || apiErr.body.Error != "host_key_confirmation_required" {
		return false
	}
	var wrapper struct {
		Problem apierr.HostKeyProblem `json:"problem"`
	}
	if json.Unmarshal(apiErr.body.Context, &wrapper) != nil {
		return false
	}
	*out = wrapper.Problem
	return true
}

func confirmAndAddKnownHost(client *remoteClient, problem apierr.HostKeyProblem, connectBody map[string]any) error {
	fmt.Printf("The authenticity of host %s:%d cannot be established.\n", problem.Host, problem.Port)
	fmt.Printf("%s key fingerprint is %s.\n", problem.KeyType, problem.FingerprintSHA)
	if problem.Reason == "changed" {
		fmt.Printf("WARNING: host key has CHANGED (expected %s). This could mean an attacker is\nintercepting the connection, or the host was legitimately re-keyed.\n", problem.Expected)
	}

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Trust and remember this host key?").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !confirmed {
		return fmt.Errorf("host key not accepted")
	}

	if err := client.do(http.MethodPost, "/api/remote/known-hosts/add", map[string]any{
		"host": problem.Host, "port": problem.Port,
		"key_type": problem.KeyType, "public_key": problem.PublicKeyBytes,
	}, nil); err != nil {
		return fmt.Errorf("add known host: %w", err)
	}

	var out struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := client.do(http.MethodPost, "/api/remote/connect", connectBody, &out); err != nil {
		return err
	}
	fmt.Printf("connected: %s\n", out.ConnectionID)
	return nil
}

func newRemoteListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active remote connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}
			var out map[string]any
			if err := client.do(http.MethodGet, "/api/remote/connections", nil, &out); err != nil {
				return err
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func newRemoteDisconnectCommand() *cobra.Command {
	var cleanupPeer bool

	cmd := &cobra.Command{
		Use:   "disconnect <connection-id>",
		Short: "Close a remote connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/remote/connections/%s", args[0])
			if cleanupPeer {
				path += "?cleanup_peer=true"
			}
			if err := client.do(http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Println("disconnected")
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanupPeer, "cleanup-peer", true, "also kill the remote peer process")
	return cmd
}

func newRemoteEnvironmentsCommand() *cobra.Command {
	var connectionID string

	cmd := &cobra.Command{
		Use:   "environments",
		Short: "List compatible Python environments on a connected host",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}
			var out map[string]any
			path := fmt.Sprintf("/api/remote/environments?connection_id=%s", connectionID)
			if err := client.do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection-id", "", "connection id from 'remote connect'")
	cmd.MarkFlagRequired("connection-id")
	return cmd
}

func newRemoteViewerStartCommand() *cobra.Command {
	var connectionID, envName string

	cmd := &cobra.Command{
		Use:   "viewer-start",
		Short: "Launch and tunnel a peer on an already-connected host",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}
			var out map[string]any
			err = client.do(http.MethodPost, "/api/remote/viewer/start", map[string]any{
				"connection_id": connectionID, "env_name": envName,
			}, &out)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection-id", "", "connection id from 'remote connect'")
	cmd.MarkFlagRequired("connection-id")
	cmd.Flags().StringVar(&envName, "env", "", "remote environment name from 'remote environments'")
	cmd.MarkFlagRequired("env")
	return cmd
}

func newRemoteViewerStopCommand() *cobra.Command {
	var connectionID string

	cmd := &cobra.Command{
		Use:   "viewer-stop",
		Short: "Stop a running peer and tear down its tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClientFromConfig()
			if err != nil {
				return err
			}
			if err := client.do(http.MethodPost, "/api/remote/viewer/stop", map[string]any{
				"connection_id": connectionID,
			}, nil); err != nil {
				return err
			}
			fmt.Println("viewer stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection-id", "", "connection id from 'remote connect'")
	cmd.MarkFlagRequired("connection-id")
	return cmd
}
