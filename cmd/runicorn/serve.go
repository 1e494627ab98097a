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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Skydoge-zjm/runicorn/internal/assets"
	"github.com/Skydoge-zjm/runicorn/internal/config"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/log"
	"github.com/Skydoge-zjm/runicorn/internal/remote"
	"github.com/Skydoge-zjm/runicorn/internal/runstore"
	"github.com/Skydoge-zjm/runicorn/internal/secrets"
	"github.com/Skydoge-zjm/runicorn/internal/server"
	"github.com/Skydoge-zjm/runicorn/internal/server/middleware"
	"github.com/Skydoge-zjm/runicorn/internal/tracing"
)

func newServeCommand() *cobra.Command {
	var (
		configPath  string
		host        string
		port        int
		allowRemote bool
		noRemote    bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"viewer"},
		Short:   "Run the query/streaming HTTP+WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Listen.Host = host
			}
			if port != 0 {
				cfg.Listen.Port = port
			}
			if allowRemote {
				cfg.Listen.AllowRemote = true
			}
			return runServe(cfg, noRemote)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default: XDG config dir)")
	cmd.Flags().StringVar(&host, "host", "", "override listen host")
	cmd.Flags().IntVar(&port, "port", 0, "override listen port")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "bind to a non-loopback address (SECURITY WARNING)")
	cmd.Flags().BoolVar(&noRemote, "no-remote", false, "disable the SSH remote-viewer controller")
	return cmd
}

func runServe(cfg *config.Config, noRemote bool) error {
	if cfg.Listen.AllowRemote && (cfg.Listen.TLSCert == "" || cfg.Listen.TLSKey == "") {
		return fmt.Errorf("refusing to bind %s without TLS: set listen.tls_cert/listen.tls_key or drop --allow-remote", cfg.Listen.Addr())
	}

	logCfg := log.FromEnv()
	logCfg.Level = cfg.Log.Level
	if cfg.Log.Format == "text" {
		logCfg.Format = log.FormatText
	}
	logCfg.AddSource = cfg.Log.AddSource
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}

	store, err := runstore.New(cfg.DataRoot, logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	idx, err := index.Open(index.Config{
		Path:             filepath.Join(cfg.DataRoot, "index.db"),
		MetricsCacheSize: cfg.MetricsCacheSize,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	// The index is a cache of the run directories: rebuilding it on every
	// start heals an index that is missing or behind the files.
	if err := idx.Rebuild(context.Background()); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	assetsStore, err := assets.New(cfg.DataRoot, logger)
	if err != nil {
		return fmt.Errorf("open assets store: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.RunSweep(ctx, runstore.SweepConfig{
		Interval:      cfg.StaleSweep.Interval,
		IdleThreshold: cfg.StaleSweep.IdleThreshold,
	})

	var remoteController server.RemoteController
	if !noRemote {
		backends := []secrets.SecretBackend{secrets.NewKeychainBackend(), secrets.NewEnvBackend()}
		if fileBackend, err := secrets.NewFileBackend("", ""); err != nil {
			logger.Warn("encrypted file credential backend unavailable", "error", err)
		} else {
			backends = append(backends, fileBackend)
		}
		creds := secrets.NewResolver(backends...)
		remoteController = remote.New(remote.Config{
			DataRoot:       cfg.DataRoot,
			PortRangeStart: cfg.Remote.PortRangeStart,
			PortRangeEnd:   cfg.Remote.PortRangeEnd,
			KnownHostsPath: cfg.Remote.KnownHostsPath,
			SSHPath:        cfg.Remote.SSHPath,
			LocalVersion:   version,
			Logger:         logger,
		}, creds)
	}

	router := server.NewRouter(server.Config{
		Version: version,
		Index:   idx,
		Assets:  assetsStore,
		Remote:  remoteController,
		RateLimits: map[string]middleware.RateLimitRule{
			"default": {RequestsPerSecond: cfg.RateLimit.Default.RequestsPerSecond, Burst: cfg.RateLimit.Default.Burst},
			"metrics": {RequestsPerSecond: cfg.RateLimit.Metrics.RequestsPerSecond, Burst: cfg.RateLimit.Metrics.Burst},
			"write":   {RequestsPerSecond: cfg.RateLimit.Write.RequestsPerSecond, Burst: cfg.RateLimit.Write.Burst},
		},
		Logger: logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Listen.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", slog.String("addr", cfg.Listen.Addr()), slog.String("data_root", cfg.DataRoot))
		var err error
		if cfg.Listen.TLSCert != "" {
			err = httpSrv.ListenAndServeTLS(cfg.Listen.TLSCert, cfg.Listen.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", slog.Any("error", err))
	}
	return tp.Shutdown(shutdownCtx)
}
