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

/*
Package tracing provides distributed tracing and request correlation for
the run storage and query server.

Tracing is opt-in and ships with a stdout exporter by default, so enabling
it never sends data off the host. The OTLP exporter types are rejected by
NewProvider, so nothing in this package reaches out to the network.

# Quick Start

Create a provider:

	cfg := tracing.DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = "runicorn"

	provider, err := tracing.NewProvider(cfg)
	defer provider.Shutdown(context.Background())

	tracer := provider.Tracer("server")
	ctx, span := tracer.Start(ctx, "list-runs")
	defer span.End()

# Correlation IDs

Correlation IDs link a request across the HTTP layer, any outward RPC the
remote controller makes, and the log lines that result:

	handler = tracing.CorrelationMiddleware(handler)
	id := tracing.FromContext(ctx)

# Configuration

Tracing has no section in the config file. The serve command builds its
Provider from DefaultConfig, which leaves tracing disabled.
*/
package tracing
