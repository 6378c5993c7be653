// Copyright (c) 2026 John Earle
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

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Serve binds port and serves handler until ctx is cancelled, then shuts
// down gracefully. The first channel is closed once the port is bound. The
// error channel receives at most one serve failure and is closed when the
// server has stopped.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, <-chan error, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Webhook requests wait for the proving service.
		WriteTimeout: 10 * time.Minute,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("http server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		defer close(errCh)
		slog.Info("http server listening", "port", port)
		close(ready)
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			// in-flight requests finish before the channel closes
			<-drained
			return
		}
		errCh <- err
	}()

	return ready, errCh, nil
}
