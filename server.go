// Copyright 2026 The Verve Authors
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

package verve

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/verve-dev/verve/cors"
)

// Handler freezes registration and returns the serving handler. After
// the first call, registering routes, hooks, macros, or subscriptions
// panics: the tables are read-only snapshots while serving.
func (a *App) Handler() http.Handler {
	a.freezeOnce.Do(func() {
		a.mu.Lock()
		a.frozen = true
		a.mu.Unlock()
	})
	return http.HandlerFunc(a.serve)
}

// ServeHTTP implements http.Handler, freezing on first use.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Handler().ServeHTTP(w, r)
}

// serve is the frozen entry point: WebSocket upgrade on the
// subscription endpoint, CORS negotiation and preflight, then route
// dispatch.
func (a *App) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == a.wsPath && websocket.IsWebSocketUpgrade(r) {
		ws, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the failure response.
			a.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		a.hub.ServeConn(ws)
		return
	}

	if a.cors != nil {
		cors.Apply(w.Header(), cors.Negotiate(*a.cors, r))
		if r.Method == http.MethodOptions {
			if requested := r.Header.Get("Access-Control-Request-Method"); requested != "" {
				// Preflight succeeds only when the requested route exists.
				if a.routes.Exists(requested, r.URL.Path) {
					w.WriteHeader(http.StatusNoContent)
				} else {
					a.notFound(w)
				}
				return
			}
		}
	}

	m, ok := a.routes.Find(r.Method, r.URL.Path)
	if !ok {
		a.notFound(w)
		return
	}
	a.execute(w, r, m.Value, m.Params, m.Pattern)
}

func (a *App) notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not Found"))
}

// checkWSOrigin gates WebSocket upgrades. Without a CORS policy any
// origin is accepted (subscription auth belongs to macros); with one,
// the upgrade follows the negotiated allow-origin.
func (a *App) checkWSOrigin(r *http.Request) bool {
	if a.cors == nil || r.Header.Get("Origin") == "" {
		return true
	}
	return cors.Negotiate(*a.cors, r).Get("Access-Control-Allow-Origin") != ""
}

// Listen serves the app on addr until Shutdown or a fatal error.
//
// Routes that stream (SSE) are bounded by the write timeout; raise it
// through WithServerTimeouts when streams must outlive the default.
func (a *App) Listen(addr string) error {
	for _, h := range a.startHooks {
		if err := h(context.Background()); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadTimeout:       a.readTimeout,
		WriteTimeout:      a.writeTimeout,
		IdleTimeout:       a.idleTimeout,
		ReadHeaderTimeout: a.readHeaderTimeout,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	a.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started by Listen.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()

	var err error
	if srv != nil {
		a.logger.Info("shutting down")
		err = srv.Shutdown(ctx)
	}
	for _, h := range a.stopHooks {
		if herr := h(ctx); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}
