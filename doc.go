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

// Package verve is a request-routing and real-time messaging engine:
// an HTTP API server with a multi-phase request lifecycle, plus
// WebSocket topic subscriptions and Server-Sent-Event streams.
//
// # Routing
//
// Paths use literal segments, :name captures, and a terminal * wildcard.
// Static segments win over captures, captures over wildcards, decided
// locally at each level:
//
//	app := verve.New()
//	app.GET("/users/:id", func(c *verve.Context) (any, error) {
//	    return map[string]string{"id": c.Param("id")}, nil
//	})
//
// # Lifecycle
//
// Each request passes through ordered phases: on-request hooks,
// validation, transform hooks, macro resolution, before-handle hooks,
// the handler (exactly once), map-response hooks, after-handle hooks,
// and fire-and-forget after-response hooks. A before-handle hook that
// returns a value short-circuits the rest, or it can run the rest of
// the chain through its next argument and wrap the result; errors flow
// to on-error hooks before falling back to the tagged status or a 500.
//
// # Macros
//
// A macro is a named context-augmentation capability. Routes and
// subscriptions opt in by name; resolvers run in declaration order and
// may short-circuit with a status-tagged [Error]:
//
//	app.Macro("auth", func(mc verve.MacroContext) (any, error) {
//	    token := mc.Header("Authorization")
//	    if token == "" {
//	        return nil, verve.NewError(401, "missing token")
//	    }
//	    return lookupUser(token)
//	})
//	app.GET("/me", meHandler, verve.WithMacros("auth"))
//
// # Subscriptions
//
// Topics registered with [App.Subscription] are served over a single
// WebSocket endpoint (default /ws); [App.Publish] fans out to every
// subscriber of a concrete topic path. SSE handlers open a stream with
// [Context.Stream] and register it with [App.Streams] for broadcasts.
package verve
