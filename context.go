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
	"log/slog"
	"net/http"
	"strings"

	"github.com/verve-dev/verve/sse"
)

// Context is the per-request context handed to hooks, macros, and the
// route handler. It is built after validation, so Params, Query,
// Headers, and Body hold validated values where the route declares
// validators. Transform hooks may mutate it; it is discarded once the
// response is sent.
type Context struct {
	// Request is the inbound request, after any on-request hook
	// replacements.
	Request *http.Request

	// Writer is the underlying response writer. Most handlers return a
	// value instead of writing directly; it is exposed for streaming.
	Writer http.ResponseWriter

	Method  string
	Path    string
	Pattern string

	Params  map[string]string
	Query   map[string]string
	Headers map[string]string // lower-cased keys

	// Body is the parsed request body, or nil when absent.
	Body any

	values   map[string]any
	logger   *slog.Logger
	streamed bool
}

// Param returns a captured path parameter. Values are always strings;
// coercion belongs to the route's validators.
func (c *Context) Param(key string) string {
	return c.Params[key]
}

// QueryParam returns a query-string value.
func (c *Context) QueryParam(key string) string {
	return c.Query[key]
}

// Header returns a request header value. Lookup is case-insensitive.
func (c *Context) Header(key string) string {
	return c.Headers[strings.ToLower(key)]
}

// Get returns a value injected by a macro or an earlier hook.
func (c *Context) Get(key string) any {
	return c.values[key]
}

// Set attaches a value to the context for later phases.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any, 4)
	}
	c.values[key] = value
}

// Logger returns the app logger scoped to this request's method and
// path.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Error builds a status-tagged error. Returning it from a handler or
// macro ends the request with that status and message.
func (c *Context) Error(status int, message string) *Error {
	return NewError(status, message)
}

// Stream upgrades the response to a Server-Sent-Events stream. The
// handler owns the returned emitter and should return nil after the
// stream ends; the response has already been written.
func (c *Context) Stream(opts ...sse.Option) (*sse.Emitter, error) {
	e, err := sse.New(c.Writer, c.Request, opts...)
	if err != nil {
		return nil, err
	}
	c.streamed = true
	return e, nil
}
