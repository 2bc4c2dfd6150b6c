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

package pubsub

import "strings"

// Context is the per-subscription context handed to topic handlers and
// resolvers. It carries the validated subscribe-frame inputs plus any
// resolver-injected values.
type Context struct {
	// Topic is the concrete resolved path (the pub/sub key), not the
	// registered pattern.
	Topic string

	// Pattern is the registered topic pattern (e.g. "/rooms/:id").
	Pattern string

	Params  map[string]string
	Query   map[string]string
	Headers map[string]string

	values map[string]any
}

// Param returns a captured path parameter.
func (c *Context) Param(key string) string {
	return c.Params[key]
}

// QueryParam returns a query value from the subscribe frame.
func (c *Context) QueryParam(key string) string {
	return c.Query[key]
}

// Header returns a header value from the subscribe frame. Keys are
// lower-cased when the frame is accepted.
func (c *Context) Header(key string) string {
	return c.Headers[strings.ToLower(key)]
}

// Get returns a resolver-injected value by capability name.
func (c *Context) Get(name string) any {
	return c.values[name]
}

// Set attaches a value under a capability name.
func (c *Context) Set(name string, value any) {
	if c.values == nil {
		c.values = make(map[string]any, 4)
	}
	c.values[name] = value
}
