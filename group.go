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
	"net/http"
	"strings"
)

// Group organizes routes under a shared path prefix with shared hooks
// and macros. Inheritance is eager: the group's configuration is merged
// into each contained route when the route registers, so later changes
// to the group do not affect earlier routes.
type Group struct {
	app    *App
	prefix string
	hooks  hookSet
	macros []string
}

// Group nests another group under this one, combining prefixes and
// inheriting hooks and macros.
func (g *Group) Group(prefix string, opts ...RouteOption) *Group {
	shared := &route{}
	for _, opt := range opts {
		opt(shared)
	}
	return &Group{
		app:    g.app,
		prefix: g.join(prefix),
		hooks:  g.hooks.merged(shared.hooks),
		macros: append(append([]string(nil), g.macros...), shared.macros...),
	}
}

// Handle registers a route under the group prefix.
func (g *Group) Handle(method, path string, handler HandlerFunc, opts ...RouteOption) *Group {
	g.app.addRoute(method, g.join(path), handler, g.hooks, g.macros, opts)
	return g
}

// GET registers a GET route under the group prefix.
func (g *Group) GET(path string, handler HandlerFunc, opts ...RouteOption) *Group {
	return g.Handle(http.MethodGet, path, handler, opts...)
}

// POST registers a POST route under the group prefix.
func (g *Group) POST(path string, handler HandlerFunc, opts ...RouteOption) *Group {
	return g.Handle(http.MethodPost, path, handler, opts...)
}

// PUT registers a PUT route under the group prefix.
func (g *Group) PUT(path string, handler HandlerFunc, opts ...RouteOption) *Group {
	return g.Handle(http.MethodPut, path, handler, opts...)
}

// PATCH registers a PATCH route under the group prefix.
func (g *Group) PATCH(path string, handler HandlerFunc, opts ...RouteOption) *Group {
	return g.Handle(http.MethodPatch, path, handler, opts...)
}

// DELETE registers a DELETE route under the group prefix.
func (g *Group) DELETE(path string, handler HandlerFunc, opts ...RouteOption) *Group {
	return g.Handle(http.MethodDelete, path, handler, opts...)
}

// join combines the group prefix with a route path, normalizing the
// slash between them.
func (g *Group) join(path string) string {
	prefix := strings.TrimSuffix(g.prefix, "/")
	if path == "" || path == "/" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}
