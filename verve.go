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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verve-dev/verve/cors"
	"github.com/verve-dev/verve/pubsub"
	"github.com/verve-dev/verve/router"
	"github.com/verve-dev/verve/sse"
	"github.com/verve-dev/verve/validate"
)

// Default configuration values.
const (
	DefaultWebSocketPath     = "/ws"
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 2 * time.Second
)

// MacroContext is the surface a macro resolver sees. Both HTTP request
// contexts and subscription contexts satisfy it, so one macro serves
// routes and topics alike.
type MacroContext interface {
	Param(key string) string
	QueryParam(key string) string
	Header(key string) string
	Get(key string) any
	Set(key string, value any)
}

// MacroFunc resolves a named capability for the current request or
// subscription. Returning an [Error] short-circuits with that status
// and message before the handler runs.
type MacroFunc func(mc MacroContext) (any, error)

// App is the mutable builder for a request-routing and messaging
// server. Routes, hooks, macros, and subscriptions are registered
// single-threaded at startup; the first call to [App.Handler] or
// [App.Listen] freezes registration, and the frozen tables are
// read-only while serving.
type App struct {
	logger  *slog.Logger
	routes  *router.Tree[*route]
	hub     *pubsub.Hub
	streams *sse.Registry
	macros  map[string]MacroFunc
	hooks   hookSet
	cors    *cors.Config
	wsPath  string

	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
	readHeaderTimeout time.Duration

	upgrader websocket.Upgrader

	startHooks []func(context.Context) error
	stopHooks  []func(context.Context) error

	freezeOnce sync.Once
	frozen     bool
	mu         sync.Mutex // guards frozen and the http server handle
	server     *http.Server
}

// OnStart registers a hook that runs before the server accepts
// connections. A hook error aborts Listen.
func (a *App) OnStart(h func(context.Context) error) *App {
	a.ensureMutable()
	a.startHooks = append(a.startHooks, h)
	return a
}

// OnStop registers a hook that runs during Shutdown, after the server
// stops accepting connections.
func (a *App) OnStop(h func(context.Context) error) *App {
	a.ensureMutable()
	a.stopHooks = append(a.stopHooks, h)
	return a
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the structured logger used by the pipeline and hub.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithCORS enables cross-origin negotiation with the given policy.
// Preflight requests are answered 204 when a route exists for the
// requested method and path, 404 otherwise.
func WithCORS(cfg cors.Config) Option {
	return func(a *App) { a.cors = &cfg }
}

// WithWebSocketPath moves the subscription endpoint off the default
// "/ws".
func WithWebSocketPath(path string) Option {
	return func(a *App) { a.wsPath = path }
}

// WithServerTimeouts overrides the HTTP server's read, write, and idle
// timeouts used by Listen.
func WithServerTimeouts(read, write, idle time.Duration) Option {
	return func(a *App) {
		a.readTimeout = read
		a.writeTimeout = write
		a.idleTimeout = idle
	}
}

// New creates an App. The zero configuration serves routes with a
// discarded log stream and the subscription endpoint on /ws.
func New(opts ...Option) *App {
	a := &App{
		logger:            slog.New(slog.DiscardHandler),
		routes:            router.New[*route](),
		streams:           sse.NewRegistry(),
		macros:            make(map[string]MacroFunc),
		wsPath:            DefaultWebSocketPath,
		readTimeout:       DefaultReadTimeout,
		writeTimeout:      DefaultWriteTimeout,
		idleTimeout:       DefaultIdleTimeout,
		readHeaderTimeout: DefaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.hub = pubsub.NewHub(pubsub.WithLogger(a.logger))
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkWSOrigin,
	}
	return a
}

// route is a compiled registration: handler, validators, enabled
// macros, and the merged hook chain.
type route struct {
	method   string
	pattern  string
	handler  HandlerFunc
	params   validate.Validator
	query    validate.Validator
	headersV validate.Validator
	body     validate.Validator

	bodyParser BodyParser
	macros     []string
	hooks      hookSet
}

// RouteOption configures a single route registration.
type RouteOption func(*route)

// WithParams validates captured path parameters.
func WithParams(v validate.Validator) RouteOption {
	return func(rt *route) { rt.params = v }
}

// WithQuery validates the flattened query string.
func WithQuery(v validate.Validator) RouteOption {
	return func(rt *route) { rt.query = v }
}

// WithHeaders validates the lower-cased header map.
func WithHeaders(v validate.Validator) RouteOption {
	return func(rt *route) { rt.headersV = v }
}

// WithBody validates the parsed request body.
func WithBody(v validate.Validator) RouteOption {
	return func(rt *route) { rt.body = v }
}

// WithBodyParser replaces content-type dispatch for this route.
func WithBodyParser(p BodyParser) RouteOption {
	return func(rt *route) { rt.bodyParser = p }
}

// WithMacros enables named capabilities on this route, resolved in the
// given order before the handler.
func WithMacros(names ...string) RouteOption {
	return func(rt *route) { rt.macros = append(rt.macros, names...) }
}

// Route-scoped hooks run after app- and group-level hooks of the same
// phase.

// OnRequest adds a route-scoped request hook.
func OnRequest(h RequestHook) RouteOption {
	return func(rt *route) { rt.hooks.onRequest = append(rt.hooks.onRequest, h) }
}

// OnTransform adds a route-scoped transform hook.
func OnTransform(h TransformHook) RouteOption {
	return func(rt *route) { rt.hooks.onTransform = append(rt.hooks.onTransform, h) }
}

// OnBeforeHandle adds a route-scoped before-handle hook.
func OnBeforeHandle(h BeforeHook) RouteOption {
	return func(rt *route) { rt.hooks.beforeHandle = append(rt.hooks.beforeHandle, h) }
}

// OnMapResponse adds a route-scoped map-response hook.
func OnMapResponse(h MapResponseHook) RouteOption {
	return func(rt *route) { rt.hooks.mapResponse = append(rt.hooks.mapResponse, h) }
}

// OnAfterHandle adds a route-scoped after-handle hook.
func OnAfterHandle(h AfterHook) RouteOption {
	return func(rt *route) { rt.hooks.afterHandle = append(rt.hooks.afterHandle, h) }
}

// OnAfterResponse adds a route-scoped fire-and-forget response hook.
func OnAfterResponse(h ResponseHook) RouteOption {
	return func(rt *route) { rt.hooks.afterResponse = append(rt.hooks.afterResponse, h) }
}

// OnError adds a route-scoped error hook.
func OnError(h ErrorHook) RouteOption {
	return func(rt *route) { rt.hooks.onError = append(rt.hooks.onError, h) }
}

// App-level hook registration. These hooks run for every route, before
// group- and route-scoped hooks of the same phase.

// OnRequest adds an app-level request hook.
func (a *App) OnRequest(h RequestHook) *App {
	a.ensureMutable()
	a.hooks.onRequest = append(a.hooks.onRequest, h)
	return a
}

// OnTransform adds an app-level transform hook.
func (a *App) OnTransform(h TransformHook) *App {
	a.ensureMutable()
	a.hooks.onTransform = append(a.hooks.onTransform, h)
	return a
}

// OnBeforeHandle adds an app-level before-handle hook.
func (a *App) OnBeforeHandle(h BeforeHook) *App {
	a.ensureMutable()
	a.hooks.beforeHandle = append(a.hooks.beforeHandle, h)
	return a
}

// OnMapResponse adds an app-level map-response hook.
func (a *App) OnMapResponse(h MapResponseHook) *App {
	a.ensureMutable()
	a.hooks.mapResponse = append(a.hooks.mapResponse, h)
	return a
}

// OnAfterHandle adds an app-level after-handle hook.
func (a *App) OnAfterHandle(h AfterHook) *App {
	a.ensureMutable()
	a.hooks.afterHandle = append(a.hooks.afterHandle, h)
	return a
}

// OnAfterResponse adds an app-level fire-and-forget response hook.
func (a *App) OnAfterResponse(h ResponseHook) *App {
	a.ensureMutable()
	a.hooks.afterResponse = append(a.hooks.afterResponse, h)
	return a
}

// OnError adds an app-level error hook.
func (a *App) OnError(h ErrorHook) *App {
	a.ensureMutable()
	a.hooks.onError = append(a.hooks.onError, h)
	return a
}

// Macro registers a named capability. Routes and subscriptions opt in
// with WithMacros / WithTopicMacros.
func (a *App) Macro(name string, resolve MacroFunc) *App {
	a.ensureMutable()
	a.macros[name] = resolve
	return a
}

// Handle registers a route for an explicit method.
func (a *App) Handle(method, path string, handler HandlerFunc, opts ...RouteOption) *App {
	a.addRoute(method, path, handler, a.hooks, nil, opts)
	return a
}

// GET registers a GET route.
func (a *App) GET(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodGet, path, handler, opts...)
}

// POST registers a POST route.
func (a *App) POST(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodPost, path, handler, opts...)
}

// PUT registers a PUT route.
func (a *App) PUT(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodPut, path, handler, opts...)
}

// PATCH registers a PATCH route.
func (a *App) PATCH(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodPatch, path, handler, opts...)
}

// DELETE registers a DELETE route.
func (a *App) DELETE(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodDelete, path, handler, opts...)
}

// OPTIONS registers an OPTIONS route.
func (a *App) OPTIONS(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodOptions, path, handler, opts...)
}

// HEAD registers a HEAD route.
func (a *App) HEAD(path string, handler HandlerFunc, opts ...RouteOption) *App {
	return a.Handle(http.MethodHead, path, handler, opts...)
}

// addRoute compiles a registration. Scope hooks and macros from the
// group chain are merged eagerly here, not consulted at request time.
func (a *App) addRoute(method, path string, handler HandlerFunc, scope hookSet, scopeMacros []string, opts []RouteOption) {
	a.ensureMutable()

	rt := &route{
		method:  method,
		pattern: path,
		handler: handler,
		macros:  append([]string(nil), scopeMacros...),
	}
	ownRoute := &route{}
	for _, opt := range opts {
		opt(ownRoute)
	}

	rt.params = ownRoute.params
	rt.query = ownRoute.query
	rt.headersV = ownRoute.headersV
	rt.body = ownRoute.body
	rt.bodyParser = ownRoute.bodyParser
	rt.macros = append(rt.macros, ownRoute.macros...)
	rt.hooks = scope.merged(ownRoute.hooks)

	if rt.handler == nil {
		rt.handler = func(*Context) (any, error) { return nil, nil }
	}

	a.routes.Add(method, path, rt)
}

// Group creates a route group under a shared path prefix. Hooks and
// macros passed here apply to every route registered through the group;
// they are merged into each route at registration time.
func (a *App) Group(prefix string, opts ...RouteOption) *Group {
	shared := &route{}
	for _, opt := range opts {
		opt(shared)
	}
	return &Group{
		app:    a,
		prefix: prefix,
		hooks:  a.hooks.merged(shared.hooks),
		macros: append([]string(nil), shared.macros...),
	}
}

// Hub returns the server-side subscription hub, e.g. to publish from
// application code.
func (a *App) Hub() *pubsub.Hub {
	return a.hub
}

// Streams returns the SSE client registry for broadcast fan-out.
func (a *App) Streams() *sse.Registry {
	return a.streams
}

// Publish fans out data to every WebSocket subscriber of a topic.
func (a *App) Publish(topic string, data any) {
	a.hub.Publish(topic, data)
}

// ensureMutable panics when registration happens after the app started
// serving. The route and topic tables are immutable snapshots once
// Handler or Listen has been called.
func (a *App) ensureMutable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		panic("verve: registration after Handler or Listen")
	}
}
