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
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/verve-dev/verve/validate"
)

// Hook signatures, one per lifecycle phase. Within a phase, hooks run
// in registration order: app-level first, then group, then route.
type (
	// RequestHook runs before validation and may replace the raw
	// request (returning nil keeps the current one).
	RequestHook func(r *http.Request) (*http.Request, error)

	// TransformHook reshapes the context after validation.
	TransformHook func(c *Context) error

	// NextFunc runs the rest of the before-handle chain and then the
	// handler, returning the eventual result. Calling it again returns
	// the same memoized result; the handler never runs twice.
	NextFunc func() (any, error)

	// BeforeHook runs ahead of the handler. Returning a non-nil result
	// makes it the response: the rest of the chain and the handler are
	// skipped unless the hook already ran them via next, in which case
	// the hook's result overrides theirs. Returning nil without calling
	// next advances the chain (fail-open); returning nil after calling
	// next passes the chain's result through.
	BeforeHook func(c *Context, next NextFunc) (any, error)

	// HandlerFunc is the main route handler. Its result passes through
	// map-response hooks and then content-type inference.
	HandlerFunc func(c *Context) (any, error)

	// MapResponseHook converts a handler result into a concrete
	// response. Returning nil declines in favor of later hooks or the
	// inference table.
	MapResponseHook func(c *Context, result any) (*Response, error)

	// AfterHook may replace the response before it is written.
	AfterHook func(c *Context, res *Response) (*Response, error)

	// ResponseHook is notified after the response has been handed off.
	// It is not awaited by the request path and its failures are
	// invisible to the client.
	ResponseHook func(c *Context, res *Response)

	// ErrorHook maps an error to a response. Returning nil declines.
	ErrorHook func(c *Context, err error) *Response
)

// hookSet holds the hooks for every phase.
type hookSet struct {
	onRequest     []RequestHook
	onTransform   []TransformHook
	beforeHandle  []BeforeHook
	mapResponse   []MapResponseHook
	afterHandle   []AfterHook
	afterResponse []ResponseHook
	onError       []ErrorHook
}

// merged returns a new set with h's hooks followed by other's, so outer
// scopes run first within each phase.
func (h hookSet) merged(other hookSet) hookSet {
	return hookSet{
		onRequest:     append(append([]RequestHook(nil), h.onRequest...), other.onRequest...),
		onTransform:   append(append([]TransformHook(nil), h.onTransform...), other.onTransform...),
		beforeHandle:  append(append([]BeforeHook(nil), h.beforeHandle...), other.beforeHandle...),
		mapResponse:   append(append([]MapResponseHook(nil), h.mapResponse...), other.mapResponse...),
		afterHandle:   append(append([]AfterHook(nil), h.afterHandle...), other.afterHandle...),
		afterResponse: append(append([]ResponseHook(nil), h.afterResponse...), other.afterResponse...),
		onError:       append(append([]ErrorHook(nil), h.onError...), other.onError...),
	}
}

// execute runs the full lifecycle for a matched route. Every path out
// of here writes exactly one response.
func (a *App) execute(w http.ResponseWriter, r *http.Request, rt *route, params map[string]string, pattern string) {
	// Phase 1: on-request hooks may replace the raw request.
	for _, h := range rt.hooks.onRequest {
		replaced, err := h(r)
		if err != nil {
			a.respond(w, nil, rt, a.errorResponse(nil, rt, err))
			return
		}
		if replaced != nil {
			r = replaced
		}
	}

	ctx := &Context{
		Request: r,
		Writer:  w,
		Method:  r.Method,
		Path:    r.URL.Path,
		Pattern: pattern,
		Params:  params,
		Query:   flattenQuery(r),
		Headers: flattenHeaders(r.Header),
		logger:  a.logger.With("method", r.Method, "path", r.URL.Path),
	}

	// Phase 2: body parsing and validation. Failures are 400s with
	// machine-readable issues and never reach error hooks.
	body, err := parseBody(r, rt.bodyParser)
	if err != nil {
		a.respond(w, nil, rt, a.errorResponse(nil, rt, err))
		return
	}
	ctx.Body = body
	if res := a.validateContext(ctx, rt); res != nil {
		a.respond(w, nil, rt, res)
		return
	}

	// Phase 3: transform hooks reshape the context.
	for _, h := range rt.hooks.onTransform {
		if err := h(ctx); err != nil {
			a.respond(w, nil, rt, a.errorResponse(ctx, rt, err))
			return
		}
	}

	// Macro resolution: enabled capabilities in declaration order. A
	// tagged error aborts with its status before the handler runs.
	if res := a.resolveMacros(ctx, rt); res != nil {
		a.respond(w, nil, rt, res)
		return
	}

	// Phases 4 and 5: before-handle hooks wrap the handler. Each hook
	// may invoke the rest of the chain through next and inspect or
	// replace its result; the handler sits at the end of the chain and
	// runs at most once.
	handlerRan := false
	hooks := rt.hooks.beforeHandle
	var run func(i int) (any, error)
	run = func(i int) (any, error) {
		if i >= len(hooks) {
			handlerRan = true
			return rt.handler(ctx)
		}
		called := false
		var chained any
		var chainErr error
		next := func() (any, error) {
			if !called {
				called = true
				chained, chainErr = run(i + 1)
			}
			return chained, chainErr
		}
		v, err := hooks[i](ctx, next)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
		if called {
			return chained, chainErr
		}
		// The hook neither produced a result nor ran the chain itself:
		// advance fail-open, so requests cannot hang.
		return run(i + 1)
	}

	result, err := run(0)
	if err != nil {
		a.respond(w, nil, rt, a.errorResponse(ctx, rt, err))
		return
	}
	if ctx.streamed {
		// The handler owned the wire; nothing left to write.
		return
	}

	// Map-response hooks get the first chance to shape a handler
	// result. A short-circuit result skips them and goes straight to
	// inference.
	var res *Response
	if handlerRan {
		for _, h := range rt.hooks.mapResponse {
			mapped, err := h(ctx, result)
			if err != nil {
				a.respond(w, nil, rt, a.errorResponse(ctx, rt, err))
				return
			}
			if mapped != nil {
				res = mapped
				break
			}
		}
	}
	if res == nil {
		res, err = synthesize(result)
		if err != nil {
			a.respond(w, nil, rt, a.errorResponse(ctx, rt, err))
			return
		}
	}

	a.respond(w, ctx, rt, res)
}

// respond runs after-handle hooks, writes the response, and schedules
// the fire-and-forget after-response hooks.
func (a *App) respond(w http.ResponseWriter, ctx *Context, rt *route, res *Response) {
	if ctx != nil {
		for _, h := range rt.hooks.afterHandle {
			replaced, err := h(ctx, res)
			if err != nil {
				res = a.errorResponse(ctx, rt, err)
				break
			}
			if replaced != nil {
				res = replaced
			}
		}
	}

	if err := res.write(w); err != nil {
		a.logger.Debug("response write failed",
			"method", rt.method, "path", rt.pattern, "error", err)
	}

	if ctx != nil && len(rt.hooks.afterResponse) > 0 {
		go func() {
			defer func() {
				if p := recover(); p != nil {
					a.logger.Error("after-response hook panicked",
						"method", rt.method, "path", rt.pattern, "panic", p)
				}
			}()
			for _, h := range rt.hooks.afterResponse {
				h(ctx, res)
			}
		}()
	}
}

// validateContext runs the route's declared validators over params,
// query, headers, and body. The first failure yields the 400 response.
func (a *App) validateContext(ctx *Context, rt *route) *Response {
	check := func(kind string, v validate.Validator, value any, apply func(any)) *Response {
		if v == nil {
			return nil
		}
		res := v.Validate(value)
		if !res.OK() {
			return invalidResponse(kind, res.Issues)
		}
		if res.Value != nil {
			apply(res.Value)
		}
		return nil
	}

	if res := check("params", rt.params, ctx.Params, func(v any) {
		if m, ok := v.(map[string]string); ok {
			ctx.Params = m
		}
	}); res != nil {
		return res
	}
	if res := check("query", rt.query, ctx.Query, func(v any) {
		if m, ok := v.(map[string]string); ok {
			ctx.Query = m
		}
	}); res != nil {
		return res
	}
	if res := check("headers", rt.headersV, ctx.Headers, func(v any) {
		if m, ok := v.(map[string]string); ok {
			ctx.Headers = m
		}
	}); res != nil {
		return res
	}
	if rt.body != nil {
		res := rt.body.Validate(ctx.Body)
		if !res.OK() {
			return invalidResponse("body", res.Issues)
		}
		ctx.Body = res.Value
	}
	return nil
}

// invalidResponse is the 400 wire shape for a validation failure.
func invalidResponse(kind string, issues []validate.Issue) *Response {
	encoded, err := json.Marshal(issues)
	if err != nil {
		encoded = []byte(`[{"message":"validation failed"}]`)
	}
	return &Response{
		Status:      http.StatusBadRequest,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("Invalid " + kind + ": " + string(encoded)),
	}
}

// resolveMacros invokes each enabled capability in declaration order
// and injects its value into the context. A tagged error becomes the
// response immediately; the handler never runs.
func (a *App) resolveMacros(ctx *Context, rt *route) *Response {
	for _, name := range rt.macros {
		m, ok := a.macros[name]
		if !ok {
			a.logger.Warn("route enables unregistered macro",
				"macro", name, "method", rt.method, "path", rt.pattern)
			continue
		}
		v, err := m(ctx)
		if err != nil {
			var tagged *Error
			if errors.As(err, &tagged) {
				return &Response{
					Status:      tagged.Status,
					ContentType: "text/plain; charset=utf-8",
					Body:        []byte(tagged.Message),
				}
			}
			return a.errorResponse(ctx, rt, err)
		}
		ctx.Set(name, v)
	}
	return nil
}

// errorResponse logs the error, offers it to error hooks in order, and
// falls back to the tagged status or a generic 500. The original error
// is logged regardless of whether a hook recovers it.
func (a *App) errorResponse(ctx *Context, rt *route, err error) *Response {
	a.logger.Error("request error",
		"method", rt.method, "path", rt.pattern, "error", err)

	if ctx != nil {
		for _, h := range rt.hooks.onError {
			if res := h(ctx, err); res != nil {
				return res
			}
		}
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return &Response{
			Status:      tagged.Status,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(tagged.Message),
		}
	}
	return &Response{
		Status:      http.StatusInternalServerError,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("Internal Server Error: " + err.Error()),
	}
}

// flattenQuery collapses the query string into a flat map; repeated
// keys keep their first value.
func flattenQuery(r *http.Request) map[string]string {
	values := r.URL.Query()
	flat := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			flat[key] = vs[0]
		}
	}
	return flat
}

// flattenHeaders lower-cases header names into a flat map.
func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for key, vs := range h {
		if len(vs) > 0 {
			flat[strings.ToLower(key)] = vs[0]
		}
	}
	return flat
}
