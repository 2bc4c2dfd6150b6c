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

// Package cors computes Cross-Origin Resource Sharing response headers.
//
// Negotiate is a pure function from (Config, request) to a header set;
// it never writes to the response itself. The serving layer applies the
// headers and decides preflight status codes, so negotiation stays
// independently testable.
package cors

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Config holds the CORS policy for an application.
//
// Origin resolution order: AllowOrigins exact membership, then
// AllowAllOrigins (echoes the request origin as "*" unless credentials
// narrow it), then AllowOriginFunc. No match means an empty header set:
// the request proceeds without CORS headers and the browser enforces
// same-origin.
type Config struct {
	// AllowOrigins is the list of allowed origins for CORS requests.
	// A single-element list is the "exact string match" case.
	AllowOrigins []string

	// AllowAllOrigins allows any origin (boolean passthrough): the
	// request origin is echoed back in Access-Control-Allow-Origin.
	AllowAllOrigins bool

	// AllowOriginFunc is a custom predicate to validate origins.
	// Consulted only when the origin is not covered by AllowOrigins or
	// AllowAllOrigins.
	AllowOriginFunc func(origin string) bool

	// AllowMethods is the list of allowed HTTP methods for preflight.
	AllowMethods []string

	// AllowHeaders is the list of allowed request headers for preflight.
	AllowHeaders []string

	// ExposeHeaders is the list of headers exposed to the client.
	ExposeHeaders []string

	// AllowCredentials indicates whether credentials are allowed.
	// A wildcard allow-origin is narrowed to the echoed origin when set,
	// since "*" plus credentials is invalid per the Fetch spec.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero means the
	// header is omitted.
	MaxAge int
}

// DefaultMethods are the methods advertised on preflight when
// Config.AllowMethods is empty.
var DefaultMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// DefaultHeaders are the request headers advertised on preflight when
// Config.AllowHeaders is empty.
var DefaultHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}

// Negotiate computes the CORS response headers for a request. It returns
// an empty header set when the request carries no Origin or the origin
// is not allowed by the policy.
func Negotiate(cfg Config, r *http.Request) http.Header {
	headers := make(http.Header)

	origin := r.Header.Get("Origin")
	if origin == "" {
		return headers
	}

	allowed := resolveOrigin(cfg, origin)
	if allowed == "" {
		return headers
	}

	if cfg.AllowCredentials {
		if allowed == "*" {
			allowed = origin
		}
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	headers.Set("Access-Control-Allow-Origin", allowed)

	if len(cfg.ExposeHeaders) > 0 {
		headers.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
	}

	if r.Method == http.MethodOptions {
		methods := cfg.AllowMethods
		if len(methods) == 0 {
			methods = DefaultMethods
		}
		reqHeaders := cfg.AllowHeaders
		if len(reqHeaders) == 0 {
			reqHeaders = DefaultHeaders
		}

		headers.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
		headers.Set("Access-Control-Allow-Headers", strings.Join(reqHeaders, ", "))
		if cfg.MaxAge > 0 {
			headers.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
		}
	}

	return headers
}

// resolveOrigin returns the value for Access-Control-Allow-Origin, or
// "" when the origin is not allowed.
func resolveOrigin(cfg Config, origin string) string {
	if slices.Contains(cfg.AllowOrigins, "*") {
		return "*"
	}
	if slices.Contains(cfg.AllowOrigins, origin) {
		return origin
	}
	if cfg.AllowAllOrigins {
		// Boolean passthrough echoes the request origin rather than "*",
		// so responses stay valid with and without credentials.
		return origin
	}
	if cfg.AllowOriginFunc != nil && cfg.AllowOriginFunc(origin) {
		return origin
	}
	return ""
}

// Apply copies negotiated headers onto a response header map.
func Apply(dst http.Header, negotiated http.Header) {
	for key, values := range negotiated {
		for _, v := range values {
			dst.Set(key, v)
		}
	}
}
