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

// Package router implements the path-matching prefix tree used by both
// the HTTP route table and the subscription topic registry.
//
// Path syntax:
//
//   - literal segments: /users/list
//   - single captured segment: /users/:id
//   - terminal catch-all: /files/*
//
// The tree is generic over the stored value so the same matching
// semantics back HTTP routes and pub/sub topics:
//
//	routes := router.New[*myRoute]()
//	routes.Add("GET", "/users/:id", rt)
//	if m, ok := routes.Find("GET", "/users/42"); ok {
//	    id := m.Params["id"] // "42"
//	}
package router
