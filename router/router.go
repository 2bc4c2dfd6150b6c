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

package router

import (
	"strings"
)

// WildcardParam is the parameter name under which a wildcard segment's
// captured remainder is stored in Match.Params.
const WildcardParam = "*"

// Tree is a prefix tree mapping (method, path) pairs to values of type T.
// Paths are split on '/'; a segment starting with ':' captures a single
// segment, and a terminal '*' segment captures the remaining path.
//
// Match priority at each level is static > parametric > wildcard. The
// choice is locally greedy: once a parametric or wildcard branch is taken
// at a level it is never backtracked, so /users/list registered as a
// static route always beats /users/:id, but /users/:id/posts will not
// recover a request that already descended into a sibling static branch.
//
// Parameter values are captured positionally during traversal and
// re-associated with the names stored at the terminal node for the
// resolved method. Two methods on the same path may therefore use
// different parameter names without shadowing each other.
//
// Thread safety: Add must only be called during a single-threaded
// configuration phase. After that the tree is read-only and safe for
// concurrent Find calls without locking.
type Tree[T any] struct {
	root *node[T]
}

// node is one level of the tree. Each level holds at most one parametric
// and one wildcard child; the structural node for ":id" and ":slug" at
// the same position is shared, only the terminal's name list differs.
type node[T any] struct {
	static    map[string]*node[T]
	param     *node[T]
	wildcard  *node[T]
	terminals map[string]*terminal[T]
}

// terminal carries the registered value for one method at a node,
// together with the parameter names to zip with captured values.
type terminal[T any] struct {
	value      T
	pattern    string
	paramNames []string
}

// Match is the result of a successful lookup.
type Match[T any] struct {
	Value   T                 // The registered value
	Pattern string            // The registered pattern (e.g. "/users/:id")
	Params  map[string]string // Captured parameters, nil when the route has none
}

// New creates an empty tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{root: &node[T]{}}
}

// normalize strips the trailing slash so /users/ and /users resolve to
// the same node. The root path is left untouched.
func normalize(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// Add registers value under (method, path). Re-registering the same
// method and path overwrites the previous value (last registration wins).
//
// A '*' segment must be the last segment of the path; anything after it
// is unreachable and is ignored.
func (t *Tree[T]) Add(method, path string, value T) {
	path = normalize(path)

	current := t.root
	var paramNames []string

	if path != "/" && path != "" {
		segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
		for _, segment := range segments {
			if segment == "" {
				continue
			}

			switch {
			case segment == "*":
				if current.wildcard == nil {
					current.wildcard = &node[T]{}
				}
				current = current.wildcard
				paramNames = append(paramNames, WildcardParam)
				// Wildcard is terminal; remaining segments are unreachable.
				current.setTerminal(method, path, value, paramNames)
				return

			case strings.HasPrefix(segment, ":"):
				if current.param == nil {
					current.param = &node[T]{}
				}
				current = current.param
				paramNames = append(paramNames, segment[1:])

			default:
				if current.static == nil {
					current.static = make(map[string]*node[T], 4)
				}
				child := current.static[segment]
				if child == nil {
					child = &node[T]{}
					current.static[segment] = child
				}
				current = child
			}
		}
	}

	current.setTerminal(method, path, value, paramNames)
}

func (n *node[T]) setTerminal(method, pattern string, value T, paramNames []string) {
	if n.terminals == nil {
		n.terminals = make(map[string]*terminal[T], 2)
	}
	n.terminals[method] = &terminal[T]{
		value:      value,
		pattern:    pattern,
		paramNames: paramNames,
	}
}

// Find resolves (method, path) to a registered value and its captured
// parameters. It returns nil, false when no terminal matches: unknown
// path, arity mismatch, or no registration for the method at the
// resolved node.
//
// Lookup is O(segment count). Captured values are strings; any coercion
// is the caller's (validator's) responsibility.
func (t *Tree[T]) Find(method, path string) (*Match[T], bool) {
	path = normalize(path)

	current := t.root
	var values []string

	if path != "/" && path != "" {
		start := 0
		if path[0] == '/' {
			start = 1
		}
		pathLen := len(path)

		for start < pathLen {
			end := start
			for end < pathLen && path[end] != '/' {
				end++
			}
			segment := path[start:end]

			// Priority: static > parametric > wildcard, locally greedy.
			if next := current.static[segment]; next != nil {
				current = next
			} else if current.param != nil {
				values = append(values, segment)
				current = current.param
			} else if current.wildcard != nil {
				values = append(values, path[start:])
				current = current.wildcard
				break
			} else {
				return nil, false
			}

			start = end + 1
		}
	}

	term := current.terminals[method]
	if term == nil {
		return nil, false
	}
	if len(term.paramNames) != len(values) {
		// Arity mismatch: the traversal captured a different number of
		// segments than the terminal declares (e.g. trailing wildcard
		// reached through a deeper registration).
		return nil, false
	}

	m := &Match[T]{Value: term.value, Pattern: term.pattern}
	if len(values) > 0 {
		m.Params = make(map[string]string, len(values))
		for i, name := range term.paramNames {
			m.Params[name] = values[i]
		}
	}
	return m, true
}

// Exists reports whether a terminal is registered for (method, path)
// without materializing the parameter map. Used for CORS preflight
// checks where only route existence matters.
func (t *Tree[T]) Exists(method, path string) bool {
	_, ok := t.Find(method, path)
	return ok
}
