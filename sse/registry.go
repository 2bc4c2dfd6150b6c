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

package sse

import "sync"

// Registry tracks live SSE clients per topic for broadcast fan-out.
//
// A write failure on one client removes and closes that client only;
// delivery to the remaining clients proceeds. Removal checks presence in
// the live-client map first, which keeps cleanup idempotent when a
// broadcast failure races the client's own Close.
type Registry struct {
	mu      sync.Mutex
	clients map[string]map[*Emitter]struct{}
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]map[*Emitter]struct{})}
}

// Add registers a client under a topic. The caller is responsible for
// calling Remove when the stream handler returns.
func (r *Registry) Add(topic string, e *Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.clients[topic]
	if set == nil {
		set = make(map[*Emitter]struct{})
		r.clients[topic] = set
	}
	set[e] = struct{}{}
}

// Remove deregisters a client. Removing a client that is no longer
// present is a no-op.
func (r *Registry) Remove(topic string, e *Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.clients[topic]
	if set == nil {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(r.clients, topic)
	}
}

// Count returns the number of live clients for a topic.
func (r *Registry) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients[topic])
}

// Broadcast sends one record to every live client of a topic. Clients
// whose write fails are removed and closed; the fan-out continues for
// the rest.
func (r *Registry) Broadcast(topic, event string, v any) {
	r.mu.Lock()
	set := r.clients[topic]
	targets := make([]*Emitter, 0, len(set))
	for e := range set {
		targets = append(targets, e)
	}
	r.mu.Unlock()

	for _, e := range targets {
		if err := e.Send(event, v); err != nil {
			r.Remove(topic, e)
			e.Close()
		}
	}
}
