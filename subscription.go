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
	"github.com/verve-dev/verve/pubsub"
	"github.com/verve-dev/verve/validate"
)

// subscriptionConfig collects per-topic options before the topic is
// handed to the hub.
type subscriptionConfig struct {
	params    validate.Validator
	query     validate.Validator
	headers   validate.Validator
	macros    []string
	onMessage pubsub.MessageFunc
}

// SubscriptionOption configures a topic registration.
type SubscriptionOption func(*subscriptionConfig)

// WithTopicParams validates captured path parameters of the subscribe
// frame.
func WithTopicParams(v validate.Validator) SubscriptionOption {
	return func(c *subscriptionConfig) { c.params = v }
}

// WithTopicQuery validates the subscribe frame's query map.
func WithTopicQuery(v validate.Validator) SubscriptionOption {
	return func(c *subscriptionConfig) { c.query = v }
}

// WithTopicHeaders validates the subscribe frame's header map.
func WithTopicHeaders(v validate.Validator) SubscriptionOption {
	return func(c *subscriptionConfig) { c.headers = v }
}

// WithTopicMacros enables named capabilities for the subscription,
// resolved in the given order before the topic handler. A macro error
// becomes an error frame instead of terminating the connection.
func WithTopicMacros(names ...string) SubscriptionOption {
	return func(c *subscriptionConfig) { c.macros = append(c.macros, names...) }
}

// WithOnMessage handles inbound "message" frames from connections
// subscribed to the topic.
func WithOnMessage(f pubsub.MessageFunc) SubscriptionOption {
	return func(c *subscriptionConfig) { c.onMessage = f }
}

// Subscription registers a WebSocket topic. The handler runs once per
// subscribe frame; its return value is pushed to the caller as the
// initial payload.
func (a *App) Subscription(path string, handler pubsub.HandlerFunc, opts ...SubscriptionOption) *App {
	a.ensureMutable()

	cfg := &subscriptionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	resolvers := make([]pubsub.Resolver, 0, len(cfg.macros))
	for _, name := range cfg.macros {
		resolve, ok := a.macros[name]
		if !ok {
			a.logger.Warn("subscription enables unregistered macro",
				"macro", name, "path", path)
			continue
		}
		resolvers = append(resolvers, pubsub.Resolver{
			Name: name,
			Resolve: func(ctx *pubsub.Context) (any, error) {
				return resolve(ctx)
			},
		})
	}

	a.hub.Register(&pubsub.Topic{
		Pattern:   path,
		Handler:   handler,
		OnMessage: cfg.onMessage,
		Params:    cfg.params,
		Query:     cfg.query,
		Headers:   cfg.headers,
		Resolvers: resolvers,
	})
	return a
}
