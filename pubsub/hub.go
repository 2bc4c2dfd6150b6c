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

// Package pubsub implements the server-side topic hub for WebSocket
// subscriptions.
//
// Topics are registered as path patterns with the same matching
// semantics as the HTTP route table (static > parametric > wildcard),
// but live in a separate registry. A subscription's key is the concrete
// resolved path, so /rooms/7 and /rooms/9 registered under /rooms/:id
// are independent topics.
//
// Each connection's subscription set is mutated only from that
// connection's read loop; the hub's maps are guarded by a single mutex,
// so two connections never contend on the same per-connection entry.
package pubsub

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/verve-dev/verve/router"
	"github.com/verve-dev/verve/validate"
)

// topicMethod is the method key under which topics live in the shared
// tree implementation.
const topicMethod = "SUB"

// StatusError is an error carrying an explicit HTTP-style status. A
// resolver or handler returning one produces a structured error frame
// instead of terminating the connection.
type StatusError interface {
	error
	HTTPStatus() int
}

// HandlerFunc handles a new subscription. A non-nil return value is sent
// to the subscriber as the initial payload.
type HandlerFunc func(*Context) (any, error)

// MessageFunc receives client "message" frames for a subscribed topic.
type MessageFunc func(*Context, json.RawMessage)

// Resolver is a named context-augmentation capability run before the
// topic handler, in declaration order. Returning a StatusError aborts
// the subscribe and is delivered to the caller as an error frame.
type Resolver struct {
	Name    string
	Resolve func(*Context) (any, error)
}

// Topic is a registered subscription endpoint.
type Topic struct {
	Pattern   string
	Handler   HandlerFunc
	OnMessage MessageFunc

	// Optional validators for the subscribe frame's inputs. A failed
	// validation drops the subscribe silently (logged, no error frame).
	Params  validate.Validator
	Query   validate.Validator
	Headers validate.Validator

	// Resolvers run in order before Handler.
	Resolvers []Resolver
}

// sender abstracts the write half of a connection so the hub can be
// exercised without a live socket.
type sender interface {
	WriteJSON(v any) error
}

// conn is the hub's per-connection state: an explicit struct owned by
// the hub, looked up by connection identity.
type conn struct {
	id   string
	send sender

	writeMu sync.Mutex

	// subscribed maps topic -> the subscriptionId from the original
	// subscribe frame. Guarded by the hub mutex.
	subscribed map[string]string
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.send.WriteJSON(v)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub tracks topic registrations and fan-out state for WebSocket
// subscriptions.
type Hub struct {
	registry *router.Tree[*Topic]
	logger   *slog.Logger
	metrics  *Metrics

	mu     sync.RWMutex
	conns  map[string]*conn
	topics map[string]map[string]*conn // topic -> conn id -> conn
}

// NewHub creates a hub. Topic registration must finish before the first
// connection is served.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry: router.New[*Topic](),
		logger:   slog.New(slog.DiscardHandler),
		conns:    make(map[string]*conn),
		topics:   make(map[string]map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = newMetrics(nil)
	}
	return h
}

// Register adds a topic pattern to the registry.
func (h *Hub) Register(t *Topic) {
	h.registry.Add(topicMethod, t.Pattern, t)
}

// ServeConn drives a WebSocket connection until it closes: it reads
// frames, applies them, and tears down the connection's subscriptions on
// exit. Intended to be called from the HTTP upgrade handler, one
// goroutine per connection.
func (h *Hub) ServeConn(ws *websocket.Conn) {
	c := h.addConn(ws)
	defer h.dropConn(c)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("websocket read ended", "conn", c.id, "error", err)
			}
			return
		}
		h.handleFrame(c, raw)
	}
}

// addConn registers a new connection with a fresh identity.
func (h *Hub) addConn(s sender) *conn {
	c := &conn{
		id:         uuid.NewString(),
		send:       s,
		subscribed: make(map[string]string),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.metrics.connectionsActive.Inc()
	return c
}

// dropConn removes a connection and all of its subscriptions, then
// closes the underlying socket. The first drop wins; later calls are
// no-ops.
func (h *Hub) dropConn(c *conn) {
	h.mu.Lock()
	if _, live := h.conns[c.id]; !live {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for topic := range c.subscribed {
		h.removeSubscriberLocked(topic, c)
	}
	h.mu.Unlock()

	h.metrics.connectionsActive.Dec()

	if closer, ok := c.send.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			h.logger.Debug("connection close failed", "conn", c.id, "error", err)
		}
	}
}

func (h *Hub) removeSubscriberLocked(topic string, c *conn) {
	set := h.topics[topic]
	if set == nil {
		return
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// handleFrame applies one inbound frame. Malformed JSON is dropped
// silently per protocol; unknown frame types are ignored.
func (h *Hub) handleFrame(c *conn, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.metrics.malformedFrames.Inc()
		h.logger.Debug("dropping malformed frame", "conn", c.id, "error", err)
		return
	}

	h.metrics.framesTotal.WithLabelValues(string(f.Type)).Inc()

	switch f.Type {
	case FrameSubscribe:
		h.subscribe(c, f)
	case FrameUnsubscribe:
		h.unsubscribe(c, normalizeTopic(f.Path))
	case FrameMessage:
		h.message(c, f)
	default:
		h.logger.Debug("ignoring unknown frame type", "conn", c.id, "type", f.Type)
	}
}

// subscribe resolves the frame's path against the topic registry,
// validates inputs, runs resolvers, invokes the handler once, and marks
// the connection as subscribed to the concrete topic.
func (h *Hub) subscribe(c *conn, f Frame) {
	topic := normalizeTopic(f.Path)

	m, ok := h.registry.Find(topicMethod, topic)
	if !ok {
		h.logger.Debug("subscribe to unknown topic dropped", "conn", c.id, "path", f.Path)
		return
	}
	t := m.Value

	ctx := &Context{
		Topic:   topic,
		Pattern: m.Pattern,
		Params:  m.Params,
		Query:   f.Query,
		Headers: lowercaseKeys(f.Headers),
	}

	if !h.validateSubscribe(c, t, ctx) {
		return
	}

	for _, r := range t.Resolvers {
		v, err := r.Resolve(ctx)
		if err != nil {
			h.sendError(c, topic, f.SubscriptionID, err)
			return
		}
		ctx.Set(r.Name, v)
	}

	if t.Handler != nil {
		initial, err := t.Handler(ctx)
		if err != nil {
			h.sendError(c, topic, f.SubscriptionID, err)
			return
		}
		if initial != nil {
			if err := c.writeJSON(Push{Path: topic, Data: initial, SubscriptionID: f.SubscriptionID}); err != nil {
				h.logger.Warn("initial payload send failed", "conn", c.id, "topic", topic, "error", err)
				return
			}
		}
	}

	h.mu.Lock()
	c.subscribed[topic] = f.SubscriptionID
	set := h.topics[topic]
	if set == nil {
		set = make(map[string]*conn)
		h.topics[topic] = set
	}
	set[c.id] = c
	h.mu.Unlock()
}

// validateSubscribe runs the topic's validators. A failure drops the
// subscribe silently.
func (h *Hub) validateSubscribe(c *conn, t *Topic, ctx *Context) bool {
	checks := []struct {
		kind      string
		validator validate.Validator
		value     map[string]string
	}{
		{"params", t.Params, ctx.Params},
		{"query", t.Query, ctx.Query},
		{"headers", t.Headers, ctx.Headers},
	}

	for _, check := range checks {
		if check.validator == nil {
			continue
		}
		res := check.validator.Validate(orEmpty(check.value))
		if !res.OK() {
			h.logger.Debug("subscribe validation failed, dropping",
				"conn", c.id, "topic", ctx.Topic, "kind", check.kind, "issues", res.Issues)
			return false
		}
	}
	return true
}

// unsubscribe removes the connection from a topic.
func (h *Hub) unsubscribe(c *conn, topic string) {
	h.mu.Lock()
	delete(c.subscribed, topic)
	h.removeSubscriberLocked(topic, c)
	h.mu.Unlock()
}

// message routes a client message frame to the topic's OnMessage
// callback, if the connection is subscribed and the topic handles
// messages.
func (h *Hub) message(c *conn, f Frame) {
	topic := normalizeTopic(f.Path)

	h.mu.RLock()
	_, subscribed := c.subscribed[topic]
	h.mu.RUnlock()
	if !subscribed {
		return
	}

	m, ok := h.registry.Find(topicMethod, topic)
	if !ok || m.Value.OnMessage == nil {
		return
	}

	m.Value.OnMessage(&Context{
		Topic:   topic,
		Pattern: m.Pattern,
		Params:  m.Params,
	}, f.Data)
}

// Publish broadcasts data to every connection subscribed to a topic.
// One connection's send failure is logged and drops that connection;
// delivery to the others proceeds.
func (h *Hub) Publish(topic string, data any) {
	topic = normalizeTopic(topic)

	h.mu.RLock()
	set := h.topics[topic]
	targets := make([]*conn, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.mu.RLock()
		subID := c.subscribed[topic]
		h.mu.RUnlock()

		if err := c.writeJSON(Push{Path: topic, Data: data, SubscriptionID: subID}); err != nil {
			h.metrics.publishErrors.Inc()
			h.logger.Warn("publish send failed", "conn", c.id, "topic", topic, "error", err)
			h.dropConn(c)
		}
	}
}

// SubscriberCount returns the number of connections subscribed to a
// topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[normalizeTopic(topic)])
}

// sendError converts an error into a structured error frame. Errors
// carrying a status keep it; anything else maps to 500 with the message
// preserved.
func (h *Hub) sendError(c *conn, topic, subscriptionID string, err error) {
	payload := ErrorPayload{Status: 500, Message: err.Error()}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		payload.Status = statusErr.HTTPStatus()
		payload.Message = statusErr.Error()
	}

	push := Push{Path: topic, Error: payload, SubscriptionID: subscriptionID}
	if werr := c.writeJSON(push); werr != nil {
		h.logger.Warn("error frame send failed", "conn", c.id, "topic", topic, "error", werr)
	}
}

// normalizeTopic strips the trailing slash so subscribe, unsubscribe,
// and publish agree on the topic key.
func normalizeTopic(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func lowercaseKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
