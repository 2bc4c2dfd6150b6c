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

// Package subclient is the client-side subscription manager.
//
// One transport connection is kept per distinct topic path; any number
// of local handlers multiplex over it. Outbound frames queue while the
// connection is being established and flush in order on connect. A
// transport loss that was not client-initiated schedules reconnection
// with exponential backoff (delay capped at 30s, five attempts, then
// the manager gives up until the caller subscribes again), and every
// still-registered handler is re-subscribed with its original options.
package subclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/verve-dev/verve/pubsub"
)

// Reconnection defaults; see WithBackoff and WithMaxReconnects.
const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffCap    = 30 * time.Second
	DefaultMaxReconnects = 5
)

// ErrNilHandler is returned by Subscribe when no handler is supplied.
var ErrNilHandler = errors.New("subclient: handler must not be nil")

// MessageHandler receives pushed frames for one local subscription.
// Either Data or Error is set, never both.
type MessageHandler func(push pubsub.Push)

// SubscribeOptions are carried on the subscribe frame and re-used
// verbatim when the connection re-subscribes after a reconnect.
type SubscribeOptions struct {
	Query   map[string]string
	Headers map[string]string

	// SubscriptionID overrides the generated local subscription id.
	SubscriptionID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the transport dialer (tests use an in-memory one).
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the manager's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBackoff sets the reconnect delay parameters. The n-th attempt
// waits min(base * 2^n, cap).
func WithBackoff(base, cap time.Duration) Option {
	return func(m *Manager) {
		m.backoffBase = base
		m.backoffCap = cap
	}
}

// WithMaxReconnects caps consecutive reconnection attempts. Once
// exceeded, the connection stays down until a new Subscribe call.
func WithMaxReconnects(n int) Option {
	return func(m *Manager) { m.maxReconnects = n }
}

// Manager multiplexes local subscriptions over per-path transport
// connections.
type Manager struct {
	url           string
	dialer        Dialer
	logger        *slog.Logger
	backoffBase   time.Duration
	backoffCap    time.Duration
	maxReconnects int

	mu    sync.Mutex
	conns map[string]*connection
}

// NewManager creates a manager that dials url for every distinct topic
// path.
func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:           url,
		dialer:        &WebSocketDialer{},
		logger:        slog.New(slog.DiscardHandler),
		backoffBase:   DefaultBackoffBase,
		backoffCap:    DefaultBackoffCap,
		maxReconnects: DefaultMaxReconnects,
		conns:         make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// connState is the connection's lifecycle position.
type connState int

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnected // transport lost, reconnect pending
	stateClosed       // torn down or gave up
)

// subscriber is one local handler registered on a path.
type subscriber struct {
	id      string
	handler MessageHandler
	opts    SubscribeOptions
}

// connection owns the transport for one topic path.
type connection struct {
	manager *Manager
	path    string

	// writeMu serializes transport writes: the post-dial flush, direct
	// subscribe writes, and the final unsubscribe frame. The transport
	// allows only one writer at a time. Never acquire mu while holding
	// writeMu.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     connState
	transport Transport
	gen       int // transport generation; stale read loops must not trigger reconnects
	pending   []pubsub.Frame
	subs      []*subscriber
	attempts  int
	backoff   *backoff.ExponentialBackOff
	closing   bool
}

func (m *Manager) newConnection(path string) *connection {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.backoffBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = m.backoffCap

	return &connection{
		manager: m,
		path:    path,
		state:   stateConnecting,
		backoff: b,
	}
}

// Subscribe registers a handler for a topic path. The first subscriber
// for a path opens the transport lazily; later subscribers share it.
// The returned closure unregisters the handler; when the last handler
// for the path leaves, an unsubscribe frame is sent and the transport
// is closed.
func (m *Manager) Subscribe(path string, handler MessageHandler, opts SubscribeOptions) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &subscriber{
		id:      opts.SubscriptionID,
		handler: handler,
		opts:    opts,
	}
	if sub.id == "" {
		sub.id = uuid.NewString()
	}

	m.mu.Lock()
	c := m.conns[path]
	fresh := c == nil
	if fresh {
		c = m.newConnection(path)
		m.conns[path] = c
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.enqueueLocked(c.frameFor(sub))

	revive := !fresh && c.state == stateClosed && !c.closing
	if revive {
		c.state = stateConnecting
		c.attempts = 0
		c.backoff.Reset()
	}
	c.mu.Unlock()
	m.mu.Unlock()

	if fresh || revive {
		go c.connect()
	}

	return func() { m.unsubscribe(c, sub) }, nil
}

// unsubscribe removes one local handler. Removal of the last handler
// and removal of the connection from the manager's map happen in the
// same locked step, so no publish can reach a dangling connection.
func (m *Manager) unsubscribe(c *connection, sub *subscriber) {
	m.mu.Lock()
	c.mu.Lock()

	idx := -1
	for i, s := range c.subs {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Already unsubscribed; closures are idempotent.
		c.mu.Unlock()
		m.mu.Unlock()
		return
	}
	c.subs = append(c.subs[:idx], c.subs[idx+1:]...)

	last := len(c.subs) == 0
	var t Transport
	if last {
		c.closing = true
		c.state = stateClosed
		t = c.transport
		c.transport = nil
		delete(m.conns, c.path)
	}
	c.mu.Unlock()
	m.mu.Unlock()

	if last && t != nil {
		// Best effort: the connection is going away either way.
		c.writeMu.Lock()
		_ = t.WriteJSON(pubsub.Frame{Type: pubsub.FrameUnsubscribe, Path: c.path})
		c.writeMu.Unlock()
		_ = t.Close()
	}
}

// Close tears down every connection. Handlers are not called again.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.closing = true
		c.state = stateClosed
		t := c.transport
		c.transport = nil
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
	}
}

// frameFor builds the subscribe frame for a local subscriber using its
// original options.
func (c *connection) frameFor(sub *subscriber) pubsub.Frame {
	return pubsub.Frame{
		Type:           pubsub.FrameSubscribe,
		Path:           c.path,
		Query:          sub.opts.Query,
		Headers:        sub.opts.Headers,
		SubscriptionID: sub.id,
	}
}

// enqueueLocked writes a frame now when connected, otherwise queues it
// for the in-order flush on connect. Callers hold c.mu. A direct write
// waits on writeMu, so it cannot interleave with (or overtake) a flush
// still draining the queue.
func (c *connection) enqueueLocked(f pubsub.Frame) {
	if c.state == stateConnected && c.transport != nil {
		t := c.transport
		c.writeMu.Lock()
		err := t.WriteJSON(f)
		c.writeMu.Unlock()
		if err != nil {
			c.manager.logger.Debug("frame write failed, queueing for reconnect",
				"path", c.path, "error", err)
			c.pending = append(c.pending, f)
		}
		return
	}
	c.pending = append(c.pending, f)
}

// connect dials the transport and flushes queued frames in order.
func (c *connection) connect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = stateConnecting
	c.mu.Unlock()

	t, err := c.manager.dialer.Dial(context.Background(), c.manager.url)
	if err != nil {
		c.manager.logger.Debug("dial failed", "path", c.path, "error", err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = t.Close()
		return
	}
	c.transport = t
	c.state = stateConnected
	c.attempts = 0
	c.backoff.Reset()
	c.gen++
	gen := c.gen
	pending := c.pending
	c.pending = nil
	// Take writeMu before releasing mu: a subscribe that observes the
	// connected state must queue behind the flush, not interleave with
	// it.
	c.writeMu.Lock()
	c.mu.Unlock()

	var writeErr error
	for _, f := range pending {
		if writeErr = t.WriteJSON(f); writeErr != nil {
			break
		}
	}
	c.writeMu.Unlock()
	if writeErr != nil {
		c.transportFailed(gen)
		return
	}

	go c.readLoop(t, gen)
}

// readLoop dispatches inbound pushes until the transport errors.
func (c *connection) readLoop(t Transport, gen int) {
	for {
		var push pubsub.Push
		if err := t.ReadJSON(&push); err != nil {
			c.transportFailed(gen)
			return
		}
		c.dispatch(push)
	}
}

// dispatch routes a push to the handler matching its subscription id,
// or fans out to every local handler when the id is absent.
func (c *connection) dispatch(push pubsub.Push) {
	c.mu.Lock()
	var targets []*subscriber
	if push.SubscriptionID != "" {
		for _, s := range c.subs {
			if s.id == push.SubscriptionID {
				targets = []*subscriber{s}
				break
			}
		}
	} else {
		targets = append(targets, c.subs...)
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.handler(push)
	}
}

// transportFailed handles a lost transport. Stale generations (a read
// loop outliving its replacement) and client-initiated teardowns are
// ignored.
func (c *connection) transportFailed(gen int) {
	c.mu.Lock()
	if c.closing || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.state = stateDisconnected
	c.mu.Unlock()

	c.scheduleReconnect()
}

// scheduleReconnect arms the next reconnection attempt, or gives up
// once the attempt budget is spent.
func (c *connection) scheduleReconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.manager.maxReconnects {
		c.state = stateClosed
		attempts := c.attempts - 1
		c.mu.Unlock()
		c.manager.logger.Warn("giving up on reconnection",
			"path", c.path, "attempts", attempts)
		return
	}
	c.state = stateDisconnected
	delay := c.backoff.NextBackOff()
	c.mu.Unlock()

	c.manager.logger.Debug("scheduling reconnect", "path", c.path, "delay", delay)
	time.AfterFunc(delay, c.reconnect)
}

// reconnect rebuilds the subscribe queue from the still-registered
// handlers (original options, original ids) and dials again.
func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closing || c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.pending = c.pending[:0]
	for _, sub := range c.subs {
		c.pending = append(c.pending, c.frameFor(sub))
	}
	c.mu.Unlock()

	c.connect()
}
