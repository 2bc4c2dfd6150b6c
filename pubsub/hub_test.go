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

package pubsub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verve-dev/verve/validate"
)

// fakeSender records pushed frames in place of a live socket.
type fakeSender struct {
	mu     sync.Mutex
	pushes []Push
	fail   bool
	closed int
}

func (s *fakeSender) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	if p, ok := v.(Push); ok {
		s.pushes = append(s.pushes, p)
	}
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSender) sent() []Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Push(nil), s.pushes...)
}

func (s *fakeSender) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// statusErr satisfies StatusError for macro-style short circuits.
type statusErr struct {
	status  int
	message string
}

func (e *statusErr) Error() string   { return e.message }
func (e *statusErr) HTTPStatus() int { return e.status }

func subscribeFrame(path, id string) []byte {
	raw, _ := json.Marshal(Frame{Type: FrameSubscribe, Path: path, SubscriptionID: id})
	return raw
}

func TestSubscribeSendsInitialPayload(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/rooms/:id",
		Handler: func(ctx *Context) (any, error) {
			return map[string]string{"room": ctx.Param("id")}, nil
		},
	})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/rooms/7", "sub-1"))

	pushes := s.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, "/rooms/7", pushes[0].Path)
	assert.Equal(t, "sub-1", pushes[0].SubscriptionID)
	assert.Nil(t, pushes[0].Error)
	assert.Equal(t, 1, hub.SubscriberCount("/rooms/7"))
	// The topic is the concrete path, not the pattern.
	assert.Equal(t, 0, hub.SubscriberCount("/rooms/:id"))
}

func TestSubscribeUnknownTopicDropped(t *testing.T) {
	hub := NewHub()

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/nope", "sub-1"))

	assert.Empty(t, s.sent())
}

func TestSubscribeValidationFailureSilentlyDropped(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/rooms/:id",
		Params:  validate.Rules(map[string]any{"id": "required,numeric"}),
		Handler: func(*Context) (any, error) { return "hello", nil },
	})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/rooms/not-a-number", "sub-1"))

	// No error frame, no data frame, no subscription.
	assert.Empty(t, s.sent())
	assert.Equal(t, 0, hub.SubscriberCount("/rooms/not-a-number"))
}

func TestResolverErrorShortCircuits(t *testing.T) {
	handlerRan := false

	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/private",
		Resolvers: []Resolver{{
			Name: "auth",
			Resolve: func(*Context) (any, error) {
				return nil, &statusErr{status: 401, message: "unauthorized"}
			},
		}},
		Handler: func(*Context) (any, error) {
			handlerRan = true
			return "secret", nil
		},
	})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/private", "sub-9"))

	pushes := s.sent()
	require.Len(t, pushes, 1)
	payload, ok := pushes[0].Error.(ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, 401, payload.Status)
	assert.Equal(t, "unauthorized", payload.Message)
	assert.Equal(t, "sub-9", pushes[0].SubscriptionID)
	assert.Nil(t, pushes[0].Data)

	assert.False(t, handlerRan)
	assert.Equal(t, 0, hub.SubscriberCount("/private"))
}

func TestResolverValueInjectedInDeclarationOrder(t *testing.T) {
	var order []string

	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/feed",
		Resolvers: []Resolver{
			{Name: "first", Resolve: func(*Context) (any, error) {
				order = append(order, "first")
				return "a", nil
			}},
			{Name: "second", Resolve: func(ctx *Context) (any, error) {
				order = append(order, "second")
				// Later resolvers see earlier injections.
				assert.Equal(t, "a", ctx.Get("first"))
				return "b", nil
			}},
		},
		Handler: func(ctx *Context) (any, error) {
			return ctx.Get("second"), nil
		},
	})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/feed", "sub-1"))

	assert.Equal(t, []string{"first", "second"}, order)
	pushes := s.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, "b", pushes[0].Data)
}

func TestHandlerErrorBecomesErrorFrame(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/feed",
		Handler: func(*Context) (any, error) {
			return nil, errors.New("boom")
		},
	})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/feed", "sub-1"))

	pushes := s.sent()
	require.Len(t, pushes, 1)
	payload, ok := pushes[0].Error.(ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, 500, payload.Status)
	assert.Equal(t, "boom", payload.Message)
}

func TestUnsubscribeRemovesConnection(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{Pattern: "/feed"})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/feed", "sub-1"))
	require.Equal(t, 1, hub.SubscriberCount("/feed"))

	raw, _ := json.Marshal(Frame{Type: FrameUnsubscribe, Path: "/feed"})
	hub.handleFrame(c, raw)
	assert.Equal(t, 0, hub.SubscriberCount("/feed"))
}

func TestPublishFanOutIsolatesFailures(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{Pattern: "/feed"})

	bad := &fakeSender{}
	good := &fakeSender{}
	c1 := hub.addConn(bad)
	c2 := hub.addConn(good)
	hub.handleFrame(c1, subscribeFrame("/feed", "sub-a"))
	hub.handleFrame(c2, subscribeFrame("/feed", "sub-b"))
	require.Equal(t, 2, hub.SubscriberCount("/feed"))

	bad.fail = true
	hub.Publish("/feed", "news")

	// The healthy connection got the broadcast with its own
	// subscription id; the failed one was dropped and its socket
	// closed.
	pushes := good.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, "news", pushes[0].Data)
	assert.Equal(t, "sub-b", pushes[0].SubscriptionID)
	assert.Equal(t, 1, hub.SubscriberCount("/feed"))
	assert.Equal(t, 1, bad.closeCount())
	assert.Equal(t, 0, good.closeCount())
}

func TestConnCloseRemovesAllSubscriptions(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{Pattern: "/a"})
	hub.Register(&Topic{Pattern: "/b"})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/a", "s1"))
	hub.handleFrame(c, subscribeFrame("/b", "s2"))

	hub.dropConn(c)
	assert.Equal(t, 0, hub.SubscriberCount("/a"))
	assert.Equal(t, 0, hub.SubscriberCount("/b"))
	assert.Equal(t, 1, s.closeCount())

	// Dropping twice is a no-op; the socket is closed exactly once.
	hub.dropConn(c)
	assert.Equal(t, 1, s.closeCount())
}

func TestMalformedFrameDropped(t *testing.T) {
	hub := NewHub()
	s := &fakeSender{}
	c := hub.addConn(s)

	hub.handleFrame(c, []byte("{not json"))
	assert.Empty(t, s.sent())
}

func TestMessageFrameRoutedToSubscribedTopic(t *testing.T) {
	var got json.RawMessage

	hub := NewHub()
	hub.Register(&Topic{
		Pattern: "/chat/:room",
		OnMessage: func(ctx *Context, data json.RawMessage) {
			assert.Equal(t, "7", ctx.Param("room"))
			got = data
		},
	})

	s := &fakeSender{}
	c := hub.addConn(s)

	msg, _ := json.Marshal(Frame{Type: FrameMessage, Path: "/chat/7", Data: json.RawMessage(`"hi"`)})

	// Not subscribed yet: message is ignored.
	hub.handleFrame(c, msg)
	assert.Nil(t, got)

	hub.handleFrame(c, subscribeFrame("/chat/7", "s1"))
	hub.handleFrame(c, msg)
	assert.JSONEq(t, `"hi"`, string(got))
}

func TestTrailingSlashTopicNormalization(t *testing.T) {
	hub := NewHub()
	hub.Register(&Topic{Pattern: "/feed"})

	s := &fakeSender{}
	c := hub.addConn(s)
	hub.handleFrame(c, subscribeFrame("/feed/", "s1"))

	assert.Equal(t, 1, hub.SubscriberCount("/feed"))
	assert.Equal(t, 1, hub.SubscriberCount("/feed/"))
}
