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

package subclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verve-dev/verve/pubsub"
)

// fakeTransport is an in-memory stand-in for a WebSocket. Writes are
// recorded; reads block on the incoming channel until Close.
type fakeTransport struct {
	mu        sync.Mutex
	frames    []pubsub.Frame
	incoming  chan pubsub.Push
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan pubsub.Push, 8),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}
	if f, ok := v.(pubsub.Frame); ok {
		t.mu.Lock()
		t.frames = append(t.frames, f)
		t.mu.Unlock()
	}
	return nil
}

func (t *fakeTransport) ReadJSON(v any) error {
	select {
	case p := <-t.incoming:
		*(v.(*pubsub.Push)) = p
		return nil
	case <-t.done:
		return errors.New("transport closed")
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) sent() []pubsub.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]pubsub.Frame(nil), t.frames...)
}

// fakeDialer hands out fakeTransports and can be made to stall or fail.
type fakeDialer struct {
	mu         sync.Mutex
	calls      int
	failAll    bool
	gate       chan struct{} // dials block here when non-nil
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failAll {
		return nil, errors.New("dial refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

func fastManager(d Dialer) *Manager {
	return NewManager("ws://example.test/ws",
		WithDialer(d),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
	)
}

func TestSubscribeSendsFrameWithOptions(t *testing.T) {
	d := &fakeDialer{}
	m := fastManager(d)
	defer m.Close()

	_, err := m.Subscribe("/rooms/7", func(pubsub.Push) {}, SubscribeOptions{
		Query:          map[string]string{"since": "0"},
		Headers:        map[string]string{"authorization": "Bearer x"},
		SubscriptionID: "sub-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 1
	}, time.Second, time.Millisecond)

	f := d.transport(0).sent()[0]
	assert.Equal(t, pubsub.FrameSubscribe, f.Type)
	assert.Equal(t, "/rooms/7", f.Path)
	assert.Equal(t, "0", f.Query["since"])
	assert.Equal(t, "Bearer x", f.Headers["authorization"])
	assert.Equal(t, "sub-1", f.SubscriptionID)
}

func TestNilHandlerRejected(t *testing.T) {
	m := fastManager(&fakeDialer{})
	defer m.Close()

	_, err := m.Subscribe("/rooms/7", nil, SubscribeOptions{})
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestFramesQueueWhileConnecting(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	m := fastManager(d)
	defer m.Close()

	// Both subscriptions arrive before the dial completes.
	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s1"})
	require.NoError(t, err)
	_, err = m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s2"})
	require.NoError(t, err)

	close(gate)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 2
	}, time.Second, time.Millisecond)

	// One connection for the path, frames flushed in subscribe order.
	assert.Equal(t, 1, d.dialCount())
	frames := d.transport(0).sent()
	assert.Equal(t, "s1", frames[0].SubscriptionID)
	assert.Equal(t, "s2", frames[1].SubscriptionID)
}

func TestDispatchByIDAndFanOut(t *testing.T) {
	d := &fakeDialer{}
	m := fastManager(d)
	defer m.Close()

	var mu sync.Mutex
	got := map[string]int{}
	handler := func(name string) MessageHandler {
		return func(pubsub.Push) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}

	_, err := m.Subscribe("/feed", handler("a"), SubscribeOptions{SubscriptionID: "sub-a"})
	require.NoError(t, err)
	_, err = m.Subscribe("/feed", handler("b"), SubscribeOptions{SubscriptionID: "sub-b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 2
	}, time.Second, time.Millisecond)
	tr := d.transport(0)

	// Directed push reaches only the matching handler.
	tr.incoming <- pubsub.Push{Path: "/feed", Data: json.RawMessage(`1`), SubscriptionID: "sub-a"}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["a"] == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, got["b"])
	mu.Unlock()

	// An undirected push fans out to every local handler.
	tr.incoming <- pubsub.Push{Path: "/feed", Data: json.RawMessage(`2`)}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["a"] == 2 && got["b"] == 1
	}, time.Second, time.Millisecond)
}

func TestReconnectResubscribesWithOriginalOptions(t *testing.T) {
	d := &fakeDialer{}
	m := fastManager(d)
	defer m.Close()

	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{
		Query:          map[string]string{"since": "42"},
		SubscriptionID: "sub-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 1
	}, time.Second, time.Millisecond)

	// Force a transport loss the client did not initiate.
	d.transport(0).Close()

	require.Eventually(t, func() bool {
		tr := d.transport(1)
		return tr != nil && len(tr.sent()) == 1
	}, time.Second, time.Millisecond)

	f := d.transport(1).sent()[0]
	assert.Equal(t, pubsub.FrameSubscribe, f.Type)
	assert.Equal(t, "sub-1", f.SubscriptionID)
	assert.Equal(t, "42", f.Query["since"])
}

func TestGivesUpAfterMaxReconnects(t *testing.T) {
	d := &fakeDialer{failAll: true}
	m := fastManager(d)
	defer m.Close()

	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{})
	require.NoError(t, err)

	// One initial dial plus five reconnection attempts.
	require.Eventually(t, func() bool {
		return d.dialCount() == 6
	}, 2*time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, d.dialCount())
}

func TestSubscribeRevivesAfterGiveUp(t *testing.T) {
	d := &fakeDialer{failAll: true}
	m := fastManager(d)
	defer m.Close()

	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return d.dialCount() == 6
	}, 2*time.Second, time.Millisecond)

	d.mu.Lock()
	d.failAll = false
	d.mu.Unlock()

	// The explicit new Subscribe restarts the connection.
	_, err = m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s2"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 2
	}, time.Second, time.Millisecond)
}

func TestLastUnsubscribeClosesTransport(t *testing.T) {
	d := &fakeDialer{}
	m := fastManager(d)
	defer m.Close()

	stop1, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s1"})
	require.NoError(t, err)
	stop2, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s2"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 2
	}, time.Second, time.Millisecond)
	tr := d.transport(0)

	// The first departure leaves the connection open.
	stop1()
	select {
	case <-tr.done:
		t.Fatal("transport closed while a handler remained")
	default:
	}

	stop2()
	select {
	case <-tr.done:
	case <-time.After(time.Second):
		t.Fatal("transport not closed after last unsubscribe")
	}

	// The unsubscribe frame went out before the close.
	frames := tr.sent()
	require.Len(t, frames, 3)
	assert.Equal(t, pubsub.FrameUnsubscribe, frames[2].Type)
	assert.Equal(t, "/feed", frames[2].Path)

	// Calling the closures again is a no-op.
	stop1()
	stop2()

	// A fresh subscribe dials a new connection.
	_, err = m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return d.dialCount() == 2
	}, time.Second, time.Millisecond)
}

// slowTransport stretches each write and counts how many writers are
// inside WriteJSON at once. A well-behaved client never has two.
type slowTransport struct {
	*fakeTransport
	active     int32
	overlapped int32
	entered    chan struct{}
	enterOnce  sync.Once
}

func (t *slowTransport) WriteJSON(v any) error {
	if atomic.AddInt32(&t.active, 1) > 1 {
		atomic.StoreInt32(&t.overlapped, 1)
	}
	t.enterOnce.Do(func() { close(t.entered) })
	time.Sleep(10 * time.Millisecond)
	err := t.fakeTransport.WriteJSON(v)
	atomic.AddInt32(&t.active, -1)
	return err
}

type slowDialer struct {
	gate chan struct{}
	tr   *slowTransport
}

func (d *slowDialer) Dial(context.Context, string) (Transport, error) {
	<-d.gate
	return d.tr, nil
}

func TestWritesAreSerializedDuringFlush(t *testing.T) {
	gate := make(chan struct{})
	tr := &slowTransport{
		fakeTransport: newFakeTransport(),
		entered:       make(chan struct{}),
	}
	d := &slowDialer{gate: gate, tr: tr}
	m := fastManager(d)
	defer m.Close()

	// Two subscriptions queue while the dial is held open.
	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s1"})
	require.NoError(t, err)
	_, err = m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s2"})
	require.NoError(t, err)

	// Release the dial and wait until the flush is mid-write, then
	// subscribe again. The new frame must wait for the flush to drain.
	close(gate)
	<-tr.entered
	_, err = m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{SubscriptionID: "s3"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tr.sent()) == 3
	}, time.Second, time.Millisecond)

	assert.Zero(t, atomic.LoadInt32(&tr.overlapped),
		"two goroutines were inside WriteJSON at once")
	frames := tr.sent()
	assert.Equal(t, "s1", frames[0].SubscriptionID)
	assert.Equal(t, "s2", frames[1].SubscriptionID)
	assert.Equal(t, "s3", frames[2].SubscriptionID)
}

func TestClientCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := fastManager(d)

	_, err := m.Subscribe("/feed", func(pubsub.Push) {}, SubscribeOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tr := d.transport(0)
		return tr != nil && len(tr.sent()) == 1
	}, time.Second, time.Millisecond)

	m.Close()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}
