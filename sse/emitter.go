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

// Package sse streams Server-Sent Events over an HTTP response.
//
// An Emitter wraps one connected client. Writes are synchronous and
// flushed per record, so the producing loop observes backpressure from
// the underlying connection instead of buffering unboundedly; the first
// failed write marks the client non-writable and stops the producer.
//
// Cleanup is idempotent: the first of handler completion, request abort,
// or write failure runs the disconnect callback, later triggers are
// no-ops.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
)

// DefaultChunkSize is the number of streamed items batched into one SSE
// record when no explicit chunk size is configured.
const DefaultChunkSize = 1024

// ErrStreamingUnsupported is returned by New when the ResponseWriter
// cannot flush.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support streaming")

// ErrClosed is returned by emit calls after the client is closed or a
// write has failed.
var ErrClosed = errors.New("sse: client closed")

// Option configures an Emitter.
type Option func(*Emitter)

// WithChunkSize sets the batch size for Stream. Values below 1 fall back
// to DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// OnDisconnect registers a callback invoked exactly once when the client
// goes away, regardless of which trigger fired first.
func OnDisconnect(fn func()) Option {
	return func(e *Emitter) {
		e.ondisconnect = fn
	}
}

// Emitter writes SSE records to one connected client.
type Emitter struct {
	w     http.ResponseWriter
	flush http.Flusher

	mu           sync.Mutex
	chunkSize    int
	closed       bool
	failed       bool
	ondisconnect func()
}

// New prepares an HTTP response for event streaming: it sets the SSE
// headers, emits an initial comment record so EventSource clients open
// immediately, and ties cleanup to the request's abort signal.
//
// The caller must invoke Close when the handler completes.
func New(w http.ResponseWriter, r *http.Request, opts ...Option) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	e := &Emitter{
		w:         w,
		flush:     flusher,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")

	// Initial comment so the client-side EventSource fires its open
	// event before any application data arrives.
	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return nil, err
	}
	flusher.Flush()

	// Client abort runs the same cleanup path as handler completion.
	context := r.Context()
	go func() {
		<-context.Done()
		e.Close()
	}()

	return e, nil
}

// Send emits one SSE record carrying the JSON encoding of v.
func (e *Emitter) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event payload: %w", err)
	}
	return e.writeRecord(event, data)
}

// Stream consumes items and emits them in batches of the configured
// chunk size, one SSE record per batch with a JSON array payload. A
// final partial batch is flushed if non-empty. The producing loop stops
// at the first write failure.
func (e *Emitter) Stream(event string, items iter.Seq[any]) error {
	batch := make([]any, 0, e.chunkSize)

	for item := range items {
		batch = append(batch, item)
		if len(batch) < e.chunkSize {
			continue
		}
		if err := e.Send(event, batch); err != nil {
			return err
		}
		batch = batch[:0]
	}

	if len(batch) > 0 {
		return e.Send(event, batch)
	}
	return nil
}

// writeRecord writes "event: <name>\ndata: <json>\n\n" and flushes. The
// first failed write closes the client.
func (e *Emitter) writeRecord(event string, data []byte) error {
	e.mu.Lock()
	if e.closed || e.failed {
		e.mu.Unlock()
		return ErrClosed
	}

	var record []byte
	if event != "" {
		record = append(record, "event: "...)
		record = append(record, event...)
		record = append(record, '\n')
	}
	record = append(record, "data: "...)
	record = append(record, data...)
	record = append(record, "\n\n"...)

	_, err := e.w.Write(record)
	if err != nil {
		e.failed = true
		e.mu.Unlock()
		e.Close()
		return err
	}
	e.flush.Flush()
	e.mu.Unlock()
	return nil
}

// Writable reports whether the client can still receive records.
func (e *Emitter) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.failed
}

// Close tears the client down. The first call fires the disconnect
// callback; subsequent calls are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	fn := e.ondisconnect
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}
