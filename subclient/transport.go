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
	"net/http"

	"github.com/gorilla/websocket"
)

// Transport is the connection surface the manager drives. The concrete
// implementation is a WebSocket; tests substitute an in-memory pipe.
type Transport interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Dialer opens a Transport to a subscription endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	// Dialer is the underlying websocket dialer. Nil uses the package
	// default.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request (e.g. authorization).
	Header http.Header
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	ws, resp, err := wd.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, nil
}
