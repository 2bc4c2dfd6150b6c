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

import "encoding/json"

// FrameType discriminates inbound WebSocket frames.
type FrameType string

// Inbound frame types.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameMessage     FrameType = "message"
)

// Frame is a client-to-server WebSocket frame.
//
// Wire shape:
//
//	{"type":"subscribe","path":"/topic","query":{},"headers":{},"subscriptionId":"<client-id>"}
type Frame struct {
	Type           FrameType         `json:"type"`
	Path           string            `json:"path"`
	Headers        map[string]string `json:"headers,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	SubscriptionID string            `json:"subscriptionId,omitempty"`
	Data           json.RawMessage   `json:"data,omitempty"`
}

// Push is a server-to-client frame carrying either data or an error for
// a topic.
//
// Wire shape:
//
//	{"path":"/topic","data":<payload>,"subscriptionId":"<id>"}
//	{"path":"/topic","error":{"status":401,"message":"unauthorized"}}
type Push struct {
	Path           string `json:"path"`
	Data           any    `json:"data,omitempty"`
	Error          any    `json:"error,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// ErrorPayload is the structured error carried in Push.Error.
type ErrorPayload struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}
