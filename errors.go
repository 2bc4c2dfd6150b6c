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

import "fmt"

// Error is a tagged status+message pair used for deliberate
// short-circuits: macro resolvers and handlers return it to end the
// request with a specific HTTP status. Any other error becomes a
// generic 500.
//
// Error satisfies the hub's status-error contract, so the same value
// returned from a subscription resolver becomes an error frame with the
// same status.
type Error struct {
	Status  int
	Message string
}

// NewError builds an Error with the given status and message.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus returns the status carried by the error.
func (e *Error) HTTPStatus() int {
	return e.Status
}
