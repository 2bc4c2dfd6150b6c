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

// Package validate defines the validation contract consumed by the
// request pipeline and the subscription hub, plus two ready-made
// backends: JSON Schema (github.com/santhosh-tekuri/jsonschema/v6) and
// rule maps (github.com/go-playground/validator/v10).
//
// A Validator turns a raw input value into either a validated value or a
// list of issues; it never signals failure through a Go error. The
// pipeline treats a non-empty issue list as an HTTP 400.
package validate

import (
	"fmt"
)

// Issue describes a single validation failure.
type Issue struct {
	Message string `json:"message"`        // Human-readable message
	Path    string `json:"path,omitempty"` // Property path (e.g. "items.2.price")
}

// Error returns a formatted message as "path: message" or just "message"
// if path is empty.
func (i Issue) Error() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Result is the outcome of a validation: either a (possibly transformed)
// value, or one or more issues.
type Result struct {
	Value  any
	Issues []Issue
}

// OK reports whether validation succeeded.
func (r Result) OK() bool {
	return len(r.Issues) == 0
}

// Ok wraps a validated value in a successful Result.
func Ok(value any) Result {
	return Result{Value: value}
}

// Fail builds a failed Result from one or more issues.
func Fail(issues ...Issue) Result {
	return Result{Issues: issues}
}

// Validator converts raw input into a validated value or a structured
// issue list.
type Validator interface {
	Validate(value any) Result
}

// Func adapts an ordinary function to the Validator interface.
//
// Example:
//
//	v := validate.Func(func(value any) validate.Result {
//	    s, ok := value.(string)
//	    if !ok || s == "" {
//	        return validate.Fail(validate.Issue{Message: "must be a non-empty string"})
//	    }
//	    return validate.Ok(s)
//	})
type Func func(value any) Result

// Validate implements Validator.
func (f Func) Validate(value any) Result {
	return f(value)
}
