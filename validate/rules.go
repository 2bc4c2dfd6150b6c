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

package validate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Shared validator instance. The library caches struct metadata
// internally and is safe for concurrent use.
var ruleEngine = validator.New()

// RuleValidator validates flat string maps (params, query, headers)
// against go-playground tag rules keyed by field name.
type RuleValidator struct {
	rules map[string]any
}

// Rules builds a Validator from a map of field name to validation tag.
// Nested maps follow the ValidateMap convention of the underlying
// library.
//
// Example:
//
//	v := validate.Rules(map[string]any{
//	    "id":    "required,numeric",
//	    "email": "required,email",
//	})
func Rules(rules map[string]any) *RuleValidator {
	return &RuleValidator{rules: rules}
}

// Validate implements Validator. The value must be a flat string map or
// a map[string]any; anything else fails with a single issue.
func (v *RuleValidator) Validate(value any) Result {
	data, ok := toStringKeyedMap(value)
	if !ok {
		return Fail(Issue{Message: "expected an object"})
	}

	errs := ruleEngine.ValidateMap(data, v.rules)
	if len(errs) == 0 {
		return Ok(data)
	}

	issues := make([]Issue, 0, len(errs))
	for field, err := range errs {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				issues = append(issues, Issue{
					Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
					Path:    field,
				})
			}
			continue
		}
		if e, ok := err.(error); ok {
			issues = append(issues, Issue{Message: e.Error(), Path: field})
		}
	}
	return Fail(issues...)
}

// toStringKeyedMap widens map[string]string inputs so the same rules
// apply to params, query, and decoded JSON objects.
func toStringKeyedMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	default:
		return nil, false
	}
}
