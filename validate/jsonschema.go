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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates values against a compiled JSON Schema.
// Create one with Schema or MustSchema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// Schema compiles a JSON Schema document into a Validator.
//
// Example:
//
//	v, err := validate.Schema(`{
//	    "type": "object",
//	    "properties": {"id": {"type": "string", "pattern": "^[0-9]+$"}},
//	    "required": ["id"]
//	}`)
func Schema(schemaJSON string) (*SchemaValidator, error) {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	compiler.AssertContent()

	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &SchemaValidator{schema: schema}, nil
}

// MustSchema is like Schema but panics on compile errors. Intended for
// schemas declared at application construction time.
func MustSchema(schemaJSON string) *SchemaValidator {
	v, err := Schema(schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate implements Validator. The input is round-tripped through JSON
// so that struct values and map[string]string inputs validate the same
// way a decoded request body does.
func (v *SchemaValidator) Validate(value any) Result {
	data, err := toJSONValue(value)
	if err != nil {
		return Fail(Issue{Message: err.Error()})
	}

	if err := v.schema.Validate(data); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			var issues []Issue
			collectSchemaIssues(verr, &issues)
			return Fail(issues...)
		}
		return Fail(Issue{Message: err.Error()})
	}

	return Ok(data)
}

// toJSONValue converts an arbitrary Go value into the JSON data model
// the schema library validates (map[string]any, []any, string, float64,
// bool, nil).
func toJSONValue(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return value, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not representable as JSON: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// collectSchemaIssues flattens the structured ValidationError tree into
// leaf issues with dotted property paths.
func collectSchemaIssues(verr *jsonschema.ValidationError, issues *[]Issue) {
	if verr == nil {
		return
	}

	if len(verr.Causes) == 0 {
		*issues = append(*issues, Issue{
			Message: verr.Error(),
			Path:    strings.Join(verr.InstanceLocation, "."),
		})
		return
	}

	for _, cause := range verr.Causes {
		collectSchemaIssues(cause, issues)
	}
}
