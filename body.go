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

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// BodyParser overrides the default content-type dispatch for a route.
// It receives the raw body bytes (never empty) and the inbound request
// for access to headers.
type BodyParser func(r *http.Request, body []byte) (any, error)

// bodyMethods are the methods that conventionally carry a body.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// parseBody reads and decodes the request body. An empty body is
// normalized to nil (absent) before validation. Dispatch order: the
// route's parser override, then the declared content type, then a
// content sniff with JSON-attempt/text fallback.
func parseBody(r *http.Request, override BodyParser) (any, error) {
	if r.Body == nil || !bodyMethods[r.Method] {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, NewError(http.StatusBadRequest, "unreadable request body")
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if override != nil {
		return override(r, raw)
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return parseJSONBody(raw)
	case mediaType == "multipart/form-data":
		return parseMultipartBody(raw, params["boundary"])
	case mediaType == "application/x-www-form-urlencoded":
		return parseFormBody(raw)
	case strings.HasPrefix(mediaType, "text/"):
		return string(raw), nil
	case mediaType == "":
		return sniffBody(raw), nil
	default:
		// Unrecognized declared type: attempt JSON, fall back to text.
		if v, err := parseJSONBody(raw); err == nil {
			return v, nil
		}
		return string(raw), nil
	}
}

func parseJSONBody(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, NewError(http.StatusBadRequest, "malformed JSON body")
	}
	return v, nil
}

// parseMultipartBody decodes a multipart form into a flat map. Repeated
// field names collapse into string slices; file parts contribute their
// content as strings under the field name.
func parseMultipartBody(raw []byte, boundary string) (any, error) {
	if boundary == "" {
		return nil, NewError(http.StatusBadRequest, "multipart body without boundary")
	}

	form := make(map[string]any)
	mr := multipart.NewReader(strings.NewReader(string(raw)), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewError(http.StatusBadRequest, "malformed multipart body")
		}
		value, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, NewError(http.StatusBadRequest, "malformed multipart body")
		}
		appendFormValue(form, part.FormName(), string(value))
	}
	return form, nil
}

func parseFormBody(raw []byte) (any, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, NewError(http.StatusBadRequest, "malformed form body")
	}
	form := make(map[string]any, len(values))
	for key, vs := range values {
		for _, v := range vs {
			appendFormValue(form, key, v)
		}
	}
	return form, nil
}

// appendFormValue keeps single values as strings and turns repeats into
// a slice.
func appendFormValue(form map[string]any, key, value string) {
	if key == "" {
		return
	}
	switch existing := form[key].(type) {
	case nil:
		form[key] = value
	case string:
		form[key] = []string{existing, value}
	case []string:
		form[key] = append(existing, value)
	}
}

// sniffBody handles requests with no declared content type: attempt
// JSON, fall back to text. Bytes that sniff as binary stay raw instead
// of being coerced into an invalid string.
func sniffBody(raw []byte) any {
	if v, err := parseJSONBody(raw); err == nil {
		return v
	}
	detected := mimetype.Detect(raw)
	for mt := detected; mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return string(raw)
		}
	}
	return raw
}
