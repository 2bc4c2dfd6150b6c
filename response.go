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
	"net/http"

	"github.com/gabriel-vasile/mimetype"
)

// Response is a concrete HTTP response. Handlers and hooks may return
// one directly to bypass content-type inference.
type Response struct {
	// Status defaults to 200 when zero.
	Status int

	// ContentType is set on the Content-Type header when non-empty.
	ContentType string

	// Header holds additional response headers.
	Header http.Header

	Body []byte
}

// SetHeader sets a response header, allocating the map on first use.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header, 4)
	}
	r.Header.Set(key, value)
}

// File is a named payload served under its own content type. When
// ContentType is empty it is sniffed from the content.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// synthesize turns a handler result into a concrete response using the
// content-type inference table: string is text, a byte slice is an
// octet stream, a File carries its declared type, everything else is
// JSON. A nil result becomes 204.
func synthesize(v any) (*Response, error) {
	switch v := v.(type) {
	case nil:
		return &Response{Status: http.StatusNoContent}, nil
	case *Response:
		return v, nil
	case Response:
		return &v, nil
	case string:
		return &Response{ContentType: "text/plain; charset=utf-8", Body: []byte(v)}, nil
	case []byte:
		return &Response{ContentType: "application/octet-stream", Body: v}, nil
	case *File:
		return fileResponse(v), nil
	case File:
		return fileResponse(&v), nil
	case error:
		return nil, v
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &Response{ContentType: "application/json", Body: body}, nil
	}
}

func fileResponse(f *File) *Response {
	ct := f.ContentType
	if ct == "" {
		ct = mimetype.Detect(f.Content).String()
	}
	res := &Response{ContentType: ct, Body: f.Content}
	if f.Name != "" {
		res.SetHeader("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	}
	return res
}

// write sends the response. Status zero means 200; a 204 never carries
// a body.
func (r *Response) write(w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if status == http.StatusNoContent || len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
