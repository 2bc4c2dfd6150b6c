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
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFor(t *testing.T, contentType, body string) any {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	v, err := parseBody(r, nil)
	require.NoError(t, err)
	return v
}

func TestParseBodyJSON(t *testing.T) {
	v := parseFor(t, "application/json", `{"name":"widget","qty":2}`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget", m["name"])
	assert.Equal(t, float64(2), m["qty"])
}

func TestParseBodyMalformedJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{broken`))
	r.Header.Set("Content-Type", "application/json")

	_, err := parseBody(r, nil)
	var tagged *Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, http.StatusBadRequest, tagged.Status)
}

func TestParseBodyEmptyIsAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/json")

	v, err := parseBody(r, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseBodySkippedForGET(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", strings.NewReader(`{"a":1}`))
	r.Header.Set("Content-Type", "application/json")

	v, err := parseBody(r, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseBodyURLEncoded(t *testing.T) {
	v := parseFor(t, "application/x-www-form-urlencoded", "name=widget&tag=a&tag=b")
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget", m["name"])
	// Repeated keys become arrays.
	assert.ElementsMatch(t, []string{"a", "b"}, m["tag"])
}

func TestParseBodyMultipart(t *testing.T) {
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "widget"))
	require.NoError(t, mw.WriteField("tag", "a"))
	require.NoError(t, mw.WriteField("tag", "b"))
	require.NoError(t, mw.Close())

	v := parseFor(t, mw.FormDataContentType(), buf.String())
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget", m["name"])
	assert.Equal(t, []string{"a", "b"}, m["tag"])
}

func TestParseBodyTextContentType(t *testing.T) {
	v := parseFor(t, "text/plain", "plain words")
	assert.Equal(t, "plain words", v)
}

func TestParseBodySniffsWithoutContentType(t *testing.T) {
	// JSON parses even without a declared type.
	v := parseFor(t, "", `{"a":1}`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])

	// Non-JSON falls back to text.
	v = parseFor(t, "", "just some words")
	assert.Equal(t, "just some words", v)
}

func TestParseBodyUnrecognizedTypeAttemptsJSON(t *testing.T) {
	v := parseFor(t, "application/vnd.custom", `{"ok":true}`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])

	v = parseFor(t, "application/vnd.custom", "not json")
	assert.Equal(t, "not json", v)
}

func TestParseBodyOverride(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a|b|c"))
	r.Header.Set("Content-Type", "text/plain")

	v, err := parseBody(r, func(_ *http.Request, body []byte) (any, error) {
		return strings.Split(string(body), "|"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v)
}
