package fmg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Attributes are the extra members of a request's params entry, next to
// "url" (data, filter, fields, option, ...).
type Attributes map[string]any

// Request is the JSON-RPC envelope posted to /jsonrpc.
type Request struct {
	Method  string           `json:"method"`
	Params  []map[string]any `json:"params"`
	Session *string          `json:"session"`
	ID      int64            `json:"id"`
}

// Response is the JSON-RPC envelope returned by the appliance.
type Response struct {
	ID      int64    `json:"id"`
	Result  []Result `json:"result"`
	Session string   `json:"session,omitempty"`
}

// Result is one entry of a response's result array.
type Result struct {
	URL    string          `json:"url"`
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Status is the per-result status block. Code 0 means success.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Record is one object of a table returned by a get.
type Record map[string]any

// Field is one key/value pair of an object, in wire order.
type Field struct {
	Key   string
	Value string
}

var (
	// ErrNotLoggedIn is returned by operations that need a session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNoSession is returned when a login response carries no session.
	ErrNoSession = errors.New("no session ID was returned, check the login and password")

	// ErrNoChecksum is returned when a checksum get carries no chksum.
	ErrNoChecksum = errors.New("no checksum in response")

	// ErrInvalidDebugFlag is returned by SetDebug for anything other than
	// on, off or show.
	ErrInvalidDebugFlag = errors.New("debug flag must be one of on, off, show")

	// ErrEmptyResult is returned when a response has no result entries.
	ErrEmptyResult = errors.New("empty result")
)

// StatusError reports a non-zero status code returned for a url.
type StatusError struct {
	Code    int
	Message string
	URL     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.Code, e.Message)
}

// first returns the first result of r, or an error if it is missing or
// carries a non-zero status.
func (r *Response) first() (*Result, error) {
	if len(r.Result) == 0 {
		return nil, ErrEmptyResult
	}
	res := &r.Result[0]
	if res.Status.Code != 0 {
		return nil, &StatusError{Code: res.Status.Code, Message: res.Status.Message, URL: res.URL}
	}
	return res, nil
}

// ParseChecksum extracts data.chksum, which the appliance sends either as
// a string or as a number.
func ParseChecksum(data json.RawMessage) (string, error) {
	var body struct {
		Chksum json.RawMessage `json:"chksum"`
	}
	if len(data) == 0 {
		return "", ErrNoChecksum
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("failed to decode checksum: %w", err)
	}
	raw := bytes.TrimSpace(body.Chksum)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNoChecksum
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("failed to decode checksum: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("failed to decode checksum: %w", err)
	}
	return n.String(), nil
}

// ParseRecords decodes data as a table. A single object is returned as a
// one-record table.
func ParseRecords(data json.RawMessage) ([]Record, error) {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return []Record{rec}, nil
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return recs, nil
}

// ParseFields decodes a JSON object into its key/value pairs, keeping the
// order the keys were sent in. Scalars are rendered bare; nested objects
// and arrays are rendered as compact JSON.
func ParseFields(data json.RawMessage) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("failed to decode object: unexpected %v", tok)
	}

	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to decode object: %w", err)
		}
		key, _ := tok.(string)

		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode value of %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Value: renderValue(v)})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return fields, nil
}

func renderValue(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	case '{', '[':
		var b bytes.Buffer
		if err := json.Compact(&b, v); err == nil {
			return b.String()
		}
	case 'n':
		return ""
	}
	return string(v)
}

