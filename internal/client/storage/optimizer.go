package storage

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

const (
	DefaultMaxRows        = 1000
	DefaultMaxFieldLength = 1024
)

// rowKeys are the object members treated as row-oriented data.
var rowKeys = []string{"rows", "data"}

// Optimizer shrinks JSON payloads that do not fit: long strings are cut to
// MaxFieldLength bytes and row arrays are downsampled to MaxRows by even
// striding.
type Optimizer struct {
	MaxRows        int
	MaxFieldLength int
}

func (o Optimizer) withDefaults() Optimizer {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.MaxFieldLength <= 0 {
		o.MaxFieldLength = DefaultMaxFieldLength
	}
	return o
}

// Reduce returns the reduced payload and whether it is smaller than the
// input. Payloads that are not valid JSON, and base64 blobs, are returned
// unchanged.
func (o Optimizer) Reduce(payload json.RawMessage) (json.RawMessage, bool) {
	o = o.withDefaults()

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return payload, false
	}

	if isBlob(doc) {
		return payload, false
	}

	switch v := doc.(type) {
	case []any:
		doc = o.downsample(v)
	case map[string]any:
		for _, k := range rowKeys {
			if rows, ok := v[k].([]any); ok {
				v[k] = o.downsample(rows)
			}
		}
	}
	doc = o.truncate(doc)

	out, err := json.Marshal(doc)
	if err != nil || len(out) >= len(payload) {
		return payload, false
	}
	return out, true
}

// isBlob reports whether doc is an opaque {"encoding":"base64","data":...}
// document. Cutting its data would leave it undecodable.
func isBlob(doc any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	enc, _ := m["encoding"].(string)
	_, isString := m["data"].(string)
	return enc == "base64" && isString
}

// downsample keeps MaxRows rows spread evenly over rows, first row included.
func (o Optimizer) downsample(rows []any) []any {
	n := len(rows)
	if n <= o.MaxRows {
		return rows
	}
	out := make([]any, o.MaxRows)
	for i := range out {
		out[i] = rows[i*n/o.MaxRows]
	}
	return out
}

func (o Optimizer) truncate(v any) any {
	switch t := v.(type) {
	case string:
		return truncateString(t, o.MaxFieldLength)
	case []any:
		for i := range t {
			t[i] = o.truncate(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = o.truncate(t[k])
		}
		return t
	default:
		return v
	}
}

// truncateString cuts s to at most n bytes without splitting a rune.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
