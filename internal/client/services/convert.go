package services

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var ErrInvalidPayload = errors.New("invalid payload")

// NormalizeFormat lowercases format, or derives it from name's extension
// when format is empty.
func NormalizeFormat(name, format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.ToLower(filepath.Ext(name))
	}
	return strings.TrimPrefix(f, ".")
}

type table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

type blob struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// ToPayload converts raw upload bytes into the JSON document that is stored.
// Delimited text becomes {"header":[...],"rows":[[...]]}, JSON is kept as is
// and anything else is wrapped as a base64 blob.
func ToPayload(format string, raw []byte) (json.RawMessage, error) {
	switch format {
	case "json":
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
		}
		return json.RawMessage(raw), nil
	case "csv":
		return delimited(raw, ',')
	case "tsv":
		return delimited(raw, '\t')
	default:
		return json.Marshal(blob{Encoding: "base64", Data: base64.StdEncoding.EncodeToString(raw)})
	}
}

func delimited(raw []byte, comma rune) (json.RawMessage, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var t table
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if t.Header == nil {
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Header == nil {
		return nil, fmt.Errorf("%w: empty table", ErrInvalidPayload)
	}
	if t.Rows == nil {
		t.Rows = [][]string{}
	}
	return json.Marshal(t)
}
