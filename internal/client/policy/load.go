package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/NadirInab/datavis-sub001/internal/timex"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// fileTable is the YAML layout of a tier override file:
//
//	tiers:
//	  visitor:
//	    max_files: 3
//	    max_bytes: 5MiB
//	    max_file_size: 2MiB
//	    max_uploads_per_window: 3
//	    window: 1h
//	    allowed_formats: [csv, json]
//	    allowed_features: [basic_charts]
type fileTable struct {
	Tiers map[string]fileLimits `yaml:"tiers"`
}

type fileLimits struct {
	MaxFiles            int            `yaml:"max_files"`
	MaxBytes            ByteSize       `yaml:"max_bytes"`
	MaxFileSize         ByteSize       `yaml:"max_file_size"`
	MaxUploadsPerWindow int            `yaml:"max_uploads_per_window"`
	Window              timex.Duration `yaml:"window"`
	AllowedFormats      []string       `yaml:"allowed_formats"`
	AllowedFeatures     []string       `yaml:"allowed_features"`
}

// ByteSize decodes either an integer byte count or a human size such as
// "5MiB" or "50 MB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	n, err := ParseByteSize(v)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n, err := ParseByteSize(v)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// ParseByteSize accepts integers and humanize-style strings.
func ParseByteSize(v any) (int64, error) {
	switch value := v.(type) {
	case int:
		return int64(value), nil
	case int64:
		return value, nil
	case float64:
		return int64(value), nil
	case string:
		n, err := humanize.ParseBytes(value)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", value, err)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("invalid size %v", v)
	}
}

// Load reads a YAML override file on top of Default. Every tier present in
// the file replaces the built-in record of that tier as a whole; tiers absent
// from the file keep their defaults. The merged table is validated.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier table: %w", err)
	}
	return Parse(data)
}

// Parse is Load on in-memory YAML.
func Parse(data []byte) (*Table, error) {
	var ft fileTable
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("parse tier table: %w", err)
	}

	merged := make(map[Tier]Limits, len(Tiers))
	for k, v := range Default().limits {
		merged[k] = v
	}

	for name, fl := range ft.Tiers {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, err
		}
		merged[tier] = Limits{
			MaxFiles:            fl.MaxFiles,
			MaxBytes:            int64(fl.MaxBytes),
			MaxFileSize:         int64(fl.MaxFileSize),
			MaxUploadsPerWindow: fl.MaxUploadsPerWindow,
			Window:              fl.Window.Duration,
			AllowedFormats:      set(normalizeAll(fl.AllowedFormats)...),
			AllowedFeatures:     set(fl.AllowedFeatures...),
		}
	}

	return NewTable(merged)
}

func normalizeAll(formats []string) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = NormalizeFormat(f)
	}
	return out
}
