package policy

import (
	"errors"
	"fmt"
	"time"
)

const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// Capabilities a deny decision can point an upgrade at.
const (
	FeatureBasicCharts    = "basic_charts"
	FeatureExportPNG      = "export_png"
	FeatureExportPDF      = "export_pdf"
	FeatureAdvancedCharts = "advanced_charts"
	FeatureAPISync        = "api_sync"
	FeatureSSO            = "sso"
)

// Table maps every tier to its limits. Build it with Default, Load or
// NewTable; a Table that passed Validate is read-only.
type Table struct {
	limits map[Tier]Limits
}

// NewTable validates limits and wraps them in a Table.
func NewTable(limits map[Tier]Limits) (*Table, error) {
	t := &Table{limits: limits}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Default returns the built-in tier table.
func Default() *Table {
	t, err := NewTable(map[Tier]Limits{
		TierVisitor: {
			MaxFiles:            3,
			MaxBytes:            5 * MiB,
			MaxFileSize:         2 * MiB,
			MaxUploadsPerWindow: 3,
			Window:              time.Hour,
			AllowedFormats:      set("csv", "json"),
			AllowedFeatures:     set(FeatureBasicCharts),
		},
		TierFree: {
			MaxFiles:            10,
			MaxBytes:            50 * MiB,
			MaxFileSize:         10 * MiB,
			MaxUploadsPerWindow: 20,
			Window:              time.Hour,
			AllowedFormats:      set("csv", "json", "tsv", "xlsx"),
			AllowedFeatures:     set(FeatureBasicCharts, FeatureExportPNG),
		},
		TierPro: {
			MaxFiles:            100,
			MaxBytes:            GiB,
			MaxFileSize:         100 * MiB,
			MaxUploadsPerWindow: 200,
			Window:              time.Hour,
			AllowedFormats:      set("csv", "json", "tsv", "xlsx", "xml", "parquet"),
			AllowedFeatures: set(FeatureBasicCharts, FeatureExportPNG, FeatureExportPDF,
				FeatureAdvancedCharts, FeatureAPISync),
		},
		TierEnterprise: {
			MaxFiles:            Unlimited,
			MaxBytes:            10 * GiB,
			MaxFileSize:         GiB,
			MaxUploadsPerWindow: 2000,
			Window:              time.Hour,
			AllowedFormats:      set("csv", "json", "tsv", "xlsx", "xml", "parquet", "txt"),
			AllowedFeatures: set(FeatureBasicCharts, FeatureExportPNG, FeatureExportPDF,
				FeatureAdvancedCharts, FeatureAPISync, FeatureSSO),
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Limits returns the limits of tier. Unknown tiers fall back to the visitor
// limits, the most restrictive entry.
func (t *Table) Limits(tier Tier) Limits {
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return t.limits[TierVisitor]
}

// Validate checks that every tier of the enumeration is present and sane.
func (t *Table) Validate() error {
	var errs []error
	for tier := range t.limits {
		if tier.rank() < 0 {
			errs = append(errs, fmt.Errorf("unknown tier %q", tier))
		}
	}
	for _, tier := range Tiers {
		l, ok := t.limits[tier]
		if !ok {
			errs = append(errs, fmt.Errorf("tier %s: missing", tier))
			continue
		}
		if l.MaxFiles < Unlimited {
			errs = append(errs, fmt.Errorf("tier %s: max_files must be >= -1", tier))
		}
		if l.MaxBytes <= 0 {
			errs = append(errs, fmt.Errorf("tier %s: max_bytes must be positive", tier))
		}
		if l.MaxFileSize <= 0 || l.MaxFileSize > l.MaxBytes {
			errs = append(errs, fmt.Errorf("tier %s: max_file_size must be in (0, max_bytes]", tier))
		}
		if l.MaxUploadsPerWindow <= 0 {
			errs = append(errs, fmt.Errorf("tier %s: max_uploads_per_window must be positive", tier))
		}
		if l.Window <= 0 {
			errs = append(errs, fmt.Errorf("tier %s: window must be positive", tier))
		}
		if len(l.AllowedFormats) == 0 {
			errs = append(errs, fmt.Errorf("tier %s: allowed_formats is empty", tier))
		}
	}
	return errors.Join(errs...)
}

// Suggestion is the upgrade hint attached to a deny decision.
type Suggestion struct {
	Current   Tier
	Suggested Tier
	// Action is "signup" for visitors and "upgrade" for account holders.
	Action string
}

func newSuggestion(current, suggested Tier) *Suggestion {
	action := "upgrade"
	if current == TierVisitor {
		action = "signup"
	}
	return &Suggestion{Current: current, Suggested: suggested, Action: action}
}

// UpgradeFor scans the tiers above current in ascending order and returns the
// first one whose formats or features contain capability. nil means no tier
// above current offers it.
func (t *Table) UpgradeFor(current Tier, capability string) *Suggestion {
	for _, tier := range Tiers {
		if !current.Less(tier) {
			continue
		}
		l := t.limits[tier]
		if l.AllowsFormat(capability) || l.AllowsFeature(capability) {
			return newSuggestion(current, tier)
		}
	}
	return nil
}

// Next suggests the tier directly above current, or nil at the top.
func (t *Table) Next(current Tier) *Suggestion {
	r := current.rank()
	if r < 0 || r+1 >= len(Tiers) {
		return nil
	}
	return newSuggestion(current, Tiers[r+1])
}
