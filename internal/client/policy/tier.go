// Package policy holds the static per-tier limit table that the access gate
// evaluates uploads against.
//
// Tiers form a closed, ordered enumeration (visitor < free < pro < enterprise).
// The table is built once at startup, either from Default or from a YAML
// override file (see Load), validated, and never mutated afterwards, so it is
// safe for concurrent readers without locking.
package policy

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierVisitor    Tier = "visitor"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every tier in ascending capability order.
var Tiers = []Tier{TierVisitor, TierFree, TierPro, TierEnterprise}

// Unlimited is the MaxFiles value that disables the file-count check.
const Unlimited = -1

// ParseTier maps a tier name (case-insensitive) onto the closed enumeration.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.rank() < 0 {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) rank() int {
	for i, x := range Tiers {
		if x == t {
			return i
		}
	}
	return -1
}

// Less reports whether t grants strictly fewer capabilities than o.
func (t Tier) Less(o Tier) bool {
	return t.rank() < o.rank()
}

func (t Tier) String() string { return string(t) }

// Limits is the validated policy record of one tier.
type Limits struct {
	MaxFiles            int
	MaxBytes            int64
	MaxFileSize         int64
	MaxUploadsPerWindow int
	Window              time.Duration
	AllowedFormats      map[string]struct{}
	AllowedFeatures     map[string]struct{}
}

func (l Limits) AllowsFormat(format string) bool {
	_, ok := l.AllowedFormats[NormalizeFormat(format)]
	return ok
}

func (l Limits) AllowsFeature(feature string) bool {
	_, ok := l.AllowedFeatures[strings.ToLower(strings.TrimSpace(feature))]
	return ok
}

// UnlimitedFiles reports whether the file-count check is disabled.
func (l Limits) UnlimitedFiles() bool {
	return l.MaxFiles == Unlimited
}

// NormalizeFormat lower-cases a format name and strips a leading dot, so
// ".CSV" and "csv" compare equal.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[strings.ToLower(it)] = struct{}{}
	}
	return m
}
