package identity

import (
	"context"
	"encoding/hex"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/host"
	"golang.org/x/crypto/blake2b"
)

// Signal is one environment observation fed into the fingerprint. An empty
// Value means the signal was unavailable.
type Signal struct {
	Name  string
	Value string
}

// SignalSource collects the fingerprint signals of the running environment.
type SignalSource func(ctx context.Context) []Signal

var hostInfo = host.InfoWithContext

// EnvironmentSignals reads platform details from gopsutil plus locale and
// time zone from the process environment.
func EnvironmentSignals(ctx context.Context) []Signal {
	signals := []Signal{
		{Name: "arch", Value: runtime.GOARCH},
		{Name: "locale", Value: locale()},
	}

	zone, offset := time.Now().Zone()
	signals = append(signals,
		Signal{Name: "tz", Value: zone},
		Signal{Name: "tz_offset", Value: strconv.Itoa(offset / 1800)},
	)

	info, err := hostInfo(ctx)
	if err != nil || info == nil {
		return append(signals,
			Signal{Name: "os"}, Signal{Name: "platform"}, Signal{Name: "kernel"}, Signal{Name: "host_id"})
	}
	return append(signals,
		Signal{Name: "os", Value: info.OS},
		Signal{Name: "platform", Value: info.Platform + " " + info.PlatformVersion},
		Signal{Name: "kernel", Value: info.KernelVersion},
		Signal{Name: "host_id", Value: info.HostID},
	)
}

func locale() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Fingerprint is a derived identity with a confidence score: the fraction of
// signals that were available.
type Fingerprint struct {
	ID         string
	Confidence float64
}

// Compute hashes the available signals with BLAKE2b-256. Signal order does
// not matter.
func Compute(signals []Signal) Fingerprint {
	if len(signals) == 0 {
		return Fingerprint{}
	}

	sorted := make([]Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var (
		b         strings.Builder
		available int
	)
	for _, s := range sorted {
		v := strings.TrimSpace(s.Value)
		if v == "" {
			continue
		}
		available++
		b.WriteString(s.Name)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	if available == 0 {
		return Fingerprint{}
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return Fingerprint{
		ID:         "fp_" + hex.EncodeToString(sum[:16]),
		Confidence: float64(available) / float64(len(signals)),
	}
}
