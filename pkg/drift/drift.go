// Package drift decides which representation of version-dependent data the
// controller uses. The decision is made once per session.
package drift

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

var (
	// GridNestedSince is the first controller version reporting grid data as
	// a nested object.
	GridNestedSince = semver.MustParse("0.133.0")

	// TariffAPISince is the first controller version serving the tariff
	// endpoints.
	TariffAPISince = semver.MustParse("0.200.0")
)

var gridIndicators = []string{"power", "currents", "energy", "powers"}

// Probe reports which tags of a scope the host has enabled.
type Probe interface {
	EnabledTags(scope tags.Scope) []tags.ID
}

// ParseVersion parses a controller version string. A trailing
// parenthetical build qualifier like "0.140.0 (abc123)" is stripped. An
// unparsable version returns nil, which compares below every threshold.
func ParseVersion(raw string) *semver.Version {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "("); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil
	}
	return v
}

func atLeast(v, threshold *semver.Version) bool {
	return v != nil && !v.LessThan(threshold)
}

// GridNested returns true if the snapshot reports grid data as a nested
// object, falling back to the version threshold when no grid data is present
// yet.
func GridNested(snap types.Snapshot, version *semver.Version) bool {
	switch g := snap["grid"].(type) {
	case map[string]any:
		for _, k := range gridIndicators {
			if _, ok := g[k]; ok {
				return true
			}
		}
	case []any:
		for _, e := range g {
			if s, ok := e.(string); ok {
				for _, k := range gridIndicators {
					if s == k {
						return true
					}
				}
			}
		}
	}
	return atLeast(version, GridNestedSince)
}

// Detect classifies the first full snapshot. probe may be nil, in which case
// tariff endpoints stay disabled.
func Detect(ctx context.Context, snap types.Snapshot, probe Probe) types.SchemaFlags {
	raw, _ := snap["version"].(string)
	version := ParseVersion(raw)
	if version == nil && raw != "" {
		log.Ctx(ctx).WarnContext(ctx, "unparsable controller version", slog.String("version", raw))
	}

	flags := types.SchemaFlags{
		ControllerVersion: raw,
		GridNested:        GridNested(snap, version),
		DetectedAt:        time.Now(),
	}

	if atLeast(version, TariffAPISince) && probe != nil {
		flags.TariffEnabled = len(probe.EnabledTags(tags.ScopeTariff)) > 0
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"detected controller schema",
		slog.String("version", raw),
		slog.Bool("gridNested", flags.GridNested),
		slog.Bool("tariffEnabled", flags.TariffEnabled),
	)
	return flags
}

// TariffKeys returns the tariff endpoint keys of the enabled tariff tags.
func TariffKeys(probe Probe) []string {
	if probe == nil {
		return nil
	}
	var keys []string
	seen := map[string]bool{}
	for _, id := range probe.EnabledTags(tags.ScopeTariff) {
		t, ok := tags.Find(id)
		if !ok || t.Scope != tags.ScopeTariff || seen[t.JSONKey] {
			continue
		}
		seen[t.JSONKey] = true
		keys = append(keys, t.JSONKey)
	}
	return keys
}
