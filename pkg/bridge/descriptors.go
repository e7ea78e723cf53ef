package bridge

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/raterudder/evccbridge/pkg/types"
)

// Descriptors derives the loadpoint and vehicle descriptors from a full
// snapshot. Loadpoint slugs are unique even when titles repeat.
func Descriptors(snap types.Snapshot, prefix string) ([]types.LoadpointDescriptor, []types.VehicleDescriptor) {
	var lps []types.LoadpointDescriptor
	slugs := map[string]bool{}
	for i := 1; i <= snap.LoadpointCount(); i++ {
		lp, ok := snap.Loadpoint(i)
		if !ok {
			continue
		}
		title, _ := lp["title"].(string)
		if title == "" {
			title = fmt.Sprintf("Loadpoint %d", i)
		}
		base := Slug(title)
		if base == "" {
			base = "loadpoint"
		}
		slug := base
		if slugs[slug] {
			slug = fmt.Sprintf("%s_%d", base, i)
		}
		slugs[slug] = true

		phases, _ := lp["chargerPhases1p3p"].(bool)
		vehicle, _ := lp["vehicleName"].(string)
		lps = append(lps, types.LoadpointDescriptor{
			APIIndex:               i,
			DisplayName:            withPrefix(prefix, title),
			Slug:                   slug,
			SupportsPhaseSwitching: phases,
			CurrentVehicleKey:      vehicle,
		})
	}

	var vehicles []types.VehicleDescriptor
	vs, _ := snap.Map("vehicles")
	keys := make([]string, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, ok := vs[k].(map[string]any)
		if !ok {
			continue
		}
		title, _ := v["title"].(string)
		if title == "" {
			title = k
		}
		d := types.VehicleDescriptor{Key: k, DisplayName: withPrefix(prefix, title)}
		if c, ok := v["capacity"].(float64); ok && c > 0 {
			d.BatteryCapacityKWh = &c
		}
		vehicles = append(vehicles, d)
	}
	return lps, vehicles
}

func withPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + " " + name
}

// Slug lowercases s and collapses everything but letters and digits into
// single underscores.
func Slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
