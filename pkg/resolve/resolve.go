// Package resolve locates tag values in a snapshot and normalizes them.
package resolve

import (
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// zeroTime is how the controller reports an unset time.
const zeroTime = "0001-01-01T00:00:00Z"

// Value is a resolved tag value. A value that isn't Present must be shown as
// unknown, never as zero.
type Value struct {
	V       any
	Present bool
}

// Absent is the result for anything that can't be resolved.
var Absent = Value{}

// Of wraps a present value.
func Of(v any) Value {
	return Value{V: v, Present: true}
}

// Float returns the value as a float64 if it's numeric.
func (v Value) Float() (float64, bool) {
	if !v.Present {
		return 0, false
	}
	return toFloat(v.V)
}

type guardKey struct {
	id    tags.ID
	index int
}

// Resolver answers tag queries against a snapshot. It keeps the last good
// value of monotonic tags, so one Resolver should live as long as the
// session.
type Resolver struct {
	now func() time.Time

	mu       sync.Mutex
	flags    types.SchemaFlags
	lastGood map[guardKey]float64
}

// New returns a Resolver using the given schema flags.
func New(flags types.SchemaFlags) *Resolver {
	return &Resolver{
		now:      time.Now,
		flags:    flags,
		lastGood: map[guardKey]float64{},
	}
}

// SetFlags replaces the schema flags after a reinitialization. Guarded
// values are kept.
func (r *Resolver) SetFlags(flags types.SchemaFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = flags
}

// Flags returns the schema flags in use.
func (r *Resolver) Flags() types.SchemaFlags {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// Resolve returns the normalized value of id. index is the 1-based loadpoint
// index for loadpoint and vehicle tags and ignored otherwise.
func (r *Resolver) Resolve(snap types.Snapshot, id tags.ID, index int) Value {
	t, ok := tags.Find(id)
	if !ok {
		return Absent
	}

	var v Value
	if t.Computed {
		v = r.computed(snap, t, index)
	} else {
		v = r.postProcess(t, r.extract(snap, t, index))
	}

	if t.Monotonic {
		v = r.guard(t, index, v)
	}
	return v
}

// ResolveRaw returns the value at the tag's location without any
// conversion, e.g. the whole forecast object of a tariff tag.
func (r *Resolver) ResolveRaw(snap types.Snapshot, id tags.ID, index int) Value {
	t, ok := tags.Find(id)
	if !ok {
		return Absent
	}
	return r.extract(snap, t, index)
}

func (r *Resolver) extract(snap types.Snapshot, t tags.Tag, index int) Value {
	switch t.Scope {
	case tags.ScopeSite:
		if t.Container != "" {
			if r.Flags().GridNested {
				c, _ := snap.Map(t.Container)
				return lookup(c, t.JSONKey)
			}
			return lookup(snap, t.LegacyKey)
		}
		return lookup(snap, t.JSONKey)

	case tags.ScopeStatistics:
		stats, _ := snap.Map(tags.StatisticsKey)
		sub, _ := stats[t.StatisticsSubtype].(map[string]any)
		return lookup(sub, t.JSONKey)

	case tags.ScopeTariff:
		ns, _ := snap.Map(tags.TariffNamespace)
		return lookup(ns, t.JSONKey)

	case tags.ScopeLoadpoint:
		lp, ok := snap.Loadpoint(index)
		if !ok {
			return Absent
		}
		return lookup(lp, t.JSONKey)

	case tags.ScopeVehicle:
		vehicle, ok := Vehicle(snap, index)
		if !ok {
			return Absent
		}
		if t.Plan {
			return lookup(plan(vehicle), t.JSONKey)
		}
		return lookup(vehicle, t.JSONKey)
	}
	return Absent
}

func lookup[M ~map[string]any](m M, key string) Value {
	if m == nil || key == "" {
		return Absent
	}
	v, ok := m[key]
	if !ok || v == nil {
		return Absent
	}
	return Of(v)
}

// VehicleKey returns the key of the vehicle currently at the loadpoint. An
// empty key means no vehicle is connected.
func VehicleKey(snap types.Snapshot, index int) (string, bool) {
	lp, ok := snap.Loadpoint(index)
	if !ok {
		return "", false
	}
	name, _ := lp["vehicleName"].(string)
	return name, name != ""
}

// Vehicle returns the record of the vehicle currently at the loadpoint.
func Vehicle(snap types.Snapshot, index int) (map[string]any, bool) {
	key, ok := VehicleKey(snap, index)
	if !ok {
		return nil, false
	}
	vehicles, _ := snap.Map("vehicles")
	v, ok := vehicles[key].(map[string]any)
	return v, ok
}

// plan prefers a non-empty plan object and falls back to the first entry
// of the legacy plans list.
func plan(vehicle map[string]any) map[string]any {
	if p, ok := vehicle["plan"].(map[string]any); ok && len(p) > 0 {
		return p
	}
	if plans, ok := vehicle["plans"].([]any); ok && len(plans) > 0 {
		if p, ok := plans[0].(map[string]any); ok {
			return p
		}
	}
	return nil
}

func (r *Resolver) postProcess(t tags.Tag, v Value) Value {
	if !v.Present {
		return Absent
	}

	switch {
	case t.ID == tags.PvRemaining:
		secs, ok := toFloat(v.V)
		if !ok || secs == 0 {
			return Absent
		}
		return Of(r.now().Add(time.Duration(secs * float64(time.Second))))

	case t.ID == tags.VehiclePlanSoc:
		f, ok := toFloat(v.V)
		if !ok {
			s, isStr := v.V.(string)
			if !isStr {
				return Absent
			}
			var err error
			if f, err = strconv.ParseFloat(s, 64); err != nil {
				return Absent
			}
		}
		return Of(strconv.Itoa(int(math.Trunc(f))))

	case t.TimeValued:
		ts, ok := parseTime(v.V)
		if !ok {
			return Absent
		}
		return Of(ts)

	case len(t.EnumOptions) > 0:
		s := stringify(v.V)
		for _, o := range t.EnumOptions {
			if o == s {
				return Of(s)
			}
		}
		return Absent

	case t.Scope == tags.ScopeTariff:
		return r.currentRate(v.V)
	}

	f, ok := toFloat(v.V)
	if !ok {
		return v
	}
	if t.Scale != 0 {
		f *= t.Scale
	}
	if t.HasRange {
		f = math.Max(t.Min, math.Min(t.Max, f))
	}
	return Of(f)
}

// computed derives values the controller doesn't report directly.
func (r *Resolver) computed(snap types.Snapshot, t tags.Tag, index int) Value {
	if t.ID != tags.PlanActiveAlt {
		return Absent
	}
	lp, ok := snap.Loadpoint(index)
	if !ok {
		return Absent
	}
	rawTime, hasTime := lp["effectivePlanTime"]
	active, hasActive := lp["planActive"].(bool)
	if !hasTime && !hasActive {
		return Absent
	}
	_, planned := parseTime(rawTime)
	return Of(planned && !active)
}

// currentRate returns the rate of a forecast covering now.
func (r *Resolver) currentRate(v any) Value {
	forecast, _ := v.(map[string]any)
	rates, _ := forecast["rates"].([]any)
	now := r.now()
	for _, e := range rates {
		rate, ok := e.(map[string]any)
		if !ok {
			continue
		}
		start, ok1 := parseTime(rate["start"])
		end, ok2 := parseTime(rate["end"])
		if !ok1 || !ok2 || now.Before(start) || !now.Before(end) {
			continue
		}
		for _, k := range []string{"value", "price"} {
			if f, ok := toFloat(rate[k]); ok {
				return Of(f)
			}
		}
	}
	return Absent
}

func (r *Resolver) guard(t tags.Tag, index int, v Value) Value {
	key := guardKey{id: t.ID, index: index}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, had := r.lastGood[key]
	f, ok := v.Float()
	if !ok {
		if had {
			return Of(last)
		}
		return Absent
	}
	if had && f < last {
		return Of(last)
	}
	r.lastGood[key] = f
	return Of(f)
}

// Forget drops every guarded value, e.g. after the controller was replaced.
func (r *Resolver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.lastGood)
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" || s == zeroTime {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
