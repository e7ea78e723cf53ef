package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(flags types.SchemaFlags) *Resolver {
	r := New(flags)
	r.now = func() time.Time { return testNow }
	return r
}

func testSnapshot() types.Snapshot {
	return types.Snapshot{
		"siteTitle":      "Home",
		"gridPower":      150.0,
		"grid":           map[string]any{"power": 250.0, "energy": 1000.0},
		"greenShareHome": 0.42,
		"batterySoc":     101.0,
		"batteryMode":    "hold",
		"loadpoints": []any{
			map[string]any{
				"title":              "Garage",
				"chargePower":        11000.0,
				"chargedEnergy":      2500.0,
				"chargeTotalImport":  100.0,
				"mode":               "pv",
				"phasesConfigured":   3.0,
				"vehicleName":        "ev1",
				"planProjectedStart": "0001-01-01T00:00:00Z",
				"planProjectedEnd":   "2026-03-01T18:30:00Z",
				"pvRemaining":        0.0,
				"planActive":         false,
				"effectivePlanTime":  "2026-03-02T07:00:00Z",
			},
			map[string]any{
				"title":       "Carport",
				"mode":        "turbo",
				"vehicleName": "",
				"pvRemaining": 90.0,
			},
		},
		"vehicles": map[string]any{
			"ev1": map[string]any{
				"title":    "Blue car",
				"limitSoc": 80.0,
				"plan":     map[string]any{},
				"plans": []any{
					map[string]any{"soc": 85.7, "time": "2026-03-02T07:00:00Z"},
				},
			},
		},
		"statistics": map[string]any{
			"30d": map[string]any{"chargedKWh": 123.4},
		},
	}
}

func TestResolveLoadpoint(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{})
	snap := testSnapshot()

	assert.Equal(t, Of(11000.0), r.Resolve(snap, tags.ChargePower, 1))
	assert.Equal(t, Of("Carport"), r.Resolve(snap, tags.LoadpointTitle, 2))
	assert.Equal(t, Absent, r.Resolve(snap, tags.ChargePower, 2), "missing key")
	assert.Equal(t, Absent, r.Resolve(snap, tags.ChargePower, 0))
	assert.Equal(t, Absent, r.Resolve(snap, tags.ChargePower, 3))
	assert.Equal(t, Absent, r.Resolve(types.Snapshot{"loadpoints": "broken"}, tags.ChargePower, 1))
	assert.Equal(t, Absent, r.Resolve(snap, tags.ID("nope"), 1))
}

func TestResolveTransforms(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{})
	snap := testSnapshot()

	t.Run("time sentinel", func(t *testing.T) {
		assert.Equal(t, Absent, r.Resolve(snap, tags.PlanProjectedStart, 1))
		assert.Equal(t, Of(time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)), r.Resolve(snap, tags.PlanProjectedEnd, 1))
	})

	t.Run("remaining seconds", func(t *testing.T) {
		assert.Equal(t, Absent, r.Resolve(snap, tags.PvRemaining, 1))
		assert.Equal(t, Of(testNow.Add(90*time.Second)), r.Resolve(snap, tags.PvRemaining, 2))
	})

	t.Run("scale", func(t *testing.T) {
		assert.Equal(t, Of(2.5), r.Resolve(snap, tags.ChargedEnergy, 1))
		v, ok := r.Resolve(snap, tags.GreenShareHome, 0).Float()
		require.True(t, ok)
		assert.InDelta(t, 42.0, v, 1e-9)
	})

	t.Run("clamp", func(t *testing.T) {
		assert.Equal(t, Of(100.0), r.Resolve(snap, tags.BatterySoc, 0))
	})

	t.Run("enum", func(t *testing.T) {
		assert.Equal(t, Of("pv"), r.Resolve(snap, tags.Mode, 1))
		assert.Equal(t, Absent, r.Resolve(snap, tags.Mode, 2), "unknown option")
		assert.Equal(t, Of("3"), r.Resolve(snap, tags.PhasesConfigured, 1))
		assert.Equal(t, Of("hold"), r.Resolve(snap, tags.BatteryMode, 0))
	})

	t.Run("computed plan active", func(t *testing.T) {
		assert.Equal(t, Of(true), r.Resolve(snap, tags.PlanActiveAlt, 1))
		assert.Equal(t, Absent, r.Resolve(snap, tags.PlanActiveAlt, 2))

		lp, _ := snap.Loadpoint(1)
		lp["planActive"] = true
		assert.Equal(t, Of(false), r.Resolve(snap, tags.PlanActiveAlt, 1))
	})
}

func TestResolveMonotonic(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{})
	snap := testSnapshot()
	lp, _ := snap.Loadpoint(1)

	assert.Equal(t, Of(100.0), r.Resolve(snap, tags.ChargeTotalImport, 1))

	lp["chargeTotalImport"] = 95.0
	assert.Equal(t, Of(100.0), r.Resolve(snap, tags.ChargeTotalImport, 1), "lower values are ignored")

	lp["chargeTotalImport"] = 110.0
	assert.Equal(t, Of(110.0), r.Resolve(snap, tags.ChargeTotalImport, 1))

	delete(lp, "chargeTotalImport")
	assert.Equal(t, Of(110.0), r.Resolve(snap, tags.ChargeTotalImport, 1), "absent values hold the last good one")

	assert.Equal(t, Absent, r.Resolve(snap, tags.ChargeTotalImport, 2), "guards are per loadpoint")

	r.Forget()
	assert.Equal(t, Absent, r.Resolve(snap, tags.ChargeTotalImport, 1))
}

func TestResolveGrid(t *testing.T) {
	snap := testSnapshot()

	flat := newTestResolver(types.SchemaFlags{GridNested: false})
	assert.Equal(t, Of(150.0), flat.Resolve(snap, tags.GridPower, 0))
	assert.Equal(t, Absent, flat.Resolve(snap, tags.GridCurrents, 0))

	nested := newTestResolver(types.SchemaFlags{GridNested: true})
	assert.Equal(t, Of(250.0), nested.Resolve(snap, tags.GridPower, 0))
	assert.Equal(t, Of(1000.0), nested.Resolve(snap, tags.GridEnergy, 0))

	flat.SetFlags(types.SchemaFlags{GridNested: true})
	assert.Equal(t, Of(250.0), flat.Resolve(snap, tags.GridPower, 0))
}

func TestResolveVehicle(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{})
	snap := testSnapshot()

	assert.Equal(t, Of("Blue car"), r.Resolve(snap, tags.VehicleTitle, 1))
	assert.Equal(t, Of(80.0), r.Resolve(snap, tags.VehicleLimitSoc, 1))
	assert.Equal(t, Absent, r.Resolve(snap, tags.VehicleTitle, 2), "no vehicle connected")

	t.Run("plan fallback", func(t *testing.T) {
		assert.Equal(t, Of("85"), r.Resolve(snap, tags.VehiclePlanSoc, 1))
		assert.Equal(t, Of(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)), r.Resolve(snap, tags.VehiclePlanTime, 1))
	})

	t.Run("plan preferred", func(t *testing.T) {
		v, _ := Vehicle(snap, 1)
		v["plan"] = map[string]any{"soc": 60.0}
		assert.Equal(t, Of("60"), r.Resolve(snap, tags.VehiclePlanSoc, 1))
	})

	t.Run("no plan", func(t *testing.T) {
		v, _ := Vehicle(snap, 1)
		delete(v, "plan")
		delete(v, "plans")
		assert.Equal(t, Absent, r.Resolve(snap, tags.VehiclePlanSoc, 1))
	})

	key, ok := VehicleKey(snap, 1)
	assert.True(t, ok)
	assert.Equal(t, "ev1", key)
	_, ok = VehicleKey(snap, 2)
	assert.False(t, ok)
}

func TestResolveStatistics(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{})
	snap := testSnapshot()

	assert.Equal(t, Of(123.4), r.Resolve(snap, tags.StatisticsID("30d", "chargedKWh"), 0))
	assert.Equal(t, Absent, r.Resolve(snap, tags.StatisticsID("30d", "avgPrice"), 0))
	assert.Equal(t, Absent, r.Resolve(snap, tags.StatisticsID("total", "chargedKWh"), 0))
	assert.Equal(t, Absent, r.Resolve(types.Snapshot{}, tags.StatisticsID("30d", "chargedKWh"), 0))
}

func TestResolveTariff(t *testing.T) {
	r := newTestResolver(types.SchemaFlags{TariffEnabled: true})
	forecast := map[string]any{
		"rates": []any{
			map[string]any{"start": "2026-03-01T11:00:00Z", "end": "2026-03-01T12:00:00Z", "value": 0.20},
			map[string]any{"start": "2026-03-01T12:00:00Z", "end": "2026-03-01T13:00:00Z", "value": 0.31},
		},
	}
	snap := types.Snapshot{
		tags.TariffNamespace: map[string]any{
			"grid":  forecast,
			"solar": map[string]any{"rates": []any{}},
		},
	}

	assert.Equal(t, Of(0.31), r.Resolve(snap, tags.TariffAPIGrid, 0), "end is exclusive")
	assert.Equal(t, Absent, r.Resolve(snap, tags.TariffAPISolar, 0))
	assert.Equal(t, Absent, r.Resolve(snap, tags.TariffAPICo2, 0))
	assert.Equal(t, Of(forecast), r.ResolveRaw(snap, tags.TariffAPIGrid, 0))
}
