package entity

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/resolve"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Resolve(id tags.ID, index int) resolve.Value {
	args := m.Called(id, index)
	return args.Get(0).(resolve.Value)
}

func (m *mockSource) WriteField(ctx context.Context, id tags.ID, value any, index int) (types.WriteResult, error) {
	args := m.Called(ctx, id, value, index)
	return args.Get(0).(types.WriteResult), args.Error(1)
}

func (m *mockSource) Press(ctx context.Context, id tags.ID, index int) (types.WriteResult, error) {
	args := m.Called(ctx, id, index)
	return args.Get(0).(types.WriteResult), args.Error(1)
}

var testLoadpoints = []types.LoadpointDescriptor{
	{APIIndex: 1, DisplayName: "Garage", Slug: "garage", SupportsPhaseSwitching: true},
	{APIIndex: 2, DisplayName: "Carport", Slug: "carport"},
}

func siteCount() int {
	return len(tags.ByScope(tags.ScopeSite)) + len(tags.ByScope(tags.ScopeStatistics)) + len(tags.ByScope(tags.ScopeTariff))
}

func perLoadpointCount() int {
	return len(tags.ByScope(tags.ScopeLoadpoint)) + len(tags.ByScope(tags.ScopeVehicle))
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry("http://evcc.local:7070", &mockSource{}, "evcc")
	r.Build(t.Context(), testLoadpoints, nil)

	tariffs := len(tags.ByScope(tags.ScopeTariff))
	all := r.All()
	assert.Len(t, all, siteCount()-tariffs+2*perLoadpointCount()-1, "tariffs are disabled and carport can't switch phases")

	e, ok := r.Get("garage.chargePower")
	require.True(t, ok)
	md := e.Metadata()
	assert.Equal(t, "Garage Charge power", md.Name)
	assert.Equal(t, 1, md.Index)
	assert.Equal(t, "loadpoint", md.Scope)
	assert.Equal(t, "W", md.Unit)
	assert.False(t, md.Writable)

	e, ok = r.Get("site.pvPower")
	require.True(t, ok)
	assert.Equal(t, "evcc PV power", e.Metadata().Name)
	assert.Zero(t, e.Metadata().Index)

	_, ok = r.Get("garage.phasesConfigured")
	assert.True(t, ok)
	_, ok = r.Get("carport.phasesConfigured")
	assert.False(t, ok)

	e, ok = r.Get("carport.mode")
	require.True(t, ok)
	assert.Equal(t, []string{"off", "pv", "minpv", "now"}, e.Metadata().Options)
	assert.True(t, e.Metadata().Writable)

	// options handed out must not alias the catalog or the entity
	md = e.Metadata()
	md.Options[0] = "changed"
	assert.Equal(t, []string{"off", "pv", "minpv", "now"}, e.Metadata().Options)
	assert.Equal(t, []string{"off", "pv", "minpv", "now"}, tags.Lookup(tags.Mode).EnumOptions)
}

func TestRegistryUniqueIDs(t *testing.T) {
	a := NewRegistry("http://evcc.local:7070", &mockSource{}, "")
	a.Build(t.Context(), testLoadpoints, nil)
	b := NewRegistry("http://evcc.local:7070", &mockSource{}, "")
	b.Build(t.Context(), testLoadpoints, nil)
	c := NewRegistry("http://other:7070", &mockSource{}, "")
	c.Build(t.Context(), testLoadpoints, nil)

	ea, _ := a.Get("garage.mode")
	eb, _ := b.Get("garage.mode")
	ec, _ := c.Get("garage.mode")
	assert.Equal(t, ea.Metadata().UniqueID, eb.Metadata().UniqueID, "stable across restarts")
	assert.NotEqual(t, ea.Metadata().UniqueID, ec.Metadata().UniqueID)

	seen := map[string]bool{}
	for _, e := range a.All() {
		require.False(t, seen[e.Metadata().UniqueID], e.ID())
		seen[e.Metadata().UniqueID] = true
	}
}

func TestRegistryEnable(t *testing.T) {
	r := NewRegistry("http://evcc.local:7070", &mockSource{}, "")
	assert.Empty(t, r.EnabledTags(tags.ScopeTariff))

	r.EnableTariffs([]string{"grid", "co2"})
	assert.Equal(t, []tags.ID{tags.TariffAPIGrid, tags.TariffAPICo2}, r.EnabledTags(tags.ScopeTariff))

	r.Enable(tags.TariffAPIGrid, false)
	assert.Equal(t, []tags.ID{tags.TariffAPICo2}, r.EnabledTags(tags.ScopeTariff))

	assert.Contains(t, r.EnabledTags(tags.ScopeSite), tags.PvPower)
	r.Enable(tags.PvPower, false)
	assert.NotContains(t, r.EnabledTags(tags.ScopeSite), tags.PvPower)
}

func TestEntity(t *testing.T) {
	src := &mockSource{}
	r := NewRegistry("http://evcc.local:7070", src, "")
	r.Build(t.Context(), testLoadpoints, nil)

	t.Run("current value", func(t *testing.T) {
		src.On("Resolve", tags.ChargePower, 2).Return(resolve.Of(7000.0)).Once()
		e, _ := r.Get("carport.chargePower")
		assert.Equal(t, resolve.Of(7000.0), e.CurrentValue())
	})

	t.Run("write", func(t *testing.T) {
		src.On("WriteField", mock.Anything, tags.Mode, "now", 1).Return(types.WriteResult{Applied: true}, nil).Once()
		e, _ := r.Get("garage.mode")
		res, err := e.WriteValue(t.Context(), "now")
		require.NoError(t, err)
		assert.True(t, res.Applied)
	})

	t.Run("button", func(t *testing.T) {
		src.On("Press", mock.Anything, tags.VehicleDetect, 1).Return(types.WriteResult{Applied: true}, nil).Once()
		e, _ := r.Get("garage.vehicleDetect")
		assert.Equal(t, resolve.Absent, e.CurrentValue())
		res, err := e.WriteValue(t.Context(), "ignored")
		require.NoError(t, err)
		assert.True(t, res.Applied)
	})

	t.Run("read only", func(t *testing.T) {
		e, _ := r.Get("site.pvPower")
		_, err := e.WriteValue(t.Context(), 1.0)
		assert.ErrorIs(t, err, types.ErrNotWritable)
	})

	src.AssertExpectations(t)
}

func TestRegistryCleanup(t *testing.T) {
	r := NewRegistry("http://evcc.local:7070", &mockSource{}, "")
	r.Build(t.Context(), testLoadpoints, nil)
	before := len(r.All())

	removed, ran := r.Cleanup(t.Context(), types.Snapshot{"siteTitle": "Home"})
	assert.True(t, ran)
	assert.Zero(t, removed, "snapshots without loadpoints are ignored")

	r.cleaning.Store(true)
	_, ran = r.Cleanup(t.Context(), types.Snapshot{"loadpoints": []any{}})
	assert.False(t, ran, "only one cleanup at a time")
	r.cleaning.Store(false)

	removed, ran = r.Cleanup(t.Context(), types.Snapshot{"loadpoints": []any{map[string]any{}}})
	assert.True(t, ran)
	assert.Equal(t, perLoadpointCount()-1, removed)
	assert.Len(t, r.All(), before-removed)

	_, ok := r.Get("carport.mode")
	assert.False(t, ok)
	_, ok = r.Get("garage.mode")
	assert.True(t, ok)
}
