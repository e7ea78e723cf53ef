package drift

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type staticProbe map[tags.Scope][]tags.ID

func (p staticProbe) EnabledTags(scope tags.Scope) []tags.ID {
	return p[scope]
}

func TestParseVersion(t *testing.T) {
	v := ParseVersion("0.140.0 (abc123)")
	require.NotNil(t, v)
	assert.Equal(t, "0.140.0", v.String())
	assert.True(t, atLeast(v, GridNestedSince))

	v = ParseVersion("0.132.5")
	require.NotNil(t, v)
	assert.False(t, atLeast(v, GridNestedSince))

	assert.Nil(t, ParseVersion(""))
	assert.Nil(t, ParseVersion("(dev)"))
	assert.Nil(t, ParseVersion("not a version"))
	assert.False(t, atLeast(nil, GridNestedSince), "unknown versions are below every threshold")
}

func TestGridNested(t *testing.T) {
	t.Run("nested object wins over version", func(t *testing.T) {
		snap := types.Snapshot{
			"version": "0.100.0",
			"grid":    map[string]any{"power": 1200.0},
		}
		assert.True(t, Detect(t.Context(), snap, nil).GridNested)
	})

	t.Run("old version without grid", func(t *testing.T) {
		snap := types.Snapshot{"version": "0.132.5", "gridPower": 100.0}
		assert.False(t, Detect(t.Context(), snap, nil).GridNested)
	})

	t.Run("new version without grid data yet", func(t *testing.T) {
		snap := types.Snapshot{"version": "0.140.0 (abc123)"}
		assert.True(t, Detect(t.Context(), snap, nil).GridNested)
	})

	t.Run("empty grid object falls back to version", func(t *testing.T) {
		snap := types.Snapshot{"version": "0.120.0", "grid": map[string]any{}}
		assert.False(t, Detect(t.Context(), snap, nil).GridNested)
	})

	t.Run("null grid", func(t *testing.T) {
		snap := types.Snapshot{"version": "0.120.0", "grid": nil}
		assert.False(t, Detect(t.Context(), snap, nil).GridNested)
	})

	t.Run("grid list", func(t *testing.T) {
		snap := types.Snapshot{"grid": []any{"currents"}}
		assert.True(t, GridNested(snap, nil))
	})
}

func TestDetectTariff(t *testing.T) {
	probe := staticProbe{tags.ScopeTariff: {tags.TariffAPIGrid}}

	flags := Detect(t.Context(), types.Snapshot{"version": "0.200.1"}, probe)
	assert.True(t, flags.TariffEnabled)
	assert.Equal(t, "0.200.1", flags.ControllerVersion)
	assert.False(t, flags.DetectedAt.IsZero())

	flags = Detect(t.Context(), types.Snapshot{"version": "0.199.9"}, probe)
	assert.False(t, flags.TariffEnabled, "old controllers have no tariff endpoints")

	flags = Detect(t.Context(), types.Snapshot{"version": "0.210.0"}, staticProbe{})
	assert.False(t, flags.TariffEnabled, "nothing consumes tariffs")

	flags = Detect(t.Context(), types.Snapshot{"version": "0.210.0"}, nil)
	assert.False(t, flags.TariffEnabled)
}

func TestTariffKeys(t *testing.T) {
	probe := staticProbe{tags.ScopeTariff: {tags.TariffAPIGrid, tags.TariffAPISolar, tags.TariffAPIGrid, tags.PvPower}}
	assert.Equal(t, []string{"grid", "solar"}, TariffKeys(probe))
	assert.Nil(t, TariffKeys(nil))
}
