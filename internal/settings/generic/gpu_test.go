package generic

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/settings"
	"CranePowerCtl/internal/sysfs"
)

func u(v uint64) *uint64 { return &v }

func fakeSysfs(t *testing.T, cards ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, card := range cards {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sys", "class", "drm", card), 0o755))
	}
	return root
}

func quietLogger() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

func newTestGpu(t *testing.T, desc *limits.GenericGpuLimit, opts ...Option) *Gpu {
	t.Helper()
	root := fakeSysfs(t, "card0")
	opts = append([]Option{
		WithLocator(sysfs.NewLocator(root, quietLogger())),
		WithLogger(quietLogger()),
	}, opts...)
	return FromLimits(desc, opts...)
}

// fast_ppt [5,15], slow_ppt [5,10], no tdp
func pptOnly() *limits.GenericGpuLimit {
	return &limits.GenericGpuLimit{
		FastPPT: limits.NewRange(5, 15),
		SlowPPT: limits.NewRange(5, 10),
	}
}

func clocks() *limits.GenericGpuLimit {
	return &limits.GenericGpuLimit{
		ClockMin: limits.NewRange(200, 1000),
		ClockMax: limits.NewRange(800, 1600),
	}
}

func TestSetPPT_ClampsToDescriptor(t *testing.T) {
	g := newTestGpu(t, pptOnly())

	g.SetPPT(u(20), u(2))

	fast, slow := g.PPT()
	require.NotNil(t, fast)
	require.NotNil(t, slow)
	assert.Equal(t, uint64(15), *fast)
	assert.Equal(t, uint64(5), *slow)
}

func TestSetPPTWithTDP_DropsUnsupportedTDP(t *testing.T) {
	g := newTestGpu(t, pptOnly())

	g.SetPPTWithTDP(u(100), u(20), u(2))

	tdp, fast, slow := g.PPTWithTDP()
	assert.Nil(t, tdp)
	assert.Equal(t, uint64(15), *fast)
	assert.Equal(t, uint64(5), *slow)
}

func TestSetPPTWithTDP_ClampsTDP(t *testing.T) {
	desc := pptOnly()
	desc.TDP = limits.NewRange(3, 12)
	g := newTestGpu(t, desc)

	g.SetPPTWithTDP(u(100), nil, nil)

	tdp, fast, slow := g.PPTWithTDP()
	assert.Equal(t, uint64(12), *tdp)
	assert.Nil(t, fast)
	assert.Nil(t, slow)
}

func TestSetPPT_AlwaysWithinRangeOrNil(t *testing.T) {
	t.Parallel()

	requests := []uint64{0, 1, 5, 7, 10, 15, 16, 1 << 40, math.MaxUint64}
	descs := map[string]*limits.GenericGpuLimit{
		"ppt only":     pptOnly(),
		"fast only":    {FastPPT: limits.NewRange(5, 15)},
		"nothing":      {},
		"open max":     {FastPPT: &limits.RangeLimit{Min: u(3)}, SlowPPT: &limits.RangeLimit{Max: u(9)}},
		"single value": {FastPPT: limits.NewRange(8, 8), SlowPPT: limits.NewRange(8, 8)},
	}

	for name, desc := range descs {
		desc := desc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := newTestGpu(t, desc)
			for _, fastReq := range requests {
				for _, slowReq := range requests {
					g.SetPPT(u(fastReq), u(slowReq))
					fast, slow := g.PPT()
					checkKnob(t, desc.FastPPT, fast)
					checkKnob(t, desc.SlowPPT, slow)
				}
			}
		})
	}
}

func checkKnob(t *testing.T, r *limits.RangeLimit, v *uint64) {
	t.Helper()
	if r == nil {
		assert.Nil(t, v)
		return
	}
	require.NotNil(t, v)
	assert.GreaterOrEqual(t, *v, r.MinOr(0))
	assert.LessOrEqual(t, *v, r.MaxOr(math.MaxUint64))
}

func TestSetPPT_Idempotent(t *testing.T) {
	once := newTestGpu(t, pptOnly())
	twice := newTestGpu(t, pptOnly())

	once.SetPPT(u(12), u(1))
	twice.SetPPT(u(12), u(1))
	twice.SetPPT(u(12), u(1))

	assert.Equal(t, once.JSON(), twice.JSON())
}

func TestSetPPT_NilClearsSupportedKnob(t *testing.T) {
	g := newTestGpu(t, pptOnly())
	g.SetPPT(u(10), u(10))

	g.SetPPT(nil, u(6))

	fast, slow := g.PPT()
	assert.Nil(t, fast)
	assert.Equal(t, uint64(6), *slow)
}

func TestSetClockLimits_NoClockCapability(t *testing.T) {
	g := newTestGpu(t, pptOnly())

	g.SetClockLimits(&settings.MinMax[uint64]{Min: 1000, Max: 2000})

	assert.Nil(t, g.ClockLimits())
}

func TestSetClockLimits_NeedsBothRanges(t *testing.T) {
	g := newTestGpu(t, &limits.GenericGpuLimit{ClockMax: limits.NewRange(800, 1600)})

	g.SetClockLimits(&settings.MinMax[uint64]{Min: 1000, Max: 1200})

	assert.Nil(t, g.ClockLimits())
}

func TestSetClockLimits_ClampModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode settings.ClockClampMode
		req  settings.MinMax[uint64]
		want settings.MinMax[uint64]
	}{
		{
			name: "independent clamps each bound to its own range",
			mode: settings.ClockClampIndependent,
			req:  settings.MinMax[uint64]{Min: 100, Max: 2000},
			want: settings.MinMax[uint64]{Min: 200, Max: 1600},
		},
		{
			name: "independent keeps in-range values",
			mode: settings.ClockClampIndependent,
			req:  settings.MinMax[uint64]{Min: 500, Max: 900},
			want: settings.MinMax[uint64]{Min: 500, Max: 900},
		},
		{
			name: "legacy pins max to clock_max upper bound",
			mode: settings.ClockClampLegacy,
			req:  settings.MinMax[uint64]{Min: 500, Max: 900},
			want: settings.MinMax[uint64]{Min: 500, Max: 1600},
		},
		{
			name: "legacy still clamps min",
			mode: settings.ClockClampLegacy,
			req:  settings.MinMax[uint64]{Min: 5000, Max: 900},
			want: settings.MinMax[uint64]{Min: 1000, Max: 1600},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGpu(t, clocks(), WithClockClampMode(tt.mode))

			g.SetClockLimits(&tt.req)

			got := g.ClockLimits()
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSetClockLimits_NilClears(t *testing.T) {
	g := newTestGpu(t, clocks())
	g.SetClockLimits(&settings.MinMax[uint64]{Min: 300, Max: 900})

	g.SetClockLimits(nil)

	assert.Nil(t, g.ClockLimits())
}

func TestFromJSONAndLimits_FiltersUnsupportedKnobs(t *testing.T) {
	root := fakeSysfs(t, "card0")
	rec := persist.GpuJSON{
		Preset:      u(3),
		StapmPPT:    u(11),
		FastPPT:     u(12),
		SlowPPT:     u(9),
		ClockLimits: &persist.MinMaxJSON{Min: u(300), Max: u(900)},
		SlowMemory:  true,
		Root:        &root,
	}

	g := FromJSONAndLimits(rec, persist.LatestVersion, pptOnly(), WithLogger(quietLogger()))

	tdp, fast, slow := g.PPTWithTDP()
	assert.Nil(t, tdp)
	assert.Equal(t, uint64(12), *fast)
	assert.Equal(t, uint64(9), *slow)
	assert.Nil(t, g.ClockLimits())
	assert.Equal(t, uint64(3), *g.Preset())
	assert.False(t, *g.SlowMemory())
}

func TestFromJSONAndLimits_NullClockBounds(t *testing.T) {
	root := fakeSysfs(t, "card0")
	rec := persist.GpuJSON{ClockLimits: &persist.MinMaxJSON{}}
	g := FromJSONAndLimits(rec, persist.LatestVersion, clocks(),
		WithLocator(sysfs.NewLocator(root, quietLogger())), WithLogger(quietLogger()))

	assert.Nil(t, g.ClockLimits())
	assert.Nil(t, g.JSON().ClockLimits)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	full := &limits.GenericGpuLimit{
		FastPPT:  limits.NewRange(5, 15),
		SlowPPT:  limits.NewRange(5, 10),
		TDP:      limits.NewRange(3, 12),
		ClockMin: limits.NewRange(200, 1000),
		ClockMax: limits.NewRange(800, 1600),
	}

	for name, desc := range map[string]*limits.GenericGpuLimit{
		"full":     full,
		"ppt only": pptOnly(),
		"clocks":   clocks(),
		"nothing":  {},
	} {
		desc := desc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			root := fakeSysfs(t, "card1")
			src := FromJSONAndLimits(persist.GpuJSON{Root: &root}, persist.LatestVersion, desc, WithLogger(quietLogger()))
			src.SetPreset(u(2))
			src.SetPPTWithTDP(u(7), u(20), u(1))
			src.SetClockLimits(&settings.MinMax[uint64]{Min: 400, Max: 1200})

			rec := src.JSON()
			dst := FromJSONAndLimits(rec, persist.LatestVersion, desc, WithLogger(quietLogger()))

			assert.Equal(t, rec, dst.JSON())
			assert.Equal(t, src.ClockLimits(), dst.ClockLimits())
			assert.Equal(t, src.DevicePath(), dst.DevicePath())
		})
	}
}

func TestJSON_SlowMemoryAlwaysFalse(t *testing.T) {
	g := newTestGpu(t, pptOnly())
	*g.SlowMemory() = true

	assert.True(t, *g.SlowMemory())
	assert.False(t, g.JSON().SlowMemory)
}

func TestJSON_RootOnlyWhenCustom(t *testing.T) {
	root := fakeSysfs(t, "card0")
	custom := FromJSONAndLimits(persist.GpuJSON{Root: &root}, 1, pptOnly(), WithLogger(quietLogger()))
	require.NotNil(t, custom.JSON().Root)
	assert.Equal(t, root, *custom.JSON().Root)

	def := FromJSONAndLimits(persist.GpuJSON{}, 1, pptOnly(),
		WithLocator(sysfs.NewLocator("", quietLogger())), WithLogger(quietLogger()))
	assert.Nil(t, def.JSON().Root)
}

func TestLimits_Defaults(t *testing.T) {
	g := newTestGpu(t, &limits.GenericGpuLimit{
		FastPPT:  &limits.RangeLimit{Min: u(1_000_000)},
		SlowPPT:  &limits.RangeLimit{},
		TDPBoost: &limits.RangeLimit{Max: u(20_000_000)},
		ClockMin: &limits.RangeLimit{},
		PPTStep:  u(500_000),
	})

	l := g.Limits()

	assert.Equal(t, &api.RangeLimit[uint64]{Min: 1_000_000, Max: 15_000_000}, l.FastPPTLimits)
	assert.Equal(t, &api.RangeLimit[uint64]{Min: 0, Max: 15_000_000}, l.SlowPPTLimits)
	assert.Nil(t, l.TDPLimits)
	assert.Equal(t, &api.RangeLimit[uint64]{Min: 0, Max: 20_000_000}, l.TDPBoostLimits)
	assert.Equal(t, &api.RangeLimit[uint64]{Min: 0, Max: 3_000}, l.ClockMinLimits)
	assert.Nil(t, l.ClockMaxLimits)
	assert.Equal(t, uint64(500_000), l.PPTStep)
	assert.Equal(t, uint64(42), l.TDPStep)
	assert.Equal(t, uint64(100), l.ClockStep)
	assert.False(t, l.MemoryControlCapable)
}

func TestLimits_NilDescriptor(t *testing.T) {
	g := newTestGpu(t, nil)

	l := g.Limits()

	assert.Nil(t, l.FastPPTLimits)
	assert.Nil(t, l.SlowPPTLimits)
	assert.Nil(t, l.TDPLimits)
	assert.Nil(t, l.TDPBoostLimits)
	assert.Nil(t, l.ClockMinLimits)
	assert.Nil(t, l.ClockMaxLimits)
	assert.Equal(t, uint64(1_000_000), l.PPTStep)
}

func TestFromLimits_LocatesFirstCard(t *testing.T) {
	root := fakeSysfs(t, "card1", "card0-eDP-1", "renderD128")

	g := FromLimits(pptOnly(),
		WithLocator(sysfs.NewLocator(root, quietLogger())),
		WithFilter(sysfs.CardsOnly),
		WithLogger(quietLogger()))

	assert.Equal(t, filepath.Join(root, "sys", "class", "drm", "card1"), g.DevicePath().Path())
}

func TestFromLimits_FallsBackWhenScanFails(t *testing.T) {
	root := t.TempDir()
	logger, hook := logtest.NewNullLogger()

	g := FromLimits(pptOnly(), WithLocator(sysfs.NewLocator(root, logger)), WithLogger(quietLogger()))

	assert.Equal(t, filepath.Join(root, "sys", "class", "drm", "card0"), g.DevicePath().Path())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	g.SetPPT(u(100), u(0))
	fast, slow := g.PPT()
	assert.Equal(t, uint64(15), *fast)
	assert.Equal(t, uint64(5), *slow)
}

func TestHooksAlwaysSucceed(t *testing.T) {
	g := newTestGpu(t, pptOnly())
	g.SetPPT(u(10), u(10))

	assert.Empty(t, g.OnSet())
	assert.Empty(t, g.OnResume())
	assert.Empty(t, g.OnPowerEvent(api.PowerSourceBattery))
	assert.Equal(t, persist.DriverGeneric, g.Provider())
}
