package preset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/hooks"
	"CranePowerCtl/internal/limits"
	"CranePowerCtl/internal/settings/generic"
	"CranePowerCtl/internal/sysfs"
)

func newGpu(t *testing.T, desc *limits.GenericGpuLimit) *generic.Gpu {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys", "class", "drm", "card0"), 0o755))
	logger, _ := logtest.NewNullLogger()
	return generic.FromLimits(desc,
		generic.WithLocator(sysfs.NewLocator(root, logger)), generic.WithLogger(logger))
}

func wide() *limits.GenericGpuLimit {
	return &limits.GenericGpuLimit{
		TDP:     limits.NewRange(Watts(5), Watts(60)),
		FastPPT: limits.NewRange(Watts(5), Watts(60)),
		SlowPPT: limits.NewRange(Watts(5), Watts(60)),
	}
}

func TestApply_ConvertsWatts(t *testing.T) {
	gpu := newGpu(t, wide())
	require.NoError(t, Default().Apply(gpu, IDOverdrive40))

	tdp, fast, slow := gpu.PPTWithTDP()
	assert.Equal(t, uint64(40_000_000), *tdp)
	assert.Equal(t, uint64(53_000_000), *fast)
	assert.Equal(t, uint64(45_000_000), *slow)
	assert.Equal(t, IDOverdrive40, *gpu.Preset())
}

func TestApply_ClampedByBackend(t *testing.T) {
	gpu := newGpu(t, &limits.GenericGpuLimit{
		TDP:     limits.NewRange(Watts(3), Watts(15)),
		FastPPT: limits.NewRange(Watts(3), Watts(15)),
	})
	require.NoError(t, Default().Apply(gpu, IDTurbo30))

	tdp, fast, slow := gpu.PPTWithTDP()
	assert.Equal(t, Watts(15), *tdp)
	assert.Equal(t, Watts(15), *fast)
	assert.Nil(t, slow)
}

func TestApply_ManualKeepsValues(t *testing.T) {
	gpu := newGpu(t, wide())
	tdp := Watts(12)
	gpu.SetPPTWithTDP(&tdp, nil, nil)

	require.NoError(t, Default().Apply(gpu, IDManual))
	got, _, _ := gpu.PPTWithTDP()
	assert.Equal(t, Watts(12), *got)
	assert.Equal(t, IDManual, *gpu.Preset())
}

func TestApply_UnknownID(t *testing.T) {
	gpu := newGpu(t, wide())
	assert.Error(t, Default().Apply(gpu, 99))
	assert.Nil(t, gpu.Preset())
}

func TestLookup(t *testing.T) {
	tbl := Default()
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"silent", IDSilent, false},
		{" Turbo25 ", IDTurbo25, false},
		{"6", IDOverdrive40, false},
		{"42", 0, true},
		{"warp", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			p, err := tbl.Lookup(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestAdd(t *testing.T) {
	tbl := Default()
	require.NoError(t, tbl.Add(Preset{ID: 10, Name: "Dock", TDP: 35, SlowPPT: 40, FastPPT: 45}))

	p, err := tbl.Lookup("dock")
	require.NoError(t, err)
	assert.Equal(t, "dock", p.Label)

	assert.Error(t, tbl.Add(Preset{ID: 10, Name: "other"}))
	assert.Error(t, tbl.Add(Preset{ID: 11, Name: "silent"}))
	assert.Error(t, tbl.Add(Preset{ID: 12, Name: ""}))
	assert.Error(t, tbl.Add(Preset{ID: 13, Name: "13"}))

	// the default table is not shared
	_, err = Default().Lookup("dock")
	assert.Error(t, err)
}

func TestSortedByID(t *testing.T) {
	ps := Default().SortedByID()
	for i := 1; i < len(ps); i++ {
		assert.Less(t, ps[i-1].ID, ps[i].ID)
	}
	assert.Equal(t, "performance20", Default().All()[2].Name)
}

func TestPowerHandler(t *testing.T) {
	gpu := newGpu(t, wide())
	logger, _ := logtest.NewNullLogger()
	d := hooks.NewDispatcher(logger).Use(
		PowerHandler(Default(), gpu, map[api.PowerSource]uint64{
			api.PowerSourceBattery: IDSilent,
			api.PowerSourceAC:      IDTurbo25,
		}),
		hooks.GpuHandler(gpu),
	)

	assert.Nil(t, d.Dispatch(context.Background(), api.PowerSourceChangedHook, api.PowerSourceBattery))
	assert.Equal(t, IDSilent, *gpu.Preset())

	assert.Nil(t, d.Dispatch(context.Background(), api.PowerSourceChangedHook, api.PowerSourceAC))
	tdp, _, _ := gpu.PPTWithTDP()
	assert.Equal(t, Watts(25), *tdp)

	// unknown source and other hooks leave the preset alone
	d.Dispatch(context.Background(), api.PowerSourceChangedHook, api.PowerSourceUnknown)
	d.Dispatch(context.Background(), api.ResumeHook, api.PowerSourceBattery)
	assert.Equal(t, IDTurbo25, *gpu.Preset())
}
