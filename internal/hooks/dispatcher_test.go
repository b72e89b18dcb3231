package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CranePowerCtl/api"
	"CranePowerCtl/internal/settings/generic"
	"CranePowerCtl/internal/sysfs"
)

type recordingGpu struct {
	*generic.Gpu
	calls []string
	fail  []api.SettingError
}

func (g *recordingGpu) OnSet() []api.SettingError {
	g.calls = append(g.calls, "set")
	return g.fail
}

func (g *recordingGpu) OnResume() []api.SettingError {
	g.calls = append(g.calls, "resume")
	return g.fail
}

func (g *recordingGpu) OnPowerEvent(src api.PowerSource) []api.SettingError {
	g.calls = append(g.calls, "power:"+src.String())
	return g.fail
}

func newRecordingGpu(t *testing.T) *recordingGpu {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys", "class", "drm", "card0"), 0o755))
	logger, _ := logtest.NewNullLogger()
	return &recordingGpu{Gpu: generic.FromLimits(nil,
		generic.WithLocator(sysfs.NewLocator(root, logger)), generic.WithLogger(logger))}
}

func quietDispatcher() *Dispatcher {
	logger, _ := logtest.NewNullLogger()
	return NewDispatcher(logger)
}

func TestDispatch_RoutesHookTypes(t *testing.T) {
	gpu := newRecordingGpu(t)
	d := quietDispatcher().Use(GpuHandler(gpu))

	assert.Nil(t, d.Dispatch(context.Background(), api.SettingsAppliedHook, api.PowerSourceUnknown))
	assert.Nil(t, d.Dispatch(context.Background(), api.ResumeHook, api.PowerSourceUnknown))
	assert.Nil(t, d.Dispatch(context.Background(), api.PowerSourceChangedHook, api.PowerSourceBattery))

	assert.Equal(t, []string{"set", "resume", "power:battery"}, gpu.calls)
}

func TestDispatch_CollectsErrorsFromEveryHandler(t *testing.T) {
	a, b := newRecordingGpu(t), newRecordingGpu(t)
	a.fail = []api.SettingError{{Setting: api.SettingStapmPPT, Msg: "denied"}}
	b.fail = []api.SettingError{{Setting: api.SettingClockLimits, Msg: "unsupported"}}

	errs := quietDispatcher().Use(GpuHandler(a), GpuHandler(b)).
		Dispatch(context.Background(), api.SettingsAppliedHook, api.PowerSourceUnknown)

	require.Len(t, errs, 2)
	assert.Equal(t, api.SettingStapmPPT, errs[0].Setting)
	assert.Equal(t, api.SettingClockLimits, errs[1].Setting)
	assert.Equal(t, []string{"set"}, b.calls)
}

func TestDispatch_Abort(t *testing.T) {
	gpu := newRecordingGpu(t)
	stop := func(c *Context) { c.Abort() }

	quietDispatcher().Use(stop, GpuHandler(gpu)).
		Dispatch(context.Background(), api.SettingsAppliedHook, api.PowerSourceUnknown)
	assert.Empty(t, gpu.calls)
}

func TestDispatch_NextRunsRestFirst(t *testing.T) {
	var order []string
	wrap := func(c *Context) {
		order = append(order, "before")
		c.Next()
		order = append(order, "after")
	}
	inner := func(c *Context) { order = append(order, "inner") }
	last := func(c *Context) { order = append(order, "last") }

	quietDispatcher().Use(wrap, inner, last).
		Dispatch(context.Background(), api.ResumeHook, api.PowerSourceUnknown)
	assert.Equal(t, []string{"before", "inner", "last", "after"}, order)
}

func TestDispatch_NilHandlerStopsChain(t *testing.T) {
	gpu := newRecordingGpu(t)
	quietDispatcher().Use(nil, GpuHandler(gpu)).
		Dispatch(context.Background(), api.SettingsAppliedHook, api.PowerSourceUnknown)
	assert.Empty(t, gpu.calls)
}

func TestDispatch_CancelledContext(t *testing.T) {
	gpu := newRecordingGpu(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	quietDispatcher().Use(GpuHandler(gpu)).Dispatch(ctx, api.SettingsAppliedHook, api.PowerSourceUnknown)
	assert.Empty(t, gpu.calls)
}

func TestDispatch_LogsReportedErrors(t *testing.T) {
	gpu := newRecordingGpu(t)
	gpu.fail = []api.SettingError{{Setting: api.SettingStapmPPT, Msg: "denied"}}
	logger, hook := logtest.NewNullLogger()

	errs := NewDispatcher(logger).Use(GpuHandler(gpu)).
		Dispatch(context.Background(), api.SettingsAppliedHook, api.PowerSourceUnknown)

	require.Len(t, errs, 1)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "denied")
}

func TestTuningGate(t *testing.T) {
	gpu := newRecordingGpu(t)
	d := quietDispatcher().Use(TuningGate(false), GpuHandler(gpu))
	assert.Nil(t, d.Dispatch(context.Background(), api.ResumeHook, api.PowerSourceUnknown))
	assert.Empty(t, gpu.calls)

	d = quietDispatcher().Use(TuningGate(true), GpuHandler(gpu))
	assert.Nil(t, d.Dispatch(context.Background(), api.ResumeHook, api.PowerSourceUnknown))
	assert.Equal(t, []string{"resume"}, gpu.calls)
}
