package cgpu

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"CranePowerCtl/internal/persist"
	"CranePowerCtl/internal/preset"
	"CranePowerCtl/internal/settings/nvidia"
	"CranePowerCtl/internal/util"
)

const limitsYAML = `
fast_ppt: {min: 5000000, max: 30000000}
slow_ppt: {min: 5000000, max: 25000000}
tdp: {min: 3000000, max: 15000000}
clock_min: {min: 200, max: 1000}
clock_max: {min: 800, max: 1600}
`

type fixture struct {
	root     string
	limits   string
	settings string
	config   string
	lib      nvidia.Library

	foreground bool
}

func newFixture(t *testing.T, vendor string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		root:     filepath.Join(dir, "root"),
		limits:   filepath.Join(dir, "limits.yaml"),
		settings: filepath.Join(dir, "state", "settings.json"),
	}

	pci := filepath.Join(f.root, "sys", "devices", "pci0000:00", "0000:04:00.0")
	card := filepath.Join(f.root, "sys", "class", "drm", "card0")
	require.NoError(t, os.MkdirAll(pci, 0o755))
	require.NoError(t, os.MkdirAll(card, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pci, "vendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.Symlink(pci, filepath.Join(card, "device")))

	ac := filepath.Join(f.root, "sys", "class", "power_supply", "ACAD")
	require.NoError(t, os.MkdirAll(ac, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ac, "type"), []byte("Mains\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ac, "online"), []byte("0\n"), 0o644))

	require.NoError(t, os.WriteFile(f.limits, []byte(limitsYAML), 0o644))
	return f
}

func (f *fixture) withConfig(t *testing.T, body string) {
	t.Helper()
	f.config = filepath.Join(filepath.Dir(f.limits), "config.yaml")
	require.NoError(t, os.WriteFile(f.config, []byte(body), 0o644))
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&options{
		library:    f.lib,
		foreground: func() bool { return f.foreground },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--config", f.config,
		"--root", f.root,
		"--limits", f.limits,
		"--settings", f.settings,
		"--log-level", "error",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (f *fixture) record(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(f.settings)
	require.NoError(t, err)
	return data
}

func TestLimits_JSON(t *testing.T) {
	f := newFixture(t, "0x1002")
	out, err := f.run(t, "limits", "--json")
	require.NoError(t, err)

	assert.Equal(t, uint64(30_000_000), gjson.Get(out, "fast_ppt_limits.max").Uint())
	assert.Equal(t, uint64(1600), gjson.Get(out, "clock_max_limits.max").Uint())
	assert.Equal(t, uint64(42), gjson.Get(out, "tdp_step").Uint())
	assert.Equal(t, "null", gjson.Get(out, "tdp_boost_limits").Raw)
}

func TestLimits_TableAndTree(t *testing.T) {
	f := newFixture(t, "0x1002")
	out, err := f.run(t, "limits")
	require.NoError(t, err)
	assert.Contains(t, out, "30W")
	assert.Contains(t, out, unsupported)

	out, err = f.run(t, "limits", "--tree")
	require.NoError(t, err)
	assert.Contains(t, out, "Generic")
	assert.Contains(t, out, "max: 1600MHz")
}

func TestSet_ClampsAndSaves(t *testing.T) {
	f := newFixture(t, "0x1002")
	_, err := f.run(t, "set", "tdp=20W", "fast=2W", "clock=100-2000", "--save")
	require.NoError(t, err)

	rec := f.record(t)
	assert.Equal(t, uint64(15_000_000), gjson.GetBytes(rec, "gpu.stapm_ppt").Uint())
	assert.Equal(t, uint64(5_000_000), gjson.GetBytes(rec, "gpu.fast_ppt").Uint())
	assert.Equal(t, "null", gjson.GetBytes(rec, "gpu.slow_ppt").Raw)
	assert.Equal(t, uint64(200), gjson.GetBytes(rec, "gpu.clock_limits.min").Uint())
	assert.Equal(t, uint64(1600), gjson.GetBytes(rec, "gpu.clock_limits.max").Uint())
	assert.Equal(t, preset.IDManual, gjson.GetBytes(rec, "gpu.preset").Uint())
	assert.Equal(t, "Generic", gjson.GetBytes(rec, "provider").String())
	assert.Equal(t, persist.LatestVersion, gjson.GetBytes(rec, "version").Uint())

	// restored on the next run
	out, err := f.run(t, "show", "--query", "tdp")
	require.NoError(t, err)
	assert.Equal(t, "15000000\n", out)
}

func TestSet_KeepsOtherRecordKeys(t *testing.T) {
	f := newFixture(t, "0x1002")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.settings), 0o755))
	require.NoError(t, os.WriteFile(f.settings, []byte(`{"version":0,"name":"game","cpus":[1,2],"gpu":{"clock_limits":[900,300]}}`), 0o644))

	out, err := f.run(t, "show", "--json")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), gjson.Get(out, "clock_limits.min").Uint())
	assert.Equal(t, uint64(900), gjson.Get(out, "clock_limits.max").Uint())

	_, err = f.run(t, "set", "slow=10W", "--save")
	require.NoError(t, err)
	rec := f.record(t)
	assert.Equal(t, "game", gjson.GetBytes(rec, "name").String())
	assert.Equal(t, "[1,2]", gjson.GetBytes(rec, "cpus").Raw)
	assert.Equal(t, uint64(10_000_000), gjson.GetBytes(rec, "gpu.slow_ppt").Uint())
}

func TestSet_BadExpression(t *testing.T) {
	f := newFixture(t, "0x1002")
	_, err := f.run(t, "set", "voltage=3")
	require.Error(t, err)
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))

	_, err = f.run(t, "set")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestSet_UnknownPreset(t *testing.T) {
	f := newFixture(t, "0x1002")
	_, err := f.run(t, "set", "preset=warp")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestBadLimitsFile(t *testing.T) {
	f := newFixture(t, "0x1002")
	require.NoError(t, os.WriteFile(f.limits, []byte("tdp: {min: 9, max: 1}\n"), 0o644))
	_, err := f.run(t, "show")
	assert.Equal(t, util.ErrorConfig, util.ExitCodeOf(err))
}

func TestPresetApply(t *testing.T) {
	f := newFixture(t, "0x1002")
	_, err := f.run(t, "preset", "apply", "silent", "--save")
	require.NoError(t, err)

	rec := f.record(t)
	assert.Equal(t, preset.IDSilent, gjson.GetBytes(rec, "gpu.preset").Uint())
	assert.Equal(t, uint64(10_000_000), gjson.GetBytes(rec, "gpu.stapm_ppt").Uint())
	assert.Equal(t, uint64(25_000_000), gjson.GetBytes(rec, "gpu.slow_ppt").Uint())

	out, err := f.run(t, "preset", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "40W Overdrive")
}

func TestHookPower_SwitchesPreset(t *testing.T) {
	f := newFixture(t, "0x1002")
	f.withConfig(t, "power_presets:\n  ac: turbo25\n  battery: silent\n")

	// detected from the fake Mains supply, which is offline
	_, err := f.run(t, "hook", "power", "--save")
	require.NoError(t, err)
	assert.Equal(t, preset.IDSilent, gjson.GetBytes(f.record(t), "gpu.preset").Uint())

	_, err = f.run(t, "hook", "power", "ac", "--save")
	require.NoError(t, err)
	assert.Equal(t, preset.IDTurbo25, gjson.GetBytes(f.record(t), "gpu.preset").Uint())

	_, err = f.run(t, "hook", "power", "solar")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestNvidiaBackend(t *testing.T) {
	f := newFixture(t, "0x10de")
	dev := &nvidia.MockDevice{MinPower: 20_000, MaxPower: 80_000, MaxClock: 1_800}
	f.lib = &nvidia.MockLibrary{Devices: map[string]nvidia.Device{"0000:04:00.0": dev}}

	_, err := f.run(t, "set", "tdp=50W", "clock=300-1500", "--save")
	require.NoError(t, err)
	require.NotNil(t, dev.PowerLimit)
	assert.Equal(t, uint32(50_000), *dev.PowerLimit)
	assert.Equal(t, [2]uint32{300, 1500}, *dev.LockedClocks)
	assert.Equal(t, "Nvidia", gjson.GetBytes(f.record(t), "provider").String())

	// resume re-pushes the saved record
	dev.PowerLimit, dev.LockedClocks = nil, nil
	_, err = f.run(t, "hook", "resume")
	require.NoError(t, err)
	assert.Equal(t, uint32(50_000), *dev.PowerLimit)

	dev.PowerErr = os.ErrPermission
	_, err = f.run(t, "hook", "resume")
	assert.Equal(t, util.ErrorHardware, util.ExitCodeOf(err))
}

func TestLocate(t *testing.T) {
	f := newFixture(t, "0x1002")
	out, err := f.run(t, "locate", "--json")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.root, "sys", "class", "drm", "card0"), gjson.Get(out, "path").String())
	assert.True(t, gjson.Get(out, "custom_root").Bool())
	assert.Equal(t, "0x1002", gjson.Get(out, `attributes.device/vendor.value`).String())
}

func TestPower(t *testing.T) {
	f := newFixture(t, "0x1002")
	out, err := f.run(t, "power", "--json")
	require.NoError(t, err)
	assert.Equal(t, "battery", gjson.Get(out, "source").String())
	assert.Equal(t, "ACAD", gjson.Get(out, "supplies.0.Name").String())
}

func TestInvalidDriverFlag(t *testing.T) {
	f := newFixture(t, "0x1002")
	_, err := f.run(t, "--driver", "radeon", "show")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestStats(t *testing.T) {
	f := newFixture(t, "0x10de")
	dev := &nvidia.MockDevice{MinPower: 20_000, MaxPower: 80_000, Power: 35_500, Temp: 58, GpuUtil: 40}
	f.lib = &nvidia.MockLibrary{Devices: map[string]nvidia.Device{"0000:04:00.0": dev}}

	out, err := f.run(t, "stats", "--json", "-n", "2", "-i", "1ms")
	require.NoError(t, err)
	assert.Equal(t, 35.5, gjson.Get(out, "0.power_w").Float())
	assert.Equal(t, int64(2), gjson.Get(out, "#").Int())

	generic := newFixture(t, "0x1002")
	_, err = generic.run(t, "stats")
	assert.Equal(t, util.ErrorHardware, util.ExitCodeOf(err))
}

func nvidiaFixture(t *testing.T) (*fixture, *nvidia.MockDevice) {
	t.Helper()
	f := newFixture(t, "0x10de")
	dev := &nvidia.MockDevice{DeviceName: "RTX", MinPower: 20_000, MaxPower: 80_000, MaxClock: 1_800, Power: 35_500}
	f.lib = &nvidia.MockLibrary{Devices: map[string]nvidia.Device{"0000:04:00.0": dev}}
	return f, dev
}

func TestStats_RejectsNonPositiveInterval(t *testing.T) {
	f, _ := nvidiaFixture(t)

	for _, interval := range []string{"0s", "-1s"} {
		_, err := f.run(t, "stats", "-n", "1", "--interval="+interval)
		assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err), interval)
	}
	_, err := f.run(t, "stats", "-n", "0")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestStats_Influx(t *testing.T) {
	var writes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			writes.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f, _ := nvidiaFixture(t)
	_, err := f.run(t, "stats", "--influx")
	assert.Equal(t, util.ErrorConfig, util.ExitCodeOf(err))

	f.withConfig(t, fmt.Sprintf("influxdb:\n  url: %s\n  token: t\n  org: lab\n  bucket: gpu\n", srv.URL))
	_, err = f.run(t, "stats", "--influx", "-n", "2", "-i", "1ms")
	require.NoError(t, err)
	assert.Equal(t, int32(2), writes.Load())
}

func TestTuning_OffSkipsHooks(t *testing.T) {
	f, dev := nvidiaFixture(t)

	out, err := f.run(t, "tuning", "--json")
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "enabled").Bool())

	_, err = f.run(t, "tuning", "off")
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(f.record(t), "gpu_tuning_enabled").Bool())

	_, err = f.run(t, "set", "tdp=50W", "--save")
	require.NoError(t, err)
	assert.Nil(t, dev.PowerLimit)
	assert.Equal(t, uint64(50_000_000), gjson.GetBytes(f.record(t), "gpu.stapm_ppt").Uint())

	_, err = f.run(t, "tuning", "on")
	require.NoError(t, err)
	_, err = f.run(t, "hook", "resume")
	require.NoError(t, err)
	require.NotNil(t, dev.PowerLimit)
	assert.Equal(t, uint32(50_000), *dev.PowerLimit)

	_, err = f.run(t, "tuning", "maybe")
	assert.Equal(t, util.ErrorCmdArg, util.ExitCodeOf(err))
}

func TestHookResume_PrintsOnlyInForeground(t *testing.T) {
	f := newFixture(t, "0x1002")

	out, err := f.run(t, "hook", "resume")
	require.NoError(t, err)
	assert.Empty(t, out)

	f.foreground = true
	out, err = f.run(t, "hook", "resume")
	require.NoError(t, err)
	assert.Contains(t, out, "clock_limits")
}
