package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAppliesDefaults(t *testing.T) {
	k := (&Kernel{}).Check()
	assert.Equal(t, DefaultWaitForCardTimeout, k.WaitForCardTimeout)
	assert.Equal(t, DefaultPerCommandTimeout, k.PerCommandTimeout)
	assert.Equal(t, DefaultOverallTimeout, k.OverallTimeout)
	assert.Equal(t, DefaultOnlineResponseTimeout, k.OnlineResponseTimeout)
	assert.Equal(t, DefaultMaxTryAgainAttempts, k.MaxTryAgainAttempts)
}

func TestCheckPanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() {
		(&Kernel{WaitForCardTimeout: 10 * time.Minute}).Check()
	})
	assert.Panics(t, func() {
		(&Kernel{RandomSelectionPercent: 150}).Check()
	})
	assert.Panics(t, func() {
		(&Kernel{FloorLimit: -1}).Check()
	})
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	contents := "force_online: true\ncvm_required_limit: 5000\nper_command_timeout: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	k, err := Load(path)
	require.NoError(t, err)
	assert.True(t, k.ForceOnline)
	assert.Equal(t, int64(5000), k.CVMRequiredLimit)
	assert.Equal(t, 2*time.Second, k.PerCommandTimeout)
	assert.Equal(t, DefaultOverallTimeout, k.OverallTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/kernel.yaml")
	require.Error(t, err)
}

func TestCheckDecodesTACHex(t *testing.T) {
	k := (&Kernel{TACDenialHex: "0000000000", TACOnlineHex: "FC50ACF800"}).Check()
	assert.Equal(t, [5]byte{0, 0, 0, 0, 0}, k.TACDenial)
	assert.Equal(t, [5]byte{0xFC, 0x50, 0xAC, 0xF8, 0x00}, k.TACOnline)
}

func TestCheckPanicsOnMalformedTACHex(t *testing.T) {
	assert.Panics(t, func() {
		(&Kernel{TACDenialHex: "not-hex"}).Check()
	})
	assert.Panics(t, func() {
		(&Kernel{TACOnlineHex: "AABB"}).Check()
	})
}

func TestCheckDefaultsTerminalApplicationVersion(t *testing.T) {
	k := (&Kernel{}).Check()
	assert.Equal(t, DefaultTerminalApplicationVersion, k.TerminalApplicationVersion)
}

func TestCheckDecodesTerminalApplicationVersionHex(t *testing.T) {
	k := (&Kernel{TerminalApplicationVersionHex: "0096"}).Check()
	assert.Equal(t, [2]byte{0x00, 0x96}, k.TerminalApplicationVersion)
}

func TestCheckPanicsOnMalformedTerminalApplicationVersionHex(t *testing.T) {
	assert.Panics(t, func() {
		(&Kernel{TerminalApplicationVersionHex: "AABBCC"}).Check()
	})
}
