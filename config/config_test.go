package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesPoolParameters(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
DataDir = "/tmp/lendpool"
PoolAddress = "0x0000000000000000000000000000000000000100"
FeeRecipient = "0x0000000000000000000000000000000000000101"
Borrowers = ["0x0000000000000000000000000000000000000200"]
Admins = ["0x0000000000000000000000000000000000000300"]

[pool]
OptimalUtilization = "0.9"
Slope1 = "0.2"
Slope2 = "0.6"
MaxRatePerSecond = "1000"
PerformanceFee = "0.1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "/tmp/lendpool", cfg.DataDir)
	require.Equal(t, "X-Lendpool-Secret", cfg.SharedSecretHeader)
	require.Equal(t, "json", cfg.Log.Format)

	model, err := cfg.RateModel()
	require.NoError(t, err)
	require.Equal(t, "900000000000000000", model.OptimalUtilization.Dec())
	require.Equal(t, "200000000000000000", model.Slope1.Dec())

	fee, err := cfg.PerformanceFee()
	require.NoError(t, err)
	require.Equal(t, "100000000000000000", fee.Dec())

	borrowers, err := cfg.BorrowerAddresses()
	require.NoError(t, err)
	require.Len(t, borrowers, 1)
	admins, err := cfg.AdminAddresses()
	require.NoError(t, err)
	require.Len(t, admins, 1)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := writeConfig(t, `
PoolAddress = "not-an-address"
FeeRecipient = "0x0000000000000000000000000000000000000101"

[pool]
OptimalUtilization = "0.9"
Slope1 = "0.2"
Slope2 = "0.6"
MaxRatePerSecond = "1000"
PerformanceFee = "0.1"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "PoolAddress")
}

func TestLoadRejectsBadKink(t *testing.T) {
	path := writeConfig(t, `
PoolAddress = "0x0000000000000000000000000000000000000100"
FeeRecipient = "0x0000000000000000000000000000000000000101"

[pool]
OptimalUtilization = "1.5"
Slope1 = "0.2"
Slope2 = "0.6"
MaxRatePerSecond = "1000"
PerformanceFee = "0.1"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.NoError(t, cfg.Validate())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, reloaded.ListenAddress)
}
