package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIn(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIn(t, "")
	require.NoError(t, err)

	assert.Equal(t, "hook", cfg.Relay.Mode)
	assert.Equal(t, 24, cfg.Attestation.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Attestation.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Attestation.RequestTimeout)

	src, err := cfg.Chain(cfg.Relay.SourceChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), src.ChainID)
	assert.Equal(t, uint32(0), src.Domain)

	dst, err := cfg.Chain("Base-Sepolia")
	require.NoError(t, err)
	assert.Equal(t, uint64(84532), dst.ChainID)
	assert.Equal(t, uint32(6), dst.Domain)
	assert.Equal(t, "https://sepolia.basescan.org", dst.Explorer)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("IRIS_BASE_URL", "http://iris.local")
	t.Setenv("SEPOLIA_URL", "http://sepolia.local")
	t.Setenv("DESTINATION_RPC_URL", "http://base.local")
	t.Setenv("RELAYER_PRIVATE_KEY", "0xabc")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/relay")

	cfg, err := loadIn(t, "")
	require.NoError(t, err)

	assert.Equal(t, "http://iris.local", cfg.Attestation.BaseURL)
	assert.Equal(t, "http://sepolia.local", cfg.Chains["sepolia"].RPC)
	assert.Equal(t, "http://base.local", cfg.Chains["base-sepolia"].RPC)
	assert.Equal(t, "0xabc", cfg.Relay.PrivateKey)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://u:p@db/relay", cfg.Database.URL)
}

func TestLoad_ConfigFile(t *testing.T) {
	cfg, err := loadIn(t, `
relay:
  mode: direct
attestation:
  poll_interval: 1s
  max_attempts: 3
deployments:
  overrides:
    "84532":
      CCTPHookWrapperV2Module#CCTPHookWrapperV2: "0x00000000000000000000000000000000000000aa"
`)
	require.NoError(t, err)

	assert.Equal(t, "direct", cfg.Relay.Mode)
	assert.Equal(t, time.Second, cfg.Attestation.PollInterval)
	assert.Equal(t, 3, cfg.Attestation.MaxAttempts)

	overrides, err := cfg.DeploymentOverrides()
	require.NoError(t, err)
	assert.Contains(t, overrides, uint64(84532))
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", "relay:\n  mode: bridge\n"},
		{"zero attempts", "attestation:\n  max_attempts: 0\n"},
		{"unknown chain", "relay:\n  source_chain: mumbai\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadIn(t, tt.yaml)
			assert.Error(t, err)
		})
	}
}
