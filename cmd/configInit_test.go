package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/nerotrade/aaswap/core/config"
)

func TestConfigInitWritesSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aaswap.yaml")

	rootCmd.SetArgs([]string{"config-init", path})
	require.NoError(t, rootCmd.Execute())

	raw, err := appconfig.ReadConfigRaw(path)
	require.NoError(t, err)
	assert.Equal(t, "nero-testnet", raw.Chain)

	rootCmd.SetArgs([]string{"config-init", path})
	assert.Error(t, rootCmd.Execute(), "refuses to overwrite without --force")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))
	rootCmd.SetArgs([]string{"config-init", "--force", path})
	require.NoError(t, rootCmd.Execute())
	forceConfigInit = false

	_, err = appconfig.ReadConfigRaw(path)
	assert.NoError(t, err)
}
