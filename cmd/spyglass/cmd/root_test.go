package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersionFunction(t *testing.T) {
	SetVersion("test-version-func", "test-commit", "test-date")

	version := GetVersion()
	assert.Equal(t, "test-version-func", version)
}

func TestInitConfig(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer os.Chdir(oldDir)

	t.Run("no config file", func(t *testing.T) {
		viper.Reset()
		cfgFile = ""

		err := os.Chdir(tmpDir)
		require.NoError(t, err)

		err = initConfig()
		// Should succeed even without config file
		assert.NoError(t, err)

		// Defaults are seeded
		assert.Equal(t, "spyglass-data", viper.GetString("data_dir"))
		assert.Equal(t, 4000, viper.GetInt("ui_port"))
		assert.Equal(t, "info", viper.GetString("log.level"))
	})

	t.Run("with config file", func(t *testing.T) {
		viper.Reset()

		spyglassDir := filepath.Join(tmpDir, ".spyglass")
		err := os.MkdirAll(spyglassDir, 0755)
		require.NoError(t, err)

		configPath := filepath.Join(spyglassDir, "config.yaml")
		err = os.WriteFile(configPath, []byte("log:\n  level: debug\ndata_dir: /var/lib/spyglass\n"), 0600)
		require.NoError(t, err)

		cfgFile = configPath
		err = initConfig()
		assert.NoError(t, err)

		assert.Equal(t, "debug", viper.GetString("log.level"))
		assert.Equal(t, "/var/lib/spyglass", viper.GetString("data_dir"))
	})

	t.Run("invalid config file", func(t *testing.T) {
		viper.Reset()

		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: yaml: [[["), 0600)
		require.NoError(t, err)

		cfgFile = invalidPath
		err = initConfig()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reading config")

		cfgFile = ""
	})

	t.Run("environment override", func(t *testing.T) {
		viper.Reset()
		cfgFile = ""
		t.Setenv("SPYGLASS_UI_PORT", "4123")

		err := initConfig()
		assert.NoError(t, err)
		assert.Equal(t, 4123, viper.GetInt("ui_port"))
	})
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "spyglass", rootCmd.Use)
	assert.True(t, rootCmd.SilenceUsage)
	assert.True(t, rootCmd.SilenceErrors)
}

func TestRootCommandFlags(t *testing.T) {
	// Test that persistent flags are registered
	flag := rootCmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, flag)
	assert.Equal(t, "config", flag.Name)

	flag = rootCmd.PersistentFlags().Lookup("data-dir")
	assert.NotNil(t, flag)
	assert.Equal(t, "spyglass-data", flag.DefValue)

	flag = rootCmd.PersistentFlags().Lookup("ui-port")
	assert.NotNil(t, flag)
	assert.Equal(t, "4000", flag.DefValue)

	flag = rootCmd.PersistentFlags().Lookup("log-level")
	assert.NotNil(t, flag)
	assert.Equal(t, "info", flag.DefValue)

	flag = rootCmd.PersistentFlags().Lookup("log-format")
	assert.NotNil(t, flag)
	assert.Equal(t, "auto", flag.DefValue)
}

func TestRootCommandPersistentPreRunE(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer os.Chdir(oldDir)

	err := os.Chdir(tmpDir)
	require.NoError(t, err)

	viper.Reset()
	cfgFile = ""

	err = rootCmd.PersistentPreRunE(rootCmd, []string{})
	assert.NoError(t, err)
}
