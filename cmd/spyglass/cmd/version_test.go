package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")

	t.Run("version command output", func(t *testing.T) {
		// Capture stdout
		oldStdout := os.Stdout
		r, w, _ := os.Pipe()
		os.Stdout = w

		versionCmd.Run(versionCmd, []string{})

		w.Close()
		os.Stdout = oldStdout

		var buf bytes.Buffer
		_, err := buf.ReadFrom(r)
		require.NoError(t, err)

		output := buf.String()

		assert.Contains(t, output, "v1.2.3")
		assert.Contains(t, output, "abc123def")
		assert.Contains(t, output, "2024-01-15")
		assert.Contains(t, output, "spyglass")
		assert.Contains(t, output, "commit:")
		assert.Contains(t, output, "built:")
	})

	t.Run("version command properties", func(t *testing.T) {
		assert.NotNil(t, versionCmd)
		assert.Equal(t, "version", versionCmd.Use)
		assert.Equal(t, "Print version information", versionCmd.Short)
		assert.NotNil(t, versionCmd.Run)
	})
}

func TestVersionCommandRegistered(t *testing.T) {
	commands := rootCmd.Commands()
	var found bool
	for _, cmd := range commands {
		if cmd.Use == "version" {
			found = true
			break
		}
	}
	assert.True(t, found, "version command should be registered with root command")
}
