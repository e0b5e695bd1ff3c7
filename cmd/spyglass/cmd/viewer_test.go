package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViewerCommandRegistered(t *testing.T) {
	commands := rootCmd.Commands()
	var found bool
	for _, cmd := range commands {
		if cmd.Use == "viewer" {
			found = true
			break
		}
	}
	assert.True(t, found, "viewer command should be registered with root command")
}

func TestViewerCommandFlags(t *testing.T) {
	flag := viewerCmd.Flags().Lookup("host")
	assert.NotNil(t, flag)
	assert.Equal(t, "127.0.0.1", flag.DefValue)

	flag = viewerCmd.Flags().Lookup("plugin-dir")
	assert.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestViewerCommandProperties(t *testing.T) {
	assert.NotNil(t, viewerCmd)
	assert.Equal(t, "viewer", viewerCmd.Use)
	assert.NotNil(t, viewerCmd.RunE)
	assert.Contains(t, viewerCmd.Long, "data directory")
}
