package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPropertyLoader_Defaults(t *testing.T) {
	props, err := NewPropertyLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if props.DataDir != "spyglass-data" {
		t.Errorf("DataDir = %q, want spyglass-data", props.DataDir)
	}
	if props.UIHost != "127.0.0.1" {
		t.Errorf("UIHost = %q, want 127.0.0.1", props.UIHost)
	}
	if props.UIPort != 4000 {
		t.Errorf("UIPort = %d, want 4000", props.UIPort)
	}
	if props.LogLevel != "info" || props.LogFormat != "auto" {
		t.Errorf("log settings = %q/%q", props.LogLevel, props.LogFormat)
	}
}

func TestPropertyLoader_EnvOverrides(t *testing.T) {
	t.Setenv("SPYGLASS_UI_PORT", "7100")
	t.Setenv("SPYGLASS_DATA_DIR", "/var/lib/spyglass")

	props, err := NewPropertyLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if props.UIPort != 7100 {
		t.Errorf("UIPort = %d, want 7100", props.UIPort)
	}
	if props.DataDir != "/var/lib/spyglass" {
		t.Errorf("DataDir = %q, want /var/lib/spyglass", props.DataDir)
	}
}

func TestPropertyLoader_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spyglass.yaml")
	content := "ui_port: 5005\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing properties file: %v", err)
	}

	props, err := NewPropertyLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if props.UIPort != 5005 {
		t.Errorf("UIPort = %d, want 5005", props.UIPort)
	}
	if props.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", props.LogLevel)
	}
	// Defaults still fill the keys the file leaves out.
	if props.UIHost != "127.0.0.1" {
		t.Errorf("UIHost = %q, want default", props.UIHost)
	}
}

func TestPropertyLoader_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spyglass.yaml")
	if err := os.WriteFile(path, []byte("ui_port: 5005\n"), 0o644); err != nil {
		t.Fatalf("writing properties file: %v", err)
	}
	t.Setenv("SPYGLASS_UI_PORT", "6006")

	props, err := NewPropertyLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if props.UIPort != 6006 {
		t.Errorf("UIPort = %d, want env value 6006", props.UIPort)
	}
}

func TestProperties_Validate(t *testing.T) {
	tests := []struct {
		name    string
		props   Properties
		wantErr bool
	}{
		{"ok", Properties{DataDir: "d", UIPort: 4000}, false},
		{"port zero picks any free port", Properties{DataDir: "d", UIPort: 0}, false},
		{"empty data dir", Properties{DataDir: "", UIPort: 4000}, true},
		{"port out of range", Properties{DataDir: "d", UIPort: 70000}, true},
		{"negative port", Properties{DataDir: "d", UIPort: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.props.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
