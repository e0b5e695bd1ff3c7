package config

import (
	"testing"
)

func TestVersionHash_Stable(t *testing.T) {
	cfg := DefaultGeneralConfig()

	h1, err := VersionHash(cfg)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	h2, err := VersionHash(cfg)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("same value hashed differently: %q vs %q", h1, h2)
	}
}

func TestVersionHash_Format(t *testing.T) {
	h, err := VersionHash(DefaultUserConfig())
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	if len(h) != 32 {
		t.Errorf("hash length = %d, want 32", len(h))
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("hash contains non-hex character %q: %s", c, h)
			break
		}
	}
}

func TestVersionHash_ChangesWithValue(t *testing.T) {
	base := DefaultGeneralConfig()
	h0, err := VersionHash(base)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}

	changed := base
	changed.RollingSizeMb = base.RollingSizeMb + 100
	h1, err := VersionHash(changed)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	if h0 == h1 {
		t.Error("changed value produced the same hash")
	}

	// Reverting the change restores the original hash.
	changed.RollingSizeMb = base.RollingSizeMb
	h2, err := VersionHash(changed)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	if h2 != h0 {
		t.Errorf("reverted value hash = %q, want %q", h2, h0)
	}
}

func TestVersionHash_MapOrderIndependent(t *testing.T) {
	a := PluginConfig{Enabled: true, Properties: map[string]any{}}
	a.Properties["alpha"] = "x"
	a.Properties["beta"] = 2.5
	a.Properties["gamma"] = false

	b := PluginConfig{Enabled: true, Properties: map[string]any{}}
	b.Properties["gamma"] = false
	b.Properties["beta"] = 2.5
	b.Properties["alpha"] = "x"

	ha, err := VersionHash(a)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	hb, err := VersionHash(b)
	if err != nil {
		t.Fatalf("VersionHash() error = %v", err)
	}
	if ha != hb {
		t.Errorf("insertion order changed the hash: %q vs %q", ha, hb)
	}
}

func TestVersionHash_DistinguishesAggregates(t *testing.T) {
	hashes := map[string]string{}
	values := map[string]any{
		"general":         DefaultGeneralConfig(),
		"coarseProfiling": DefaultCoarseProfilingConfig(),
		"fineProfiling":   DefaultFineProfilingConfig(),
		"user":            DefaultUserConfig(),
	}
	for name, value := range values {
		h, err := VersionHash(value)
		if err != nil {
			t.Fatalf("VersionHash(%s) error = %v", name, err)
		}
		for other, existing := range hashes {
			if existing == h {
				t.Errorf("%s and %s share hash %q", name, other, h)
			}
		}
		hashes[name] = h
	}
}
