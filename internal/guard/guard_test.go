package guard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spyglass-apm/spyglass/internal/core"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	var info ownerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("parsing marker: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("marker pid = %d, want %d", info.PID, os.Getpid())
	}
	if info.AcquiredAt.IsZero() {
		t.Error("marker has zero acquired_at")
	}

	if err := g.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("marker still present after release: %v", err)
	}
}

func TestAcquire_SecondClaimConflicts(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer g.Release()

	_, err = Acquire(dir, nil)
	if !core.IsLockConflict(err) {
		t.Fatalf("second Acquire() error = %v, want lock conflict", err)
	}
	details := core.GetDetails(err)
	if details["ownerPid"] != os.Getpid() {
		t.Errorf("ownerPid detail = %v, want %d", details["ownerPid"], os.Getpid())
	}
}

func TestAcquire_TakesOverDeadOwner(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, LockFileName)

	stale := ownerInfo{PID: 999999999, Hostname: "gone", AcquiredAt: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshaling stale marker: %v", err)
	}
	if err := os.WriteFile(marker, data, 0o644); err != nil {
		t.Fatalf("writing stale marker: %v", err)
	}

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() over dead owner error = %v", err)
	}
	defer g.Release()

	fresh, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	var info ownerInfo
	if err := json.Unmarshal(fresh, &info); err != nil {
		t.Fatalf("parsing marker: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("marker pid = %d, want takeover by %d", info.PID, os.Getpid())
	}
}

func TestAcquire_ReplacesUnreadableMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(marker, []byte("not json"), 0o644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() over unreadable marker error = %v", err)
	}
	defer g.Release()
}

func TestRelease_DeniedWhenNotOwner(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Simulate another process rewriting the marker.
	other := ownerInfo{PID: os.Getpid() + 1, Hostname: "other", AcquiredAt: time.Now()}
	data, err := json.Marshal(other)
	if err != nil {
		t.Fatalf("marshaling marker: %v", err)
	}
	if err := os.WriteFile(g.Path(), data, 0o644); err != nil {
		t.Fatalf("overwriting marker: %v", err)
	}

	err = g.Release()
	if err == nil {
		t.Fatal("Release() expected error for foreign marker")
	}
	if !core.IsCategory(err, core.ErrCatState) {
		t.Errorf("error category = %v, want state", core.GetCategory(err))
	}
	if _, statErr := os.Stat(g.Path()); statErr != nil {
		t.Errorf("foreign marker removed: %v", statErr)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := g.Release(); err != nil {
		t.Errorf("second Release() error = %v, want nil", err)
	}
}
