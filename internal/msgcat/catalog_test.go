package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("events.rank_changed", map[string]any{
		"player_id": "b",
		"promoted":  false,
		"old_tier":  "novice",
		"new_tier":  "unranked",
		"mp":        40,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "b demoted: novice -> unranked (40 MP)." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("events.series_completed", map[string]any{"winner_id": "a"}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := c.Render("events.nope", nil); err == nil {
		t.Fatalf("expected template not found")
	}
	if c.Has("events.nope") || !c.Has("events.game_recorded") {
		t.Fatalf("Has mismatch")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("events:\n  series_completed: \"GG {{.winner_id}}\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("events.series_completed", map[string]any{"winner_id": "a"})
	if err != nil || got != "GG a" {
		t.Fatalf("override not applied: %q %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("events:\n  series_completed: \"dup\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
