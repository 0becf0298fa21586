package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/praxishq/praxis/core/internal/config"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
plugins:
  - name: clock
    kind: clock
    capabilities: [time]
    priority: 50
  - name: search
    kind: websearch
    capabilities: [websearch]
    disabled: true
    options:
      endpoint: https://example.test/
`)
	m, err := config.LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if len(m.Plugins) != 2 {
		t.Fatalf("plugins = %d, want 2", len(m.Plugins))
	}
	clock := m.Plugins[0]
	if clock.Name != "clock" || clock.Priority != 50 || len(clock.Capabilities) != 1 {
		t.Errorf("first entry = %+v", clock)
	}
	search := m.Plugins[1]
	if !search.Disabled {
		t.Error("disabled flag lost")
	}
	if search.Options["endpoint"] != "https://example.test/" {
		t.Errorf("options = %v", search.Options)
	}
}

func TestLoadManifest_DuplicateName(t *testing.T) {
	path := writeManifest(t, `
plugins:
  - name: clock
    kind: clock
  - name: clock
    kind: clock
`)
	_, err := config.LoadManifest(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("LoadManifest() error = %v, want duplicate rejection", err)
	}
}

func TestLoadManifest_EmptyName(t *testing.T) {
	path := writeManifest(t, `
plugins:
  - kind: clock
`)
	if _, err := config.LoadManifest(path); err == nil {
		t.Fatal("LoadManifest() with empty name: expected error")
	}
}

func TestLoadManifest_MissingFile(t *testing.T) {
	if _, err := config.LoadManifest(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadManifest() on a missing file: expected error")
	}
}
