package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/opencode-sync/internal"
)

func TestPathsCommand(t *testing.T) {
	dir := isolate(t)
	cfgFile := filepath.Join(dir, "opencode-sync", "config.yaml")

	out, err := execute(t, "paths")
	if err != nil {
		t.Fatalf("paths failed: %v", err)
	}
	if !strings.Contains(out, cfgFile) || !strings.Contains(out, "paths --init") {
		t.Errorf("Expected config path and init hint, got:\n%s", out)
	}

	if _, err := execute(t, "--server", "http://localhost:4096", "paths", "--init"); err != nil {
		t.Fatalf("paths --init failed: %v", err)
	}
	if _, err := os.Stat(cfgFile); err != nil {
		t.Fatalf("Config not written: %v", err)
	}
	cfg, err := internal.LoadConfig(cfgFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server != "http://localhost:4096" {
		t.Errorf("Expected saved server, got %q", cfg.Server)
	}

	if _, err := execute(t, "paths", "--init"); err == nil {
		t.Error("Expected error when config already exists")
	}
}
