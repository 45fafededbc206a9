package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"labpilot/config"
)

func newTestConfigService(t *testing.T) *ConfigService {
	t.Helper()
	cs := NewConfigService(nil)
	cs.SetStorageDir(t.TempDir())
	if err := cs.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return cs
}

func TestConfigDefaults(t *testing.T) {
	cs := newTestConfigService(t)

	cfg, err := cs.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if cfg.LLMProvider != "OpenAI" || cfg.ModelName != "gpt-4o" {
		t.Errorf("model defaults = %s/%s", cfg.LLMProvider, cfg.ModelName)
	}
	if cfg.MaxSteps != 8 {
		t.Errorf("MaxSteps = %d, want 8", cfg.MaxSteps)
	}
	if cfg.CodeTimeoutSec != 10 || cfg.CodeMemoryMB != 512 {
		t.Errorf("sandbox defaults = %ds/%dMB", cfg.CodeTimeoutSec, cfg.CodeMemoryMB)
	}
	if cfg.DataCacheDir == "" {
		t.Error("DataCacheDir not defaulted")
	}
}

func TestConfigSaveAndReload(t *testing.T) {
	cs := newTestConfigService(t)

	cfg, _ := cs.GetConfig()
	cfg.APIKey = "sk-test"
	cfg.MaxSteps = 5
	cfg.DataCacheDir = "" // let defaults fill it on reload

	if err := cs.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	reloaded, err := cs.GetConfig()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", reloaded.APIKey)
	}
	if reloaded.MaxSteps != 5 {
		t.Errorf("MaxSteps = %d, want 5", reloaded.MaxSteps)
	}
}

func TestConfigFilePermissions(t *testing.T) {
	cs := newTestConfigService(t)

	cfg, _ := cs.GetConfig()
	cfg.DataCacheDir = ""
	if err := cs.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	path, _ := cs.GetConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestConfigSaveRejectsMissingDataDir(t *testing.T) {
	cs := newTestConfigService(t)

	cfg, _ := cs.GetConfig()
	cfg.DataCacheDir = filepath.Join(t.TempDir(), "does-not-exist")
	if err := cs.SaveConfig(cfg); err == nil {
		t.Error("SaveConfig accepted a missing data directory")
	}
}

func TestConfigChangeCallbacks(t *testing.T) {
	cs := newTestConfigService(t)

	var got []string
	cs.OnConfigChanged(func(c config.Config) {
		got = append(got, c.ModelName)
	})

	cfg, _ := cs.GetConfig()
	cfg.ModelName = "gpt-4o-mini"
	cfg.DataCacheDir = ""
	if err := cs.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	if len(got) != 1 || got[0] != "gpt-4o-mini" {
		t.Errorf("callbacks saw %v", got)
	}
}

func TestConfigToleratesLegacyFields(t *testing.T) {
	cs := newTestConfigService(t)

	dir, _ := cs.GetStorageDir()
	legacy := `{"llmProvider":"OpenAI","apiKey":"k","unknownField":true}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(legacy), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := cs.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed on legacy file: %v", err)
	}
	if cfg.APIKey != "k" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}

	var raw map[string]interface{}
	data, _ := os.ReadFile(filepath.Join(dir, "config.json"))
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("config file not valid JSON: %v", err)
	}
}
