package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"labpilot/config"
)

// ConfigProvider exposes read access to the effective configuration
type ConfigProvider interface {
	GetConfig() (config.Config, error)
}

// ConfigPersister exposes configuration persistence
type ConfigPersister interface {
	SaveConfig(cfg config.Config) error
}

// ConfigNotifier exposes configuration change notification
type ConfigNotifier interface {
	OnConfigChanged(callback func(config.Config))
}

// ConfigService owns configuration load, save and change notification.
// Implements ConfigProvider, ConfigPersister and ConfigNotifier.
type ConfigService struct {
	storageDir string
	logger     func(string)
	callbacks  []func(config.Config)
	mu         sync.RWMutex
}

// NewConfigService creates a new ConfigService instance
func NewConfigService(logger func(string)) *ConfigService {
	return &ConfigService{
		logger:    logger,
		callbacks: make([]func(config.Config), 0),
	}
}

// Name returns the service name
func (cs *ConfigService) Name() string {
	return "config"
}

// Initialize ensures the storage directory exists
func (cs *ConfigService) Initialize(ctx context.Context) error {
	dir, err := cs.GetStorageDir()
	if err != nil {
		return WrapError("config", "Initialize", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return WrapError("config", "Initialize", fmt.Errorf("failed to create storage dir: %w", err))
	}
	cs.log(fmt.Sprintf("ConfigService initialized, storage dir: %s", dir))
	return nil
}

// Shutdown closes the config service (no-op)
func (cs *ConfigService) Shutdown() error {
	return nil
}

// GetStorageDir returns the storage directory path (~/Labpilot by default)
func (cs *ConfigService) GetStorageDir() (string, error) {
	cs.mu.RLock()
	sd := cs.storageDir
	cs.mu.RUnlock()

	if sd != "" {
		return sd, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError("config", "GetStorageDir", err)
	}
	return filepath.Join(home, "Labpilot"), nil
}

// SetStorageDir overrides the storage directory (mainly for tests)
func (cs *ConfigService) SetStorageDir(dir string) {
	cs.mu.Lock()
	cs.storageDir = dir
	cs.mu.Unlock()
}

// GetConfigPath returns the config file path
func (cs *ConfigService) GetConfigPath() (string, error) {
	dir, err := cs.GetStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// GetConfig loads the configuration from disk, applying defaults
func (cs *ConfigService) GetConfig() (config.Config, error) {
	path, err := cs.GetConfigPath()
	if err != nil {
		return config.Config{}, err
	}

	dir, _ := cs.GetStorageDir()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return applyDefaults(config.Config{}, dir), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, WrapError("config", "GetConfig", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, WrapError("config", "GetConfig", err)
	}

	return applyDefaults(cfg, dir), nil
}

func applyDefaults(cfg config.Config, storageDir string) config.Config {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "OpenAI"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	if cfg.DataCacheDir == "" {
		cfg.DataCacheDir = storageDir
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	if cfg.CodeTimeoutSec <= 0 {
		cfg.CodeTimeoutSec = 10
	}
	if cfg.CodeMemoryMB <= 0 {
		cfg.CodeMemoryMB = 512
	}
	if cfg.MaxPreviewRows <= 0 {
		cfg.MaxPreviewRows = 100
	}
	return cfg
}

// SaveConfig writes the configuration to disk and triggers callbacks
func (cs *ConfigService) SaveConfig(cfg config.Config) error {
	if cfg.DataCacheDir != "" {
		info, err := os.Stat(cfg.DataCacheDir)
		if err != nil {
			if os.IsNotExist(err) {
				return WrapError("config", "SaveConfig", fmt.Errorf("data cache directory does not exist: %s", cfg.DataCacheDir))
			}
			return WrapError("config", "SaveConfig", err)
		}
		if !info.IsDir() {
			return WrapError("config", "SaveConfig", fmt.Errorf("data cache path is not a directory: %s", cfg.DataCacheDir))
		}
	}

	dir, err := cs.GetStorageDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return WrapError("config", "SaveConfig", fmt.Errorf("failed to create storage dir: %w", err))
	}

	path := filepath.Join(dir, "config.json")
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return WrapError("config", "SaveConfig", fmt.Errorf("failed to marshal config: %w", err))
	}

	// 0600: the file carries API keys
	if err := os.WriteFile(path, data, 0600); err != nil {
		return WrapError("config", "SaveConfig", fmt.Errorf("failed to write config file: %w", err))
	}

	cs.log("Configuration saved to disk")

	cs.NotifyConfigChanged(cfg)

	return nil
}

// OnConfigChanged registers a configuration change callback
func (cs *ConfigService) OnConfigChanged(callback func(config.Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.callbacks = append(cs.callbacks, callback)
}

// NotifyConfigChanged invokes all registered callbacks
func (cs *ConfigService) NotifyConfigChanged(cfg config.Config) {
	cs.mu.RLock()
	cbs := make([]func(config.Config), len(cs.callbacks))
	copy(cbs, cs.callbacks)
	cs.mu.RUnlock()

	for _, cb := range cbs {
		cb(cfg)
	}
}

func (cs *ConfigService) log(msg string) {
	if cs.logger != nil {
		cs.logger(msg)
	}
}
