package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"videocacher/pkg/models"
)

var (
	ErrInvalidPort       = errors.New("invalid port: must be between 1 and 65535")
	ErrInvalidResolution = errors.New("invalid resolution: must be between 144 and 4320")
	ErrInvalidCacheSize  = errors.New("invalid cache size: must be non-negative")
	ErrInvalidDelay      = errors.New("invalid delay: must be non-negative")
	ErrInvalidRateLimit  = errors.New("invalid rate limit: must be non-negative")
	ErrInvalidServerURL  = errors.New("invalid web server URL: must start with http:// or https://")
)

// Manager handles configuration loading, saving, and updates
type Manager struct {
	mu         sync.RWMutex
	config     *models.Config
	configPath string
}

// NewManager creates a new configuration manager
// If the config file doesn't exist, it creates one with default values
func NewManager(configPath string) (*Manager, error) {
	manager := &Manager{
		configPath: configPath,
		config:     models.DefaultConfig(),
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := manager.load(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := Validate(manager.config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Rewrite so newly added fields show up in the document
	if err := manager.Save(); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	return manager, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *models.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.BlockedURLs = append([]string(nil), m.config.BlockedURLs...)
	cfg.PreCacheURLs = append([]string(nil), m.config.PreCacheURLs...)
	return &cfg
}

// Path returns the location of the config document
func (m *Manager) Path() string {
	return m.configPath
}

// Update applies a function to the configuration and saves it
func (m *Manager) Update(fn func(*models.Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.config
	fn(&next)
	normalize(&next)

	if err := Validate(&next); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	m.config = &next
	return m.save()
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.save()
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Decode over the defaults so absent keys keep their default values
	cfg := models.DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}

	m.config = mergeWithDefaults(cfg)
	normalize(m.config)

	return nil
}

// save writes configuration to disk (must be called with lock held)
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// mergeWithDefaults replaces explicit zero values that are never valid
func mergeWithDefaults(cfg *models.Config) *models.Config {
	defaults := models.DefaultConfig()

	if cfg.WebServerURL == "" {
		cfg.WebServerURL = defaults.WebServerURL
	}
	if cfg.WebServerPort == 0 {
		cfg.WebServerPort = defaults.WebServerPort
	}
	if cfg.CacheYouTubeMaxRes == 0 {
		cfg.CacheYouTubeMaxRes = defaults.CacheYouTubeMaxRes
	}
	if cfg.CacheYouTubeMaxLength == 0 {
		cfg.CacheYouTubeMaxLength = defaults.CacheYouTubeMaxLength
	}
	if cfg.BlockedURLs == nil {
		cfg.BlockedURLs = defaults.BlockedURLs
	}
	if cfg.PreCacheURLs == nil {
		cfg.PreCacheURLs = defaults.PreCacheURLs
	}

	return cfg
}

func normalize(cfg *models.Config) {
	cfg.WebServerURL = strings.TrimRight(strings.TrimSpace(cfg.WebServerURL), "/")
}

// Validate checks if the configuration is valid
func Validate(cfg *models.Config) error {
	if cfg.WebServerPort < 1 || cfg.WebServerPort > 65535 {
		return ErrInvalidPort
	}

	if !strings.HasPrefix(cfg.WebServerURL, "http://") && !strings.HasPrefix(cfg.WebServerURL, "https://") {
		return ErrInvalidServerURL
	}

	if cfg.CacheYouTubeMaxRes < 144 || cfg.CacheYouTubeMaxRes > 4320 {
		return ErrInvalidResolution
	}

	if cfg.CacheMaxSizeGB < 0 {
		return ErrInvalidCacheSize
	}

	if cfg.YtdlDelay < 0 {
		return ErrInvalidDelay
	}

	if cfg.YtdlRateLimit < 0 {
		return ErrInvalidRateLimit
	}

	return nil
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
		dataDir := filepath.Join(appData, "VRCVideoCacher")
		os.MkdirAll(dataDir, 0755)
		return dataDir
	}

	if home, err := os.UserHomeDir(); err == nil {
		dataDir := filepath.Join(home, ".vrcvideocacher")
		os.MkdirAll(dataDir, 0755)
		return dataDir
	}

	return "."
}

// ConfigPath returns the configuration file path inside dataDir
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// CookiesPath returns where the browser extension's cookie jar is stored
func CookiesPath(dataDir string) string {
	return filepath.Join(dataDir, "youtube_cookies.txt")
}

// CacheDir returns the configured cache root, defaulting to <dataDir>/CachedAssets
func CacheDir(cfg *models.Config, dataDir string) string {
	if cfg.CachePath == "" {
		return filepath.Join(dataDir, "CachedAssets")
	}
	if filepath.IsAbs(cfg.CachePath) {
		return cfg.CachePath
	}
	return filepath.Join(dataDir, cfg.CachePath)
}
