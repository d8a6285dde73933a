package ytdl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	ytdlpNightlyAPI = "https://api.github.com/repos/yt-dlp/yt-dlp-nightly-builds/releases/latest"

	// UpdateInterval is how often the resolver tool is re-checked while serving.
	UpdateInterval = time.Hour
)

// HTTPClient is the subset of *http.Client the manager needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager handles resolver tool installation and updates
type Manager struct {
	mu             sync.Mutex
	toolPath       string
	client         HTTPClient
	logger         *slog.Logger
	currentVersion string
	lastCheckTime  time.Time
}

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// NewManager creates a manager for the tool at toolPath
func NewManager(toolPath string, logger *slog.Logger) *Manager {
	return NewManagerWithClient(toolPath, &http.Client{Timeout: 5 * time.Minute}, logger)
}

// NewManagerWithClient creates a manager with a custom HTTP client
func NewManagerWithClient(toolPath string, client HTTPClient, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		toolPath: toolPath,
		client:   client,
		logger:   logger.With("component", "ytdl"),
	}

	if data, err := os.ReadFile(m.versionPath()); err == nil {
		m.currentVersion = strings.TrimSpace(string(data))
	}

	return m
}

// ToolPath returns the path to the resolver executable
func (m *Manager) ToolPath() string {
	return m.toolPath
}

// IsInstalled checks if the resolver binary exists
func (m *Manager) IsInstalled() bool {
	_, err := os.Stat(m.toolPath)
	return err == nil
}

// GetCurrentVersion returns the installed release tag, if known
func (m *Manager) GetCurrentVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentVersion
}

// CheckForUpdate fetches the latest release and reports whether it differs
// from the installed one
func (m *Manager) CheckForUpdate(ctx context.Context) (string, bool, error) {
	release, err := m.fetchRelease(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to check for updates: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheckTime = time.Now()

	if !m.IsInstalled() {
		return release.TagName, true, nil
	}

	if m.currentVersion == "" || m.currentVersion != release.TagName {
		return release.TagName, true, nil
	}

	return release.TagName, false, nil
}

// Download installs the latest release for this platform
func (m *Manager) Download(ctx context.Context) error {
	release, err := m.fetchRelease(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch release info: %w", err)
	}

	platform := detectPlatform()
	var downloadURL string
	for _, asset := range release.Assets {
		if asset.Name == platform {
			downloadURL = asset.BrowserDownloadURL
			break
		}
	}

	if downloadURL == "" {
		return fmt.Errorf("no asset found for platform: %s", platform)
	}

	m.logger.Info("downloading resolver", "version", release.TagName, "path", m.toolPath)

	resp, err := m.get(ctx, downloadURL)
	if err != nil {
		return fmt.Errorf("failed to download yt-dlp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(m.toolPath), 0755); err != nil {
		return fmt.Errorf("failed to create tool directory: %w", err)
	}

	tmpPath := m.toolPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to make executable: %w", err)
	}

	if m.IsInstalled() {
		if err := os.Remove(m.toolPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to remove old file: %w", err)
		}
	}

	if err := os.Rename(tmpPath, m.toolPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	m.mu.Lock()
	m.currentVersion = release.TagName
	m.mu.Unlock()

	if err := os.WriteFile(m.versionPath(), []byte(release.TagName), 0644); err != nil {
		m.logger.Warn("failed to record resolver version", "error", err)
	}

	m.logger.Info("resolver installed", "version", release.TagName)
	return nil
}

// EnsureInstalled downloads the resolver if it is missing
func (m *Manager) EnsureInstalled(ctx context.Context) error {
	if m.IsInstalled() {
		return nil
	}

	m.logger.Info("resolver not found, downloading", "path", m.toolPath)
	return m.Download(ctx)
}

// AutoUpdate checks for and applies updates if available
func (m *Manager) AutoUpdate(ctx context.Context) error {
	latestVersion, hasUpdate, err := m.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if !hasUpdate {
		m.logger.Debug("resolver is up to date", "version", latestVersion)
		return nil
	}

	m.logger.Info("updating resolver", "from", m.GetCurrentVersion(), "to", latestVersion)
	return m.Download(ctx)
}

// RunPeriodic re-runs AutoUpdate every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (m *Manager) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.AutoUpdate(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("resolver update failed", "error", err)
			}
		}
	}
}

func (m *Manager) fetchRelease(ctx context.Context) (*GitHubRelease, error) {
	resp, err := m.get(ctx, ytdlpNightlyAPI)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}

	return &release, nil
}

func (m *Manager) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "videocacher")
	return m.client.Do(req)
}

func (m *Manager) versionPath() string {
	return m.toolPath + ".version"
}

// detectPlatform returns the release asset name for the current platform
func detectPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return "yt-dlp.exe"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "yt-dlp_linux_aarch64"
		}
		return "yt-dlp_linux"
	case "darwin":
		return "yt-dlp_macos"
	default:
		return "yt-dlp"
	}
}
