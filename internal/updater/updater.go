// Package updater replaces the running executable with the latest GitHub
// release build, verifying the published digest and rolling back on any
// failure.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	checkTimeout = 30 * time.Second
	digestPrefix = "sha256:"
)

var (
	ErrNoAsset          = errors.New("no release asset for this platform")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// HTTPClient interface for mocking
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Updater handles application updates
type Updater struct {
	repo           string
	currentVersion string
	httpClient     HTTPClient
	logger         *slog.Logger
}

// Asset is a single downloadable file attached to a release
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	Digest             string `json:"digest"`
}

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
	Body    string  `json:"body"`
}

// NewUpdater creates a new updater
func NewUpdater(repo, currentVersion string, logger *slog.Logger) *Updater {
	return NewUpdaterWithClient(repo, currentVersion, &http.Client{Timeout: checkTimeout}, logger)
}

// NewUpdaterWithClient creates an updater with custom HTTP client
func NewUpdaterWithClient(repo, currentVersion string, client HTTPClient, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		repo:           repo,
		currentVersion: currentVersion,
		httpClient:     client,
		logger:         logger.With("component", "updater"),
	}
}

// GetCurrentVersion returns the current version
func (u *Updater) GetCurrentVersion() string {
	return u.currentVersion
}

// CheckForUpdate reports the latest release tag and whether it is newer
// than the running build.
func (u *Updater) CheckForUpdate(ctx context.Context) (string, bool, error) {
	release, err := u.latestRelease(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to check for updates: %w", err)
	}
	return release.TagName, compareVersions(u.currentVersion, release.TagName), nil
}

// Download fetches the latest release asset for this platform and swaps it
// in place of exePath. The previous executable is restored if anything
// fails, including a digest mismatch.
func (u *Updater) Download(ctx context.Context, exePath string) error {
	release, err := u.latestRelease(ctx)
	if err != nil {
		return err
	}

	assetName := detectAssetName()
	var asset *Asset
	for i := range release.Assets {
		if release.Assets[i].Name == assetName {
			asset = &release.Assets[i]
			break
		}
	}
	if asset == nil {
		return fmt.Errorf("%w: %s", ErrNoAsset, assetName)
	}

	backupPath, err := u.backupExecutable(exePath)
	if err != nil {
		return fmt.Errorf("failed to backup executable: %w", err)
	}

	u.logger.Info("downloading update", "version", release.TagName, "asset", asset.Name)
	if err := u.install(ctx, exePath, asset); err != nil {
		if rerr := u.restoreBackup(exePath, backupPath); rerr != nil {
			u.logger.Error("rollback failed", "error", rerr)
		}
		return err
	}

	os.Remove(backupPath)

	u.logger.Info("update completed", "version", release.TagName)
	return nil
}

func (u *Updater) install(ctx context.Context, exePath string, asset *Asset) error {
	resp, err := u.get(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return fmt.Errorf("failed to download update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tmpPath := exePath + ".new"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write update: %w", err)
	}

	if expected, ok := strings.CutPrefix(asset.Digest, digestPrefix); ok {
		if err := u.VerifyChecksum(tmpPath, expected); err != nil {
			os.Remove(tmpPath)
			return err
		}
	} else {
		u.logger.Warn("release asset has no digest, skipping verification", "asset", asset.Name)
	}

	if err := os.Chmod(tmpPath, 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to make executable: %w", err)
	}

	if err := os.Remove(exePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to remove old executable: %w", err)
	}

	if err := os.Rename(tmpPath, exePath); err != nil {
		return fmt.Errorf("failed to rename new executable: %w", err)
	}

	return nil
}

func (u *Updater) latestRelease(ctx context.Context) (*GitHubRelease, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", u.repo)

	resp, err := u.get(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release info: %w", err)
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

func (u *Updater) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "VRCVideoCacher")
	return u.httpClient.Do(req)
}

// backupExecutable creates a backup of the current executable
func (u *Updater) backupExecutable(exePath string) (string, error) {
	backupPath := exePath + ".bak"

	data, err := os.ReadFile(exePath)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(backupPath, data, 0755); err != nil {
		return "", err
	}

	return backupPath, nil
}

// restoreBackup restores from backup
func (u *Updater) restoreBackup(exePath, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}

	if err := os.WriteFile(exePath, data, 0755); err != nil {
		return err
	}

	os.Remove(backupPath)
	return nil
}

// VerifyChecksum compares the file's SHA-256 against a hex digest
func (u *Updater) VerifyChecksum(filePath, expectedChecksum string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(data)
	actualChecksum := hex.EncodeToString(hash[:])

	if !strings.EqualFold(actualChecksum, expectedChecksum) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedChecksum, actualChecksum)
	}

	return nil
}

// compareVersions returns true if latest > current
func compareVersions(current, latest string) bool {
	currentParts := parseVersion(current)
	latestParts := parseVersion(latest)

	for i := 0; i < 3; i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}

	return false
}

// parseVersion parses a version string into [major, minor, patch]
func parseVersion(version string) [3]int {
	version = strings.TrimPrefix(version, "v")
	if i := strings.IndexAny(version, "-+"); i >= 0 {
		version = version[:i]
	}

	parts := strings.Split(version, ".")
	result := [3]int{0, 0, 0}

	for i := 0; i < len(parts) && i < 3; i++ {
		if num, err := strconv.Atoi(parts[i]); err == nil {
			result[i] = num
		}
	}

	return result
}

// detectAssetName returns the release asset name for the running platform
func detectAssetName() string {
	name := fmt.Sprintf("VRCVideoCacher-%s-%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}
