package patcher

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"videocacher/pkg/models"
)

var (
	ErrVRChatNotFound   = errors.New("VRChat installation not found")
	ErrResoniteNotFound = errors.New("Resonite installation not found")
)

const (
	vrchatAppID         = "438100"
	resoniteAppID       = "2519830"
	defaultSteamRoot    = `C:\Program Files (x86)\Steam`
	defaultResonitePath = defaultSteamRoot + `\steamapps\common\Resonite`
)

var steamRoots = []string{
	".var/app/com.valvesoftware.Steam",
	".steam/steam",
	".local/share/Steam",
}

var libraryPathRegex = regexp.MustCompile(`"path"\s+"([^"]+)"`)

// Targets returns the targets to patch at startup (gated by config) and the
// full set that restore should always cover.
func Targets(cfg *models.Config, logger *slog.Logger) (patch, all []Target) {
	if t, err := VRChatTarget(); err == nil {
		all = append(all, t)
		if cfg.PatchVRC {
			patch = append(patch, t)
		}
	} else if cfg.PatchVRC && logger != nil {
		logger.Warn("cannot patch VRChat", "error", err)
	}

	if t, err := ResoniteTarget(cfg.ResonitePath); err == nil {
		all = append(all, t)
		if cfg.PatchResonite {
			patch = append(patch, t)
		}
	} else if cfg.PatchResonite && logger != nil {
		logger.Warn("cannot patch Resonite", "error", err)
	}

	return patch, all
}

// VRChatTarget locates VRChat's resolver binary for this platform
func VRChatTarget() (Target, error) {
	home, _ := os.UserHomeDir()
	localLow, err := vrchatLocalLow(runtime.GOOS, home, os.Getenv("LOCALAPPDATA"))
	if err != nil {
		return Target{}, err
	}
	return Target{
		Name:     "VRChat",
		ToolPath: filepath.Join(localLow, "VRChat", "VRChat", "Tools", "yt-dlp.exe"),
	}, nil
}

// ToolsTarget builds a VRChat target from an explicit Tools directory
func ToolsTarget(toolsDir string) Target {
	return Target{Name: "VRChat", ToolPath: filepath.Join(toolsDir, "yt-dlp.exe")}
}

// ResoniteTarget locates Resonite's resolver binary. An empty path searches
// the Steam libraries for the Resonite app, then falls back to the default
// Steam library on Windows.
func ResoniteTarget(resonitePath string) (Target, error) {
	if resonitePath == "" {
		home, _ := os.UserHomeDir()
		dir, err := resoniteDir(runtime.GOOS, home)
		if err != nil {
			return Target{}, err
		}
		resonitePath = dir
	}
	return Target{
		Name:     "Resonite",
		ToolPath: filepath.Join(resonitePath, "RuntimeData", "yt-dlp.exe"),
	}, nil
}

func resoniteDir(goos, home string) (string, error) {
	roots := homeSteamRoots(home)
	if goos == "windows" {
		roots = append(roots, defaultSteamRoot)
	}
	if lib, ok := steamAppLibrary(roots, resoniteAppID); ok {
		return filepath.Join(lib, "steamapps", "common", "Resonite"), nil
	}
	if goos == "windows" {
		return defaultResonitePath, nil
	}
	return "", ErrResoniteNotFound
}

func vrchatLocalLow(goos, home, localAppData string) (string, error) {
	switch goos {
	case "windows":
		if localAppData == "" {
			return "", ErrVRChatNotFound
		}
		return filepath.Join(filepath.Dir(localAppData), "LocalLow"), nil
	case "linux":
		compat, err := steamCompatPath(home, vrchatAppID)
		if err != nil {
			return "", err
		}
		return filepath.Join(compat, "pfx", "drive_c", "users", "steamuser", "AppData", "LocalLow"), nil
	default:
		return "", ErrVRChatNotFound
	}
}

// steamCompatPath finds the Proton prefix of appID across Steam libraries
func steamCompatPath(home, appID string) (string, error) {
	for _, lib := range steamLibraries(homeSteamRoots(home)) {
		compat := filepath.Join(lib, "steamapps", "compatdata", appID)
		if info, err := os.Stat(compat); err == nil && info.IsDir() {
			return compat, nil
		}
	}
	return "", ErrVRChatNotFound
}

// steamAppLibrary returns the library that holds the install manifest of appID
func steamAppLibrary(roots []string, appID string) (string, bool) {
	for _, lib := range steamLibraries(roots) {
		manifest := filepath.Join(lib, "steamapps", "appmanifest_"+appID+".acf")
		if _, err := os.Stat(manifest); err == nil {
			return lib, true
		}
	}
	return "", false
}

func homeSteamRoots(home string) []string {
	if home == "" {
		return nil
	}
	roots := make([]string, 0, len(steamRoots))
	for _, root := range steamRoots {
		roots = append(roots, filepath.Join(home, root))
	}
	return roots
}

// steamLibraries lists every existing Steam root followed by the libraries
// its libraryfolders.vdf points at.
func steamLibraries(roots []string) []string {
	var libraries []string
	for _, steam := range roots {
		if _, err := os.Stat(steam); err != nil {
			continue
		}
		libraries = append(libraries, steam)
		data, err := os.ReadFile(filepath.Join(steam, "steamapps", "libraryfolders.vdf"))
		if err != nil {
			continue
		}
		for _, m := range libraryPathRegex.FindAllStringSubmatch(string(data), -1) {
			libraries = append(libraries, unescapeVDF(m[1]))
		}
	}
	return libraries
}

// unescapeVDF undoes the doubled backslashes Steam writes in Windows paths
func unescapeVDF(s string) string {
	return strings.ReplaceAll(s, `\\`, `\`)
}
