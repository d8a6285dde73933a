// Command ytdlp-stub is installed in place of a game client's yt-dlp.exe.
// It forwards the requested URL to the local cacher and prints whatever
// URL the cacher answers with.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	serverURL      = "http://127.0.0.1:9696"
	ErrNoURL       = errors.New("no URL found in arguments")
	ErrServerError = errors.New("server returned error")
	ErrNotRunning  = errors.New("connection refused, is VRCVideoCacher running?")
)

// The game waits on this process, so it must never hang
var client = &http.Client{Timeout: 2 * time.Minute}

func main() {
	logger, closeLog := openLog()
	defer closeLog()

	os.Exit(run(os.Args[1:], logger))
}

// run executes the stub logic and returns exit code
func run(args []string, logger *slog.Logger) int {
	videoURL, avPro, source, err := parseArgs(args)
	logger.Info("invoked", "args", strings.Join(args, " "), "avpro", avPro, "source", source)
	if err != nil {
		logger.Error("bad arguments", "error", err)
		fmt.Fprintf(os.Stderr, "ERROR: [VRCVideoCacher] %v\n", err)
		return 1
	}

	response, err := makeRequest(videoURL, avPro, source)
	if err != nil {
		logger.Error("request failed", "error", err)
		fmt.Fprintf(os.Stderr, "ERROR: [VRCVideoCacher] %v\n", err)
		if errors.Is(err, ErrNotRunning) {
			releaseSelf(logger)
		}
		return 1
	}

	logger.Info("response", "body", response)
	fmt.Println(response)
	return 0
}

// parseArgs picks the first http(s) argument as the URL. A protocol-only
// format filter means the player cannot take AVPro streams; -J means the
// caller wants the metadata dump Resonite consumes.
func parseArgs(args []string) (videoURL string, avPro bool, source string, err error) {
	avPro = true
	source = "vrchat"

	for _, arg := range args {
		if strings.Contains(arg, "[protocol^=http]") {
			avPro = false
			continue
		}

		if arg == "-J" || arg == "--dump-single-json" {
			source = "resonite"
			continue
		}

		if strings.HasPrefix(strings.ToLower(arg), "http") {
			videoURL = arg
			break
		}
	}

	if videoURL == "" {
		return "", avPro, source, ErrNoURL
	}

	return videoURL, avPro, source, nil
}

// makeRequest sends request to local server
func makeRequest(videoURL string, avPro bool, source string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/getvideo?url=%s&avpro=%t&source=%s",
		serverURL,
		url.QueryEscape(videoURL),
		avPro,
		url.QueryEscape(source),
	)

	resp, err := client.Get(reqURL)
	if err != nil {
		if isConnRefused(err) {
			return "", ErrNotRunning
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrServerError, string(body))
	}

	return string(body), nil
}

// releaseSelf clears the read-only bit the cacher set on this binary, so
// the game can replace it while the cacher is not running.
func releaseSelf(logger *slog.Logger) {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	info, err := os.Stat(exe)
	if err != nil || info.Mode().Perm()&0200 != 0 {
		return
	}
	if err := os.Chmod(exe, 0755); err != nil {
		logger.Warn("could not clear read-only flag", "path", exe, "error", err)
	}
}

// openLog appends to ytdl.log beside the executable, falling back to a
// discarding logger when that directory is not writable.
func openLog() (*slog.Logger, func()) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	exe, err := os.Executable()
	if err != nil {
		return discard, func() {}
	}
	f, err := os.OpenFile(filepath.Join(filepath.Dir(exe), "ytdl.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return discard, func() {}
	}
	return slog.New(slog.NewTextHandler(f, nil)), func() { f.Close() }
}
