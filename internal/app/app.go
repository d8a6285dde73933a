// Package app wires the cache, resolver, download worker and gateway into
// one process and owns its lifecycle: patch the game clients on start,
// restore them on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"videocacher/internal/api"
	"videocacher/internal/cache"
	"videocacher/internal/config"
	"videocacher/internal/downloader"
	"videocacher/internal/metrics"
	"videocacher/internal/patcher"
	"videocacher/internal/updater"
	"videocacher/internal/videoid"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

const (
	GitHubRepo      = "EllyVR/VRCVideoCacher"
	shutdownTimeout = 10 * time.Second
)

var ErrStubNotFound = errors.New("stub binary not found")

// Options carry the command-line overrides
type Options struct {
	DataDir string
	Port    int
	Version string
	Logger  *slog.Logger
}

// App is a fully wired cacher instance
type App struct {
	cfg     *models.Config
	dataDir string
	version string
	logger  *slog.Logger

	metrics    *metrics.Metrics
	store      *cache.Store
	cookies    *ytdl.CookieJar
	tool       *ytdl.Manager
	resolver   *videoid.Resolver
	downloader *downloader.Downloader
	server     *api.Server
	patcher    *patcher.Patcher

	patchTargets []patcher.Target
	allTargets   []patcher.Target
}

// LoadConfig reads config.json from the data directory, creating it with
// defaults on first run.
func LoadConfig(dataDir string) (*models.Config, error) {
	mgr, err := config.NewManager(config.ConfigPath(dataDir))
	if err != nil {
		return nil, err
	}
	return mgr.Get(), nil
}

// DataDir returns dir when set, the per-user data directory otherwise
func DataDir(dir string) (string, error) {
	if dir == "" {
		return config.GetDataDir(), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// New loads configuration and builds every service. Nothing is started.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dataDir, err := DataDir(opts.DataDir)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(dataDir)
	if err != nil {
		return nil, err
	}
	if opts.Port != 0 {
		overridePort(cfg, opts.Port)
	}

	a := &App{
		cfg:     cfg,
		dataDir: dataDir,
		version: opts.Version,
		logger:  logger,
		metrics: metrics.New(),
	}

	a.store, err = cache.NewStore(config.CacheDir(cfg, dataDir), cfg.MaxCacheBytes(), logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	a.cookies = ytdl.NewCookieJar(config.CookiesPath(dataDir))

	toolPath := ytdl.ResolveToolPath(cfg.YtdlPath, dataDir)
	a.tool = ytdl.NewManager(toolPath, logger)

	client := newHTTPClient()
	a.resolver, err = videoid.NewResolver(cfg, ytdl.NewExecRunner(toolPath), a.cookies, client, logger, a.metrics)
	if err != nil {
		return nil, err
	}

	a.downloader = downloader.NewDownloader(cfg, a.store, a.resolver, client, logger, a.metrics)

	a.server = api.NewServer(api.Deps{
		Config:   cfg,
		Cache:    a.store,
		Resolver: a.resolver,
		Queue:    a.downloader,
		Cookies:  a.cookies,
		Metrics:  a.metrics,
		Logger:   logger,
		Version:  opts.Version,
	})

	a.patchTargets, a.allTargets = patcher.Targets(cfg, logger)
	if stub, err := LoadStub(cfg, dataDir); err != nil {
		logger.Warn("stub not available, game clients will not be patched", "error", err)
	} else {
		a.patcher = patcher.NewPatcher(stub, logger)
	}

	return a, nil
}

// Run starts the service and blocks until ctx is cancelled. Patched
// targets are restored before it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting VRCVideoCacher", "version", a.version, "data_dir", a.dataDir)

	a.checkEnvironment()
	a.prepareTool(ctx)

	if a.cfg.AutoUpdate {
		go a.checkSelfUpdate(ctx)
	}

	if err := a.server.Start(); err != nil {
		return err
	}

	if a.patcher != nil {
		for _, t := range a.patchTargets {
			if err := a.patcher.Patch(t); err != nil {
				a.logger.Error("patch failed", "target", t.Name, "error", err)
			}
		}
	}
	defer a.restore()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.downloader.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	if a.cfg.YtdlAutoUpdate && a.cfg.YtdlPath != "" {
		g.Go(func() error {
			return a.tool.RunPeriodic(gctx, ytdl.UpdateInterval)
		})
	}

	err := g.Wait()
	a.logger.Info("shut down")
	return err
}

func (a *App) restore() {
	if a.patcher == nil {
		return
	}
	if err := a.patcher.RestoreAll(a.allTargets); err != nil {
		a.logger.Error("restore incomplete", "error", err)
	}
}

// prepareTool installs or updates the managed resolver binary. A tool taken
// from PATH is left alone.
func (a *App) prepareTool(ctx context.Context) {
	if a.cfg.YtdlPath == "" {
		a.logger.Info("using resolver from PATH", "path", a.tool.ToolPath())
		return
	}

	if !a.cfg.YtdlAutoUpdate {
		if !a.tool.IsInstalled() {
			a.logger.Warn("resolver not installed and auto-update is off", "path", a.tool.ToolPath())
		}
		return
	}

	if err := a.tool.EnsureInstalled(ctx); err != nil {
		a.logger.Error("failed to install resolver", "error", err)
		return
	}
	if err := a.tool.AutoUpdate(ctx); err != nil {
		a.logger.Warn("resolver update check failed", "error", err)
	}
}

func (a *App) checkEnvironment() {
	if a.cfg.YtdlUseCookies && !a.cookies.Usable() {
		a.logger.Warn("cookies are enabled but none were received yet, install the browser extension to send them",
			"path", a.cookies.Path())
	}

	if path, ok := globalToolConfig(); ok {
		a.logger.Warn("a global yt-dlp config file exists and will conflict with the cacher, remove it", "path", path)
	}
}

func (a *App) checkSelfUpdate(ctx context.Context) {
	u := updater.NewUpdater(GitHubRepo, a.version, a.logger)
	latest, hasUpdate, err := u.CheckForUpdate(ctx)
	if err != nil {
		a.logger.Debug("self update check failed", "error", err)
		return
	}
	if hasUpdate {
		a.logger.Info("a newer release is available, run 'update' to install it", "current", a.version, "latest", latest)
	}
}

// Addr is the address the gateway is listening on, empty until Run starts it
func (a *App) Addr() string {
	return a.server.GetActualAddr()
}

// LoadStub reads the forwarding stub from stubPath or from beside the
// running executable.
func LoadStub(cfg *models.Config, dataDir string) ([]byte, error) {
	var candidates []string
	if cfg.StubPath != "" {
		p := cfg.StubPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(dataDir, p)
		}
		candidates = append(candidates, p)
	}

	if exe, err := os.Executable(); err == nil {
		name := "ytdlp-stub"
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), name))
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err == nil && len(data) > 0 {
			return data, nil
		}
	}

	return nil, fmt.Errorf("%w: looked in %s", ErrStubNotFound, strings.Join(candidates, ", "))
}

func globalToolConfig() (string, bool) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(dir, "yt-dlp", "config")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// overridePort changes the listening port and, when the advertised base
// URL points at the old port, the base URL too.
func overridePort(cfg *models.Config, port int) {
	oldSuffix := ":" + strconv.Itoa(cfg.WebServerPort)
	if strings.HasSuffix(cfg.WebServerURL, oldSuffix) {
		cfg.WebServerURL = strings.TrimSuffix(cfg.WebServerURL, oldSuffix) + ":" + strconv.Itoa(port)
	}
	cfg.WebServerPort = port
}

// newHTTPClient has no overall timeout since it also streams downloads
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          16,
		},
	}
}
