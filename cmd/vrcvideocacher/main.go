package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"videocacher/internal/app"
	"videocacher/internal/cli"
	"videocacher/internal/patcher"
	"videocacher/internal/updater"
	"videocacher/pkg/models"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cliApp := cli.NewCLI(Version)

	if len(args) == 0 {
		args = []string{"server"}
	}

	cmd, err := cliApp.ParseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		cliApp.PrintHelp(os.Stderr)
		return 1
	}

	switch cmd.Type {
	case cli.CommandHelp:
		cliApp.PrintHelp(os.Stdout)
		return 0
	case cli.CommandVersion:
		cliApp.PrintVersion(os.Stdout)
		return 0
	}

	logger := newLogger(cmd.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd.Type {
	case cli.CommandServer:
		return runServer(ctx, cmd, logger)
	case cli.CommandPatch:
		return runPatch(cmd, logger)
	case cli.CommandRestore:
		return runRestore(cmd, logger)
	case cli.CommandHash:
		return runHash(cmd)
	case cli.CommandUpdate:
		return runUpdate(ctx, cmd.CheckOnly, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd.String())
		return 1
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runServer(ctx context.Context, cmd *cli.Command, logger *slog.Logger) int {
	a, err := app.New(app.Options{
		DataDir: cmd.DataDir,
		Port:    cmd.Port,
		Version: Version,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

// targets picks the patch targets: an explicit Tools directory, or
// everything the config enables.
func targets(cmd *cli.Command, logger *slog.Logger) (cfg *models.Config, dataDir string, patch []patcher.Target, err error) {
	dataDir, err = app.DataDir(cmd.DataDir)
	if err != nil {
		return nil, "", nil, err
	}
	cfg, err = app.LoadConfig(dataDir)
	if err != nil {
		return nil, "", nil, err
	}

	if cmd.Path != "" {
		return cfg, dataDir, []patcher.Target{patcher.ToolsTarget(cmd.Path)}, nil
	}

	patch, _ = patcher.Targets(cfg, logger)
	return cfg, dataDir, patch, nil
}

func runPatch(cmd *cli.Command, logger *slog.Logger) int {
	cfg, dataDir, patch, err := targets(cmd, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(patch) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no patch targets found, specify the VRChat Tools directory with -path")
		return 1
	}

	stub, err := app.LoadStub(cfg, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading stub: %v\n", err)
		return 1
	}
	p := patcher.NewPatcher(stub, logger)

	code := 0
	for _, t := range patch {
		if err := p.Patch(t); err != nil {
			fmt.Fprintf(os.Stderr, "Error patching %s: %v\n", t.Name, err)
			code = 1
			continue
		}
		fmt.Printf("Patched %s: %s\n", t.Name, t.ToolPath)
	}
	return code
}

// restoreTargets never fails: restore is the recovery path when the service
// itself cannot start, so a broken config falls back to the defaults.
func restoreTargets(cmd *cli.Command, logger *slog.Logger) []patcher.Target {
	if cmd.Path != "" {
		return []patcher.Target{patcher.ToolsTarget(cmd.Path)}
	}

	cfg := models.DefaultConfig()
	if dataDir, err := app.DataDir(cmd.DataDir); err != nil {
		logger.Warn("data directory unavailable, using default config", "error", err)
	} else if loaded, err := app.LoadConfig(dataDir); err != nil {
		logger.Warn("config unreadable, using defaults", "error", err)
	} else {
		cfg = loaded
	}

	_, all := patcher.Targets(cfg, logger)
	return all
}

func runRestore(cmd *cli.Command, logger *slog.Logger) int {
	all := restoreTargets(cmd, logger)

	// Restoring only moves backups back, so no stub is needed
	if err := patcher.NewPatcher(nil, logger).RestoreAll(all); err != nil {
		fmt.Fprintf(os.Stderr, "Error restoring: %v\n", err)
		return 1
	}

	fmt.Println("Restored original yt-dlp.exe")
	return 0
}

func runHash(cmd *cli.Command) int {
	dataDir, err := app.DataDir(cmd.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := app.LoadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	stub, err := app.LoadStub(cfg, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println(patcher.ComputeHash(stub))
	return 0
}

func runUpdate(ctx context.Context, checkOnly bool, logger *slog.Logger) int {
	u := updater.NewUpdater(app.GitHubRepo, Version, logger)

	latestVersion, hasUpdate, err := u.CheckForUpdate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking for updates: %v\n", err)
		return 1
	}

	if !hasUpdate {
		fmt.Printf("Already up to date (version %s)\n", Version)
		return 0
	}

	fmt.Printf("Update available: %s -> %s\n", Version, latestVersion)

	if checkOnly {
		fmt.Println("Run 'vrcvideocacher update' to install the update")
		return 0
	}

	exePath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting executable path: %v\n", err)
		return 1
	}

	if err := u.Download(ctx, exePath); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating: %v\n", err)
		return 1
	}

	fmt.Printf("Successfully updated to version %s\n", latestVersion)
	fmt.Println("Please restart the application")
	return 0
}
