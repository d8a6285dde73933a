package ytdl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// BotCheckHint is logged when the resolver reports an anti-bot challenge.
const BotCheckHint = "YouTube is asking for a sign-in. Install the cookie extension from " +
	"https://github.com/clienthax/VRCVideoCacherBrowserExtension and make sure cookies are enabled"

// Result is the captured outcome of one resolver invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports a zero exit code.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner launches the resolver tool. A non-zero exit is reported through
// Result, not as an error; error means the process could not run at all.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// ExecRunner runs a real binary with os/exec.
type ExecRunner struct {
	Path string
}

func NewExecRunner(path string) *ExecRunner {
	return &ExecRunner{Path: path}
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, r.Path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to start %s: %w", r.Path, err)
	}

	return res, nil
}

// ResolveToolPath maps the configured tool location to an executable path.
// Empty means look it up on PATH; relative paths live under the data dir.
func ResolveToolPath(configured, dataDir string) string {
	if configured == "" {
		if p, err := exec.LookPath("yt-dlp"); err == nil {
			return p
		}
		return "yt-dlp"
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(dataDir, configured)
}

// SplitArgs splits user-supplied extra arguments with shell quoting rules.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid additional args %q: %w", s, err)
	}
	return args, nil
}

// IsBotCheck reports whether stderr carries YouTube's sign-in challenge.
func IsBotCheck(stderr string) bool {
	return strings.Contains(stderr, "Sign in to confirm you’re not a bot") ||
		strings.Contains(stderr, "Sign in to confirm you're not a bot")
}
