package ytdl

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecRunner_CapturesOutput(t *testing.T) {
	sh := requireShell(t)

	res, err := NewExecRunner(sh).Run(context.Background(), "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	sh := requireShell(t)

	res, err := NewExecRunner(sh).Run(context.Background(), "-c", "echo nope >&2; exit 3")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "nope\n", res.Stderr)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := NewExecRunner(filepath.Join(t.TempDir(), "missing")).Run(context.Background(), "--version")
	assert.Error(t, err)
}

func TestExecRunner_Canceled(t *testing.T) {
	sh := requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecRunner(sh).Run(ctx, "-c", "sleep 5")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveToolPath(t *testing.T) {
	dataDir := t.TempDir()
	abs := filepath.Join(dataDir, "bin", "yt-dlp")

	assert.Equal(t, abs, ResolveToolPath(abs, "/elsewhere"))
	assert.Equal(t, filepath.Join(dataDir, "Utils", "yt-dlp.exe"), ResolveToolPath("Utils/yt-dlp.exe", dataDir))
	assert.NotEmpty(t, ResolveToolPath("", dataDir))
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "empty", in: "", want: nil},
		{name: "blank", in: "   ", want: nil},
		{name: "plain", in: "--proxy http://x:1 -v", want: []string{"--proxy", "http://x:1", "-v"}},
		{name: "quoted", in: `--user-agent "Mozilla 5.0"`, want: []string{"--user-agent", "Mozilla 5.0"}},
		{name: "unterminated quote", in: `--x "abc`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBotCheck(t *testing.T) {
	assert.True(t, IsBotCheck("ERROR: [youtube] abc: Sign in to confirm you’re not a bot. Use --cookies"))
	assert.True(t, IsBotCheck("Sign in to confirm you're not a bot"))
	assert.False(t, IsBotCheck("ERROR: Video unavailable"))
}

func TestCookieJar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "youtube_cookies.txt")
	jar := NewCookieJar(path)

	assert.False(t, jar.Usable())
	assert.Nil(t, jar.Args(true))

	assert.ErrorIs(t, jar.Save("# Netscape HTTP Cookie File\nexample.com\tTRUE"), ErrInvalidCookies)
	assert.NoFileExists(t, path)

	valid := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tLOGIN_INFO\tabc\n"
	require.NoError(t, jar.Save(valid))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, valid, string(data))

	assert.True(t, jar.Usable())
	assert.Equal(t, []string{"--cookies", path}, jar.Args(true))
	assert.Nil(t, jar.Args(false))
}

func TestCookieJar_StaleFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "youtube_cookies.txt")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

	jar := NewCookieJar(path)
	assert.False(t, jar.Usable())
	assert.Nil(t, jar.Args(true))
}
