package ytdl

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolPathIn(t *testing.T) string {
	return filepath.Join(t.TempDir(), "Utils", "yt-dlp.exe")
}

func TestIsInstalled(t *testing.T) {
	tests := []struct {
		name          string
		createFile    bool
		wantInstalled bool
	}{
		{name: "not installed", createFile: false, wantInstalled: false},
		{name: "installed", createFile: true, wantInstalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(toolPathIn(t), nil)

			if tt.createFile {
				require.NoError(t, os.MkdirAll(filepath.Dir(mgr.ToolPath()), 0755))
				require.NoError(t, os.WriteFile(mgr.ToolPath(), []byte("fake"), 0755))
			}

			assert.Equal(t, tt.wantInstalled, mgr.IsInstalled())
		})
	}
}

func TestCheckForUpdate_NotInstalled_HasUpdate(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return NewMockReleaseResponse("2024.01.01", detectPlatform()), nil
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)

	version, hasUpdate, err := mgr.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, hasUpdate)
	assert.Equal(t, "2024.01.01", version)
}

func TestCheckForUpdate_AlreadyUpToDate(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return NewMockReleaseResponse("2024.01.01", detectPlatform()), nil
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)
	mgr.currentVersion = "2024.01.01"

	require.NoError(t, os.MkdirAll(filepath.Dir(mgr.ToolPath()), 0755))
	require.NoError(t, os.WriteFile(mgr.ToolPath(), []byte("test"), 0755))

	version, hasUpdate, err := mgr.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, hasUpdate)
	assert.Equal(t, "2024.01.01", version)
}

func TestCheckForUpdate_HTTPError(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("network error")
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)

	_, _, err := mgr.CheckForUpdate(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check for updates")
}

func TestDownload_Success(t *testing.T) {
	mgr := NewManagerWithClient(toolPathIn(t), releaseThenBinary("2024.01.01", []byte("fake yt-dlp binary")), nil)

	err := mgr.Download(context.Background())
	require.NoError(t, err)

	assert.True(t, mgr.IsInstalled())
	assert.Equal(t, "2024.01.01", mgr.GetCurrentVersion())

	data, err := os.ReadFile(mgr.ToolPath())
	require.NoError(t, err)
	assert.Equal(t, "fake yt-dlp binary", string(data))
	assert.NoFileExists(t, mgr.ToolPath()+".tmp")
}

func TestDownload_PersistsVersion(t *testing.T) {
	toolPath := toolPathIn(t)
	mgr := NewManagerWithClient(toolPath, releaseThenBinary("2024.03.03", []byte("bin")), nil)
	require.NoError(t, mgr.Download(context.Background()))

	reloaded := NewManager(toolPath, nil)
	assert.Equal(t, "2024.03.03", reloaded.GetCurrentVersion())
}

func TestDownload_NoMatchingAsset(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return NewMockReleaseResponse("2024.01.01", "wrong-platform.exe"), nil
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)

	err := mgr.Download(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no asset found for platform")
	assert.False(t, mgr.IsInstalled())
}

func TestDownload_BadStatus(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.String() == ytdlpNightlyAPI {
				return NewMockReleaseResponse("2024.01.01", detectPlatform()), nil
			}
			resp := NewMockBinaryResponse(nil)
			resp.StatusCode = http.StatusNotFound
			return resp, nil
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)

	err := mgr.Download(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestAutoUpdate_HasUpdate(t *testing.T) {
	mgr := NewManagerWithClient(toolPathIn(t), releaseThenBinary("2024.02.01", []byte("new version")), nil)
	mgr.currentVersion = "2024.01.01"

	require.NoError(t, os.MkdirAll(filepath.Dir(mgr.ToolPath()), 0755))
	require.NoError(t, os.WriteFile(mgr.ToolPath(), []byte("old"), 0755))

	require.NoError(t, mgr.AutoUpdate(context.Background()))

	assert.Equal(t, "2024.02.01", mgr.GetCurrentVersion())
	data, err := os.ReadFile(mgr.ToolPath())
	require.NoError(t, err)
	assert.Equal(t, "new version", string(data))
}

func TestAutoUpdate_NoUpdate(t *testing.T) {
	calls := 0
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return NewMockReleaseResponse("2024.01.01", detectPlatform()), nil
		},
	}

	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)
	mgr.currentVersion = "2024.01.01"

	require.NoError(t, os.MkdirAll(filepath.Dir(mgr.ToolPath()), 0755))
	require.NoError(t, os.WriteFile(mgr.ToolPath(), []byte("current"), 0755))

	require.NoError(t, mgr.AutoUpdate(context.Background()))

	assert.Equal(t, "2024.01.01", mgr.GetCurrentVersion())
	assert.Equal(t, 1, calls)
}

func TestEnsureInstalled_AlreadyInstalled(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("should not hit the network")
			return nil, nil
		},
	}
	mgr := NewManagerWithClient(toolPathIn(t), mockClient, nil)

	require.NoError(t, os.MkdirAll(filepath.Dir(mgr.ToolPath()), 0755))
	require.NoError(t, os.WriteFile(mgr.ToolPath(), []byte("fake"), 0755))

	require.NoError(t, mgr.EnsureInstalled(context.Background()))
}

func TestEnsureInstalled_Missing(t *testing.T) {
	mgr := NewManagerWithClient(toolPathIn(t), releaseThenBinary("2024.01.01", []byte("bin")), nil)

	require.NoError(t, mgr.EnsureInstalled(context.Background()))
	assert.True(t, mgr.IsInstalled())
}

func TestRunPeriodic_StopsOnCancel(t *testing.T) {
	mgr := NewManagerWithClient(toolPathIn(t), releaseThenBinary("2024.01.01", []byte("bin")), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.RunPeriodic(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, mgr.IsInstalled, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}

func TestDetectPlatform(t *testing.T) {
	platform := detectPlatform()

	switch runtime.GOOS {
	case "windows":
		assert.Equal(t, "yt-dlp.exe", platform)
	case "linux":
		if runtime.GOARCH == "arm64" {
			assert.Equal(t, "yt-dlp_linux_aarch64", platform)
		} else {
			assert.Equal(t, "yt-dlp_linux", platform)
		}
	case "darwin":
		assert.Equal(t, "yt-dlp_macos", platform)
	default:
		assert.Equal(t, "yt-dlp", platform)
	}
}
