package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocacher/internal/videoid"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

const watchURL = "https://www.youtube.com/watch?v=abc12345678"

func TestGetVideo_MissingURL(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.getVideo(t, "", false, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "URL")
	assert.Equal(t, 0, env.runner.count())
}

func TestGetVideo_MissResolvesAndQueues(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.getVideo(t, watchURL, false, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://rr1---sn.googlevideo.com/videoplayback?id=1", w.Body.String())
	assert.Equal(t, 1, env.runner.count())
	assert.Equal(t, watchURL, env.runner.lastArgs()[len(env.runner.lastArgs())-1])

	assert.True(t, env.downloads.Contains("abc12345678", models.DownloadFormatMP4))
	assert.Equal(t, 1, env.downloads.GetQueueLength())

	assert.Equal(t, []string{"https://rr1---sn.googlevideo.com/videoplayback?id=1"}, env.prefetched)
	assert.Empty(t, env.slept)
}

func TestGetVideo_HitServesLocalURL(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(env.store.FilePath("abc12345678.mp4"), []byte("video"), 0644))

	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(env.store.FilePath("abc12345678.mp4"), old, old))

	w := env.getVideo(t, watchURL, false, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:9696/abc12345678.mp4", w.Body.String())
	assert.Equal(t, 0, env.runner.count())
	assert.Equal(t, 0, env.downloads.GetQueueLength())

	info, err := os.Stat(env.store.FilePath("abc12345678.mp4"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old.Add(time.Hour)), "hit should refresh recency")
}

func TestGetVideo_RepeatAfterDownload(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.getVideo(t, watchURL, false, "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, env.runner.count())

	// what the worker leaves behind
	require.NoError(t, os.WriteFile(env.store.FilePath("abc12345678.mp4"), []byte("video"), 0644))
	require.NoError(t, env.store.Commit("abc12345678.mp4"))

	second := env.getVideo(t, watchURL, false, "")
	assert.Equal(t, "http://localhost:9696/abc12345678.mp4", second.Body.String())
	assert.Equal(t, 1, env.runner.count())
}

func TestGetVideo_AVProFallsBackToMP4(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(env.store.FilePath("abc12345678.mp4"), []byte("video"), 0644))

	w := env.getVideo(t, watchURL, true, "")
	assert.Equal(t, "http://localhost:9696/abc12345678.mp4", w.Body.String())

	require.NoError(t, os.WriteFile(env.store.FilePath("abc12345678.webm"), []byte("video"), 0644))
	w = env.getVideo(t, watchURL, true, "")
	assert.Equal(t, "http://localhost:9696/abc12345678.webm", w.Body.String())
	assert.Equal(t, 0, env.runner.count())
}

func TestGetVideo_YouTubeFailureIs500(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.result = ytdl.Result{Stderr: "ERROR: [youtube] abc12345678: Video unavailable\n", ExitCode: 1}

	w := env.getVideo(t, watchURL, false, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "ERROR: [youtube] abc12345678: Video unavailable", w.Body.String())
	assert.Equal(t, 0, env.downloads.GetQueueLength())
}

func TestGetVideo_OtherFailureIsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.result = ytdl.Result{Stderr: "ERROR: Unsupported URL", ExitCode: 1}

	w := env.getVideo(t, "https://example.com/page", false, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.True(t, env.downloads.Contains(videoid.HashURL("https://example.com/page"), models.DownloadFormatMP4))
	assert.Empty(t, env.prefetched)
}

func TestGetVideo_UnclassifiableIsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.getVideo(t, "https://www.youtube.com/feed/subscriptions", false, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 0, env.runner.count())
	assert.Equal(t, 0, env.downloads.GetQueueLength())
}

func TestGetVideo_SearchQueryFailsFast(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.getVideo(t, "https://www.youtube.com/results?search_query=abcdefghijk&v=abcdefghijk", false, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, env.runner.count())
}

func TestGetVideo_BlockedURLUsesFallback(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.BlockedURLs = []string{"https://blocked.example/"}
		cfg.BlockRedirect = "https://www.youtube.com/watch?v=byv2bKekeWQ"
	})

	w := env.getVideo(t, "https://blocked.example/clip.mp4", false, "")

	require.Equal(t, http.StatusOK, w.Code)
	args := env.runner.lastArgs()
	assert.Equal(t, "https://www.youtube.com/watch?v=byv2bKekeWQ", args[len(args)-1])
	assert.True(t, env.downloads.Contains("byv2bKekeWQ", models.DownloadFormatMP4))
}

func TestGetVideo_SkippedHosts(t *testing.T) {
	urls := []string{
		"https://mightygymcdn.nyc3.cdn.digitaloceanspaces.com/video.mp4",
		"https://cdn.imvrcdn.com/stream.m3u8",
		"https://cdn.illumination.media/movie.mp4",
		"https://virtualfilm.institute/film.mp4",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			env := newTestEnv(t, nil)

			w := env.getVideo(t, u, false, "")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Body.String())
			assert.Equal(t, 0, env.runner.count())
			assert.Equal(t, 0, env.downloads.GetQueueLength())
		})
	}
}

func TestGetVideo_IlluminationOverrides(t *testing.T) {
	env := newTestEnv(t, nil)

	env.getVideo(t, "https://yt.illumination.media/watch/1", false, "")
	assert.Equal(t, 1, env.runner.count())

	env.getVideo(t, "https://anime.illumination.media/ep1.mp4", false, "")
	assert.Equal(t, 2, env.runner.count())
	assert.Contains(t, env.runner.lastArgs(), "--impersonate=safari")
}

func TestGetVideo_LowMaxResDisablesAVPro(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.CacheYouTubeMaxRes = 360
	})

	env.getVideo(t, watchURL, true, "")

	assert.Contains(t, strings.Join(env.runner.lastArgs(), " "), "[protocol^=http]")
	assert.NotContains(t, env.runner.lastArgs(), "--impersonate=safari")
	// cache key keeps the format the client asked for
	assert.True(t, env.downloads.Contains("abc12345678", models.DownloadFormatWebm))
}

func TestGetVideo_Resonite(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.YtdlDelay = 2
	})
	env.runner.result = ytdl.Result{Stdout: `{"id":"abc12345678","formats":[]}`}

	w := env.getVideo(t, watchURL, false, "resonite")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"abc12345678","formats":[]}`, w.Body.String())
	assert.Contains(t, env.runner.lastArgs(), "-J")
	assert.Equal(t, 0, env.downloads.GetQueueLength())
	assert.Equal(t, []time.Duration{2 * time.Second}, env.slept)
}

func TestGetVideo_DelayAppliesToYouTube(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.YtdlDelay = 5
	})

	env.getVideo(t, watchURL, false, "")
	assert.Equal(t, []time.Duration{5 * time.Second}, env.slept)

	env.runner.result = ytdl.Result{Stdout: "https://cdn.example.com/file.mp4"}
	env.getVideo(t, "https://example.com/page", false, "")
	assert.Len(t, env.slept, 1)
}

func TestGetVideo_LegacyRedirector(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.getVideo(t, "https://dmn.moe/sr/abc", false, "")

	require.Equal(t, http.StatusOK, w.Code)
	args := env.runner.lastArgs()
	assert.Equal(t, watchURL, args[len(args)-1])
	assert.True(t, env.downloads.Contains("abc12345678", models.DownloadFormatMP4))
}

func TestGetVideo_QuotesNeutralized(t *testing.T) {
	env := newTestEnv(t, nil)

	env.getVideo(t, `https://example.com/a"b`, false, "")

	args := env.runner.lastArgs()
	assert.Equal(t, "https://example.com/a%22b", args[len(args)-1])
}

func TestHandleYouTubeCookies(t *testing.T) {
	validCookies := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tLOGIN_INFO\ttest_cookie\n"

	tests := []struct {
		name           string
		path           string
		body           string
		wantStatusCode int
		wantContains   string
		wantSaved      bool
	}{
		{name: "valid cookies", path: "/youtube-cookies", body: validCookies, wantStatusCode: http.StatusOK, wantContains: "received", wantSaved: true},
		{name: "valid cookies api path", path: "/api/youtube-cookies", body: validCookies, wantStatusCode: http.StatusOK, wantContains: "received", wantSaved: true},
		{name: "missing login cookie", path: "/youtube-cookies", body: ".youtube.com\tTRUE\t/\tTRUE\t0\tPREF\tx", wantStatusCode: http.StatusBadRequest, wantContains: "invalid"},
		{name: "invalid cookies", path: "/youtube-cookies", body: "not a valid cookie", wantStatusCode: http.StatusBadRequest, wantContains: "invalid"},
		{name: "empty body", path: "/youtube-cookies", body: "", wantStatusCode: http.StatusBadRequest, wantContains: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatusCode, w.Code)
			assert.Contains(t, strings.ToLower(w.Body.String()), tt.wantContains)

			if tt.wantSaved {
				data, err := os.ReadFile(env.cookiePath)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(data))
			} else {
				assert.NoFileExists(t, env.cookiePath)
			}
		})
	}
}

func TestIsSkipped(t *testing.T) {
	assert.True(t, isSkipped("https://mightygymcdn.nyc3.cdn.digitaloceanspaces.com/a"))
	assert.True(t, isSkipped("https://x.imvrcdn.com/a"))
	assert.True(t, isSkipped("https://x.illumination.media/a"))
	assert.False(t, isSkipped("https://yt.illumination.media/a"))
	assert.False(t, isSkipped("https://anime.illumination.media/a"))
	assert.False(t, isSkipped("https://www.youtube.com/watch?v=abc12345678"))
}
