package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"videocacher/internal/cache"
	"videocacher/internal/downloader"
	"videocacher/internal/metrics"
	"videocacher/internal/videoid"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

// countingRunner stands in for the resolver binary
type countingRunner struct {
	mu     sync.Mutex
	calls  [][]string
	result ytdl.Result
}

func (c *countingRunner) Run(ctx context.Context, args ...string) (ytdl.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), args...))
	return c.result, nil
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingRunner) lastArgs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type testEnv struct {
	cfg        *models.Config
	server     *Server
	store      *cache.Store
	runner     *countingRunner
	downloads  *downloader.Downloader
	metrics    *metrics.Metrics
	cookiePath string

	mu         sync.Mutex
	prefetched []string
	slept      []time.Duration
}

// newTestEnv wires the real resolver, cache and queue around a fake
// resolver binary and a fake upstream. The download worker is not started.
func newTestEnv(t *testing.T, mutate func(cfg *models.Config)) *testEnv {
	t.Helper()

	cfg := models.DefaultConfig()
	cfg.WebServerURL = "http://localhost:9696"
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		cfg:        cfg,
		runner:     &countingRunner{result: ytdl.Result{Stdout: "https://rr1---sn.googlevideo.com/videoplayback?id=1\n"}},
		metrics:    metrics.New(),
		cookiePath: filepath.Join(t.TempDir(), "youtube_cookies.txt"),
	}

	upstream := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("media")),
			Request:    req,
		}
		switch {
		case req.URL.Host == "dmn.moe" && req.URL.Path == "/yt/abc":
			resp.StatusCode = http.StatusFound
			resp.Header.Set("Location", "https://www.youtube.com/watch?v=abc12345678")
		case req.URL.Host == "dmn.moe":
			resp.StatusCode = http.StatusNotFound
		case req.Method == http.MethodGet:
			env.mu.Lock()
			env.prefetched = append(env.prefetched, req.URL.String())
			env.mu.Unlock()
		}
		return resp, nil
	})
	client := &http.Client{Transport: upstream}

	store, err := cache.NewStore(t.TempDir(), cfg.MaxCacheBytes(), nil, env.metrics)
	require.NoError(t, err)
	env.store = store

	cookies := ytdl.NewCookieJar(env.cookiePath)
	resolver, err := videoid.NewResolver(cfg, env.runner, cookies, client, nil, env.metrics)
	require.NoError(t, err)

	env.downloads = downloader.NewDownloader(cfg, store, resolver, client, nil, env.metrics)

	env.server = NewServer(Deps{
		Config:   cfg,
		Cache:    store,
		Resolver: resolver,
		Queue:    env.downloads,
		Cookies:  cookies,
		Metrics:  env.metrics,
		Version:  "test",
	})
	env.server.sleep = func(ctx context.Context, d time.Duration) {
		env.mu.Lock()
		env.slept = append(env.slept, d)
		env.mu.Unlock()
	}

	return env
}

func (e *testEnv) getVideo(t *testing.T, rawURL string, avPro bool, source string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{}
	if rawURL != "" {
		q.Set("url", rawURL)
	}
	if avPro {
		q.Set("avpro", "true")
	} else {
		q.Set("avpro", "false")
	}
	if source != "" {
		q.Set("source", source)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/getvideo?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}
