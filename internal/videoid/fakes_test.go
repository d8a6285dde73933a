package videoid

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

// fakeRunner records every invocation and replays a canned result
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	result ytdl.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (ytdl.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	return f.result, f.err
}

func (f *fakeRunner) lastArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func newTestResolver(t *testing.T, cfg *models.Config, runner ytdl.Runner, rt http.RoundTripper) *Resolver {
	t.Helper()
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	var client *http.Client
	if rt != nil {
		client = &http.Client{Transport: rt}
	}
	r, err := NewResolver(cfg, runner, nil, client, nil, nil)
	require.NoError(t, err)
	return r
}
