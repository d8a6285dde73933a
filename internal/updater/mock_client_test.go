package updater

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// MockHTTPClient is a mock HTTP client for testing
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

// NewMockReleaseResponse creates a mock GitHub release response
func NewMockReleaseResponse(tagName string, assets ...Asset) *http.Response {
	body, _ := json.Marshal(GitHubRelease{TagName: tagName, Assets: assets})
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// NewMockBinaryResponse creates a mock binary download response
func NewMockBinaryResponse(data []byte) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

// NewMockErrorBinaryResponse returns a body that fails mid-read
func NewMockErrorBinaryResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(errorReader{}),
	}
}

func platformAsset(digest string) Asset {
	return Asset{
		Name:               detectAssetName(),
		BrowserDownloadURL: "http://example.com/" + detectAssetName(),
		Digest:             digest,
	}
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// releaseThen answers the releases API with release and every other URL
// with download.
func releaseThen(release *http.Response, download func() (*http.Response, error)) *MockHTTPClient {
	return &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "/releases/latest") {
				return release, nil
			}
			return download()
		},
	}
}
