package ytdl

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// MockHTTPClient is a mock HTTP client for testing
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	return nil, nil
}

// NewMockReleaseResponse creates a mock GitHub release response
func NewMockReleaseResponse(tagName string, assetName string) *http.Response {
	release := GitHubRelease{
		TagName: tagName,
		Assets: []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		}{
			{Name: assetName, BrowserDownloadURL: "http://example.com/" + assetName},
		},
	}

	body, _ := json.Marshal(release)

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

// releaseThenBinary serves release metadata for the API URL and the
// given payload for anything else.
func releaseThenBinary(tag string, payload []byte) *MockHTTPClient {
	return &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.String() == ytdlpNightlyAPI {
				return NewMockReleaseResponse(tag, detectPlatform()), nil
			}
			return NewMockBinaryResponse(payload), nil
		},
	}
}
