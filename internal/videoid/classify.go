// Package videoid maps request URLs to cache identities and drives the
// resolver tool for everything that needs format negotiation.
package videoid

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"videocacher/pkg/models"
)

// youTubeIDLength is the fixed length of a platform-native video id.
const youTubeIDLength = 11

const pypyDanceAPI = "http://api.pypy.dance/video"

var (
	youTubeRegex = regexp.MustCompile(`(?:youtube\.com\/(?:[^\/\n\s]+\/\S+\/|(?:v|e(?:mbed)?)\/|live\/|\S*?[?&]v=)|youtu\.be\/)([a-zA-Z0-9_-]{11})`)

	youTubeHosts = map[string]bool{
		"youtube.com":       true,
		"youtu.be":          true,
		"www.youtube.com":   true,
		"m.youtube.com":     true,
		"music.youtube.com": true,
	}

	vrDancingPrefixes = []string{
		"https://na2.vrdancing.club",
		"https://eu2.vrdancing.club",
		"https://na2-lq.vrdancing.club",
	}

	shortsPrefixes = []string{
		"https://www.youtube.com/shorts/",
		"https://youtube.com/shorts/",
	}
)

// IsYouTubeURL reports whether rawURL is on one of the primary host's domains.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return youTubeHosts[u.Host]
}

// HashURL derives a path-safe id from an arbitrary URL.
func HashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return strings.NewReplacer("/", "", "+", "", "=", "").Replace(base64.StdEncoding.EncodeToString(sum[:]))
}

// Classify derives the cache identity for rawURL. It returns false only when
// a primary-host URL yields no id, or a PyPyDance redirect cannot be followed.
func (r *Resolver) Classify(ctx context.Context, rawURL string, avPro bool) (*models.VideoInfo, bool) {
	rawURL = strings.TrimSpace(rawURL)

	if strings.HasPrefix(rawURL, pypyDanceAPI) {
		return r.classifyPyPyDance(ctx, rawURL)
	}

	for _, prefix := range vrDancingPrefixes {
		if strings.HasPrefix(rawURL, prefix) {
			return &models.VideoInfo{
				VideoID:        HashURL(rawURL),
				VideoURL:       rawURL,
				UrlType:        models.UrlTypeVRDancing,
				DownloadFormat: models.DownloadFormatMP4,
			}, true
		}
	}

	if IsYouTubeURL(rawURL) {
		id := extractYouTubeID(rawURL)
		if id == "" {
			r.logger.Warn("could not parse video id", "url", rawURL)
			return nil, false
		}
		return &models.VideoInfo{
			VideoID:        id,
			VideoURL:       rawURL,
			UrlType:        models.UrlTypeYouTube,
			DownloadFormat: models.FormatFor(avPro),
		}, true
	}

	return &models.VideoInfo{
		VideoID:        HashURL(rawURL),
		VideoURL:       rawURL,
		UrlType:        models.UrlTypeOther,
		DownloadFormat: models.DownloadFormatMP4,
	}, true
}

func (r *Resolver) classifyPyPyDance(ctx context.Context, rawURL string) (*models.VideoInfo, bool) {
	final, err := r.followHead(ctx, rawURL)
	if err != nil || final == "" {
		r.logger.Error("failed to resolve PyPyDance URL", "url", rawURL, "error", err)
		return nil, false
	}

	u, err := url.Parse(final)
	if err != nil {
		r.logger.Error("invalid PyPyDance redirect", "url", rawURL, "target", final)
		return nil, false
	}

	id := path.Base(u.Path)
	if i := strings.Index(id, "."); i >= 0 {
		id = id[:i]
	}
	if id == "" || id == "/" || id == "." {
		r.logger.Error("PyPyDance redirect has no file name", "url", rawURL, "target", final)
		return nil, false
	}

	return &models.VideoInfo{
		VideoID:        id,
		VideoURL:       final,
		UrlType:        models.UrlTypePyPyDance,
		DownloadFormat: models.DownloadFormatMP4,
	}, true
}

// extractYouTubeID returns the 11-character id of a primary-host URL, or "".
func extractYouTubeID(rawURL string) string {
	var id string
	if m := youTubeRegex.FindStringSubmatch(rawURL); m != nil {
		id = m[1]
	} else {
		for _, prefix := range shortsPrefixes {
			if strings.HasPrefix(rawURL, prefix) {
				if u, err := url.Parse(rawURL); err == nil {
					parts := strings.Split(u.Path, "/")
					id = parts[len(parts)-1]
				}
				break
			}
		}
	}

	if len(id) > youTubeIDLength {
		id = id[:youTubeIDLength]
	}
	return id
}

// followHead issues a HEAD request, following redirects, and returns the
// final URL.
func (r *Resolver) followHead(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}
