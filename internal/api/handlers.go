package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"videocacher/internal/videoid"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

var ErrNoURL = errors.New("no URL provided")

// maxCookieBytes bounds the cookie upload body
const maxCookieBytes = 1 << 20

const (
	legacyRedirector = "https://dmn.moe"
	sourceResonite   = "resonite"
	lowResThreshold  = 360
)

// skipPrefixes are hosts whose players already get playable URLs.
var skipPrefixes = []string{
	"https://mightygymcdn.nyc3.cdn.digitaloceanspaces.com",
	"https://virtualfilm.institute",
}

// Request outcomes, used as metric labels.
const (
	outcomeBadRequest   = "bad_request"
	outcomeUnclassified = "unclassified"
	outcomeCacheHit     = "cache_hit"
	outcomeSkipped      = "skipped"
	outcomeMetadata     = "metadata"
	outcomeResolved     = "resolved"
	outcomeFailed       = "resolve_failed"
)

// handleGetVideo resolves a playable URL for the requesting player,
// serving from the cache when possible and queueing a download otherwise.
func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	requestURL := strings.TrimSpace(strings.ReplaceAll(query.Get("url"), `"`, "%22"))
	avPro := strings.EqualFold(query.Get("avpro"), "true")
	source := query.Get("source")

	if requestURL == "" {
		s.metrics.Request(outcomeBadRequest)
		http.Error(w, ErrNoURL.Error(), http.StatusBadRequest)
		return
	}

	logger := s.logger.With("url", requestURL, "avpro", avPro)
	logger.Info("video requested", "source", source)

	if strings.HasPrefix(requestURL, legacyRedirector) {
		requestURL = strings.ReplaceAll(requestURL, "/sr/", "/yt/")
		if resolved := s.resolver.RedirectURL(ctx, requestURL); resolved != "" {
			logger.Info("legacy redirect resolved", "target", resolved)
			requestURL = resolved
		} else {
			logger.Warn("legacy redirect could not be resolved", "rewritten", requestURL)
		}
	}

	if s.isBlocked(requestURL) {
		logger.Warn("url is blocked, substituting fallback", "fallback", s.config.BlockRedirect)
		requestURL = s.config.BlockRedirect
	}

	info, ok := s.resolver.Classify(ctx, requestURL, avPro)
	if !ok {
		logger.Info("no video id, playing original")
		s.metrics.Request(outcomeUnclassified)
		writeText(w, http.StatusOK, "")
		return
	}
	logger = logger.With("video_id", info.VideoID, "platform", info.UrlType.String())

	if fileName, hit := s.cache.Lookup(info.VideoID, avPro); hit {
		s.metrics.CacheLookup(true)
		if err := s.cache.Touch(fileName); err != nil {
			logger.Warn("failed to refresh cache entry", "error", err)
		}
		cachedURL := s.config.WebServerURL + "/" + fileName
		logger.Info("responding with cached url", "response", cachedURL)
		s.metrics.Request(outcomeCacheHit)
		writeText(w, http.StatusOK, cachedURL)
		return
	}
	s.metrics.CacheLookup(false)

	if isSkipped(requestURL) {
		logger.Info("host handles playback itself, skipping")
		s.metrics.Request(outcomeSkipped)
		writeText(w, http.StatusOK, "")
		return
	}

	if source == sourceResonite {
		out := s.resolver.ResolveFullMetadata(ctx, requestURL)
		if out != "" && videoid.IsYouTubeURL(requestURL) {
			s.delay(r, logger)
		}
		s.metrics.Request(outcomeMetadata)
		writeText(w, http.StatusOK, out)
		return
	}

	if s.config.CacheYouTubeMaxRes <= lowResThreshold {
		avPro = false
	}
	if strings.HasPrefix(requestURL, "https://anime.illumination.media") {
		avPro = true
	}

	response, ok := s.resolver.ResolveDirectURL(ctx, info, avPro)
	if !ok {
		logger.Error("failed to resolve url", "error", response)
		if info.UrlType == models.UrlTypeYouTube {
			s.metrics.Request(outcomeFailed)
			writeText(w, http.StatusInternalServerError, response)
			return
		}
		response = ""
	}

	if needsPrefetch(info, response) {
		if response != "" {
			if err := s.resolver.Prefetch(ctx, response); err != nil {
				logger.Warn("prefetch failed", "error", err)
			}
		}
		s.delay(r, logger)
	}

	logger.Info("responding with resolved url", "response", response)
	if ok {
		s.metrics.Request(outcomeResolved)
	} else {
		s.metrics.Request(outcomeFailed)
	}
	writeText(w, http.StatusOK, response)
	if f, canFlush := w.(http.Flusher); canFlush {
		f.Flush()
	}

	// A concurrent request may have finished the download meanwhile
	if _, hit := s.cache.Lookup(info.VideoID, avPro); !hit {
		s.queue.Enqueue(*info)
	}
}

// handleYouTubeCookies stores a cookie jar uploaded by the browser extension
func (s *Server) handleYouTubeCookies(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCookieBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := s.cookies.Save(string(body)); err != nil {
		if errors.Is(err, ytdl.ErrInvalidCookies) {
			s.logger.Warn("received invalid cookies, not saved")
			http.Error(w, "Invalid cookies", http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to save cookies", "error", err)
		http.Error(w, "Failed to save cookies", http.StatusInternalServerError)
		return
	}

	s.logger.Info("received cookies from browser extension")
	if !s.config.YtdlUseCookies {
		s.logger.Warn("cookies received but ytdlUseCookies is disabled")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cookies received",
	})
}

func (s *Server) isBlocked(rawURL string) bool {
	for _, prefix := range s.config.BlockedURLs {
		if prefix != "" && strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

// delay waits out the configured response delay, if any
func (s *Server) delay(r *http.Request, logger *slog.Logger) {
	if s.config.YtdlDelay <= 0 {
		return
	}
	logger.Info("delaying response", "seconds", s.config.YtdlDelay)
	s.sleep(r.Context(), time.Duration(s.config.YtdlDelay)*time.Second)
}

func isSkipped(rawURL string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	if strings.Contains(rawURL, ".imvrcdn.com") {
		return true
	}
	return strings.Contains(rawURL, ".illumination.media") &&
		!strings.HasPrefix(rawURL, "https://yt.illumination.media") &&
		!strings.HasPrefix(rawURL, "https://anime.illumination.media")
}

// needsPrefetch reports whether the answer points at the primary host's
// media servers, which reject players that fetch the manifest too quickly.
func needsPrefetch(info *models.VideoInfo, resolved string) bool {
	return info.UrlType == models.UrlTypeYouTube ||
		strings.Contains(info.VideoURL, "googlevideo.com") ||
		strings.Contains(resolved, "googlevideo.com")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
