package videoid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"videocacher/internal/metrics"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

const userAgent = "VRCVideoCacher"

// prefetchBytes is how much of a resolved stream is read before answering.
const prefetchBytes = 64 << 10

var (
	ErrSearchQuery     = errors.New("url is a search query, no video to resolve")
	ErrResolverFailed  = errors.New("resolver exited with an error")
	ErrEmptyOutput     = errors.New("resolver returned no output")
	ErrMissingMetadata = errors.New("resolver metadata is missing id or duration")
	ErrLiveStream      = errors.New("video is a live stream")
	ErrTooLong         = errors.New("video exceeds the configured maximum length")
)

// Resolver modes, used as metric labels.
const (
	modeGetURL       = "get-url"
	modeMetadata     = "metadata"
	modeDownloadable = "downloadable"
	modeDownload     = "download"
)

// Resolver classifies URLs and runs the resolver tool with
// platform and capability specific arguments.
type Resolver struct {
	cfg       *models.Config
	runner    ytdl.Runner
	cookies   *ytdl.CookieJar
	client    *http.Client
	limiter   *rate.Limiter
	extraArgs []string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewResolver builds a Resolver. cfg is a snapshot taken at startup.
func NewResolver(cfg *models.Config, runner ytdl.Runner, cookies *ytdl.CookieJar, client *http.Client, logger *slog.Logger, m *metrics.Metrics) (*Resolver, error) {
	extra, err := ytdl.SplitArgs(cfg.YtdlAdditionalArgs)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.YtdlRateLimit > 0 {
		limit = rate.Limit(cfg.YtdlRateLimit)
	}

	return &Resolver{
		cfg:       cfg,
		runner:    runner,
		cookies:   cookies,
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		extraArgs: extra,
		logger:    logger.With("component", "resolver"),
		metrics:   m,
	}, nil
}

// ResolveDirectURL asks the resolver for a directly playable URL. On failure
// the returned text is the diagnostic to show the caller.
func (r *Resolver) ResolveDirectURL(ctx context.Context, info *models.VideoInfo, avPro bool) (string, bool) {
	if info.UrlType == models.UrlTypeYouTube && strings.Contains(info.VideoURL, "results?") {
		return ErrSearchQuery.Error(), false
	}

	args := []string{"--encoding", "utf-8", "-f", r.directSelector(avPro)}
	if avPro {
		args = append(args, "--impersonate=safari", "--extractor-args=youtube:player_client=web")
	}
	args = append(args, "--no-playlist", "--no-warnings")
	args = append(args, r.cookieArgs()...)
	args = append(args, r.extraArgs...)
	args = append(args, "--get-url", info.VideoURL)

	res, err := r.run(ctx, modeGetURL, args)
	if err != nil {
		return err.Error(), false
	}
	if !res.OK() {
		return strings.TrimSpace(res.Stderr), false
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return ErrEmptyOutput.Error(), false
	}
	return out, true
}

// ResolveFullMetadata returns the resolver's flat JSON dump for url, or ""
// when the resolver fails.
func (r *Resolver) ResolveFullMetadata(ctx context.Context, rawURL string) string {
	args := []string{"--flat-playlist", "-i", "-J", "-s", "--no-playlist"}
	if lang := r.cfg.YtdlDubLanguage; lang != "" {
		args = append(args, "-f", fmt.Sprintf("[language=%s]", lang))
	}
	args = append(args, "--impersonate=safari", "--extractor-args=youtube:player_client=web", "--no-warnings")
	args = append(args, r.cookieArgs()...)
	args = append(args, r.extraArgs...)
	args = append(args, rawURL)

	res, err := r.run(ctx, modeMetadata, args)
	if err != nil || !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

type downloadableMetadata struct {
	ID       string   `json:"id"`
	Duration *float64 `json:"duration"`
	IsLive   *bool    `json:"is_live"`
}

// DownloadableID fetches the platform-native id of url and checks that
// it is a finite video within the configured length limit.
func (r *Resolver) DownloadableID(ctx context.Context, rawURL string) (string, error) {
	args := []string{"--encoding", "utf-8", "--no-playlist", "--no-warnings"}
	args = append(args, r.extraArgs...)
	args = append(args, r.cookieArgs()...)
	args = append(args, "-j", rawURL)

	res, err := r.run(ctx, modeDownloadable, args)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("%w: %s", ErrResolverFailed, strings.TrimSpace(res.Stderr))
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return "", ErrEmptyOutput
	}

	var meta downloadableMetadata
	if err := json.Unmarshal([]byte(res.Stdout), &meta); err != nil {
		return "", fmt.Errorf("failed to parse resolver metadata: %w", err)
	}
	if meta.ID == "" || meta.Duration == nil {
		return "", ErrMissingMetadata
	}
	if meta.IsLive != nil && *meta.IsLive {
		return "", ErrLiveStream
	}
	if maxLen := r.cfg.CacheYouTubeMaxLength; maxLen > 0 && *meta.Duration > float64(maxLen*60) {
		return "", fmt.Errorf("%w: %.0f/%d minutes", ErrTooLong, *meta.Duration/60, maxLen)
	}

	return meta.ID, nil
}

// Download runs the resolver in download mode for a platform-native id,
// writing to outPath.
func (r *Resolver) Download(ctx context.Context, videoID string, format models.DownloadFormat, outPath string) (ytdl.Result, error) {
	args := []string{"--encoding", "utf-8", "-q", "-o", outPath, "-f", r.downloadSelector(format),
		"--no-mtime", "--no-playlist"}
	if format == models.DownloadFormatMP4 {
		args = append(args, "--remux-video", "mp4")
	}
	args = append(args, "--no-progress")
	args = append(args, r.cookieArgs()...)
	args = append(args, r.extraArgs...)
	args = append(args, "--", videoID)

	return r.run(ctx, modeDownload, args)
}

// RedirectURL follows rawURL with HEAD and returns the final URL, or "" if
// the final response was not successful.
func (r *Resolver) RedirectURL(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("redirect lookup failed", "url", rawURL, "error", err)
		return ""
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}
	return resp.Request.URL.String()
}

// Prefetch reads the first bytes of a resolved stream so the upstream sees
// a player-like access pattern before the client connects.
func (r *Resolver) Prefetch(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", prefetchBytes-1))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("prefetch failed: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.CopyN(io.Discard, resp.Body, prefetchBytes); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("prefetch read failed: %w", err)
	}
	return nil
}

func (r *Resolver) run(ctx context.Context, mode string, args []string) (ytdl.Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ytdl.Result{}, err
	}

	r.logger.Debug("starting resolver", "mode", mode, "args", args)

	res, err := r.runner.Run(ctx, args...)
	if err != nil {
		r.metrics.Resolution(mode, false)
		r.logger.Error("resolver failed to start", "mode", mode, "error", err)
		return res, err
	}

	r.metrics.Resolution(mode, res.OK())
	if !res.OK() {
		r.logger.Warn("resolver exited with error", "mode", mode, "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
		if ytdl.IsBotCheck(res.Stderr) {
			r.logger.Error(ytdl.BotCheckHint)
		}
	}
	return res, nil
}

func (r *Resolver) cookieArgs() []string {
	return r.cookies.Args(r.cfg.YtdlUseCookies)
}

func (r *Resolver) directSelector(avPro bool) string {
	base := fmt.Sprintf("(mp4/best)[height<=?%d][height>=?64][width>=?64]", r.cfg.CacheYouTubeMaxRes)
	if !avPro {
		return fmt.Sprintf("(mp4/best)[vcodec!=av01][vcodec!=vp9.2][height<=?%d][height>=?64][width>=?64][protocol^=http]", r.cfg.CacheYouTubeMaxRes)
	}
	if lang := r.cfg.YtdlDubLanguage; lang != "" {
		return base + fmt.Sprintf("[language=%s]/", lang) + base
	}
	return base
}

func (r *Resolver) downloadSelector(format models.DownloadFormat) string {
	res := r.cfg.CacheYouTubeMaxRes
	lang := r.cfg.YtdlDubLanguage

	if format == models.DownloadFormatWebm {
		audio := "+ba[acodec=opus][ext=webm]"
		if lang != "" {
			audio = fmt.Sprintf("+(ba[acodec=opus][ext=webm][language=%s]/ba[acodec=opus][ext=webm])", lang)
		}
		return fmt.Sprintf("bv*[height<=%d][vcodec~='^av01'][ext=mp4][dynamic_range='SDR']%s/bv*[height<=%d][vcodec~='vp9'][ext=webm][dynamic_range='SDR']%s",
			res, audio, res, audio)
	}

	audio := "+ba[ext=m4a]"
	if lang != "" {
		audio = fmt.Sprintf("+(ba[ext=m4a][language=%s]/ba[ext=m4a])", lang)
	}
	return fmt.Sprintf("bv*[height<=%d][vcodec~='^(avc|h264)']%s/bv*[height<=%d][vcodec~='^av01'][dynamic_range='SDR']",
		res, audio, res)
}
