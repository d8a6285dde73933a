// Package downloader runs the single background worker that fills the cache.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"videocacher/internal/cache"
	"videocacher/internal/metrics"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

var (
	ErrDownloadFailed = errors.New("download failed")
	ErrNoOutput       = errors.New("download produced no file")
)

// Resolver is the part of the identity resolver the worker drives
type Resolver interface {
	DownloadableID(ctx context.Context, rawURL string) (string, error)
	Download(ctx context.Context, videoID string, format models.DownloadFormat, outPath string) (ytdl.Result, error)
}

// Downloader owns the download queue and its single worker.
type Downloader struct {
	config   *models.Config
	store    *cache.Store
	resolver Resolver
	client   *http.Client
	queue    *queue
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDownloader creates a downloader. client is used for direct fetches;
// its redirect policy is replaced so exactly one redirect is followed.
func NewDownloader(config *models.Config, store *cache.Store, resolver Resolver, client *http.Client, logger *slog.Logger, m *metrics.Metrics) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	direct := *client
	direct.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		config:   config,
		store:    store,
		resolver: resolver,
		client:   &direct,
		queue:    newQueue(),
		logger:   logger.With("component", "downloader"),
		metrics:  m,
	}
}

// Enqueue schedules a background download. It returns false when the same
// (videoId, format) is already queued or in progress.
func (d *Downloader) Enqueue(info models.VideoInfo) bool {
	added := d.queue.push(info)
	if added {
		d.logger.Debug("queued download", "video_id", info.VideoID, "format", info.DownloadFormat, "platform", info.UrlType)
	}
	d.metrics.SetQueueDepth(d.queue.len())
	return added
}

// Contains reports whether the key is queued or being downloaded
func (d *Downloader) Contains(videoID string, format models.DownloadFormat) bool {
	return d.queue.contains(videoID, format)
}

// GetQueueLength returns the number of pending downloads, including the
// one in progress
func (d *Downloader) GetQueueLength() int {
	return d.queue.len()
}

// Run processes the queue until ctx is cancelled. The worker blocks while
// the queue is empty and finishes the current item before returning.
func (d *Downloader) Run(ctx context.Context) error {
	d.logger.Info("download worker started")
	defer d.logger.Info("download worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		item, ok := d.queue.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-d.queue.notify:
				continue
			}
		}

		d.process(ctx, item)
		d.queue.pop()
		d.metrics.SetQueueDepth(d.queue.len())
	}
}

// process runs one item. Failures and panics are logged, never returned.
func (d *Downloader) process(ctx context.Context, item models.VideoInfo) {
	attempt := attemptID()
	logger := d.logger.With("attempt", attempt, "video_id", item.VideoID, "platform", item.UrlType.String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("download panicked", "panic", r, "stack", string(debug.Stack()))
			d.metrics.Download(item.UrlType.String(), false)
		}
	}()

	var err error
	switch item.UrlType {
	case models.UrlTypeYouTube:
		if !d.config.CacheYouTube {
			return
		}
		err = d.downloadYouTube(ctx, logger, item)
	case models.UrlTypePyPyDance:
		if !d.config.CachePyPyDance {
			return
		}
		err = d.downloadDirect(ctx, logger, item)
	case models.UrlTypeVRDancing:
		if !d.config.CacheVRDancing {
			return
		}
		err = d.downloadDirect(ctx, logger, item)
	default:
		return
	}

	d.metrics.Download(item.UrlType.String(), err == nil)
	if err != nil {
		logger.Error("download failed", "url", item.VideoURL, "error", err)
	}
}

func (d *Downloader) downloadYouTube(ctx context.Context, logger *slog.Logger, item models.VideoInfo) error {
	videoID, err := d.resolver.DownloadableID(ctx, item.VideoURL)
	if err != nil {
		return fmt.Errorf("not downloading: %w", err)
	}

	d.clearTemp(logger)

	start := time.Now()
	logger.Info("downloading video", "url", item.VideoURL, "format", item.DownloadFormat.String())

	res, err := d.resolver.Download(ctx, videoID, item.DownloadFormat, d.store.TempPath(item.DownloadFormat))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%w: exit code %d: %s", ErrDownloadFailed, res.ExitCode, res.Stderr)
	}

	fileName := videoID + "." + item.DownloadFormat.Ext()
	if err := d.finish(logger, fileName); err != nil {
		return err
	}

	logger.Info("video downloaded", "file", fileName, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (d *Downloader) downloadDirect(ctx context.Context, logger *slog.Logger, item models.VideoInfo) error {
	d.clearTemp(logger)

	start := time.Now()
	logger.Info("downloading video", "url", item.VideoURL)

	resp, err := d.get(ctx, item.VideoURL)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc, lerr := resp.Location()
		resp.Body.Close()
		if lerr != nil {
			return fmt.Errorf("%w: redirect without location", ErrDownloadFailed)
		}
		logger.Info("following redirect", "location", loc.String())
		resp, err = d.get(ctx, loc.String())
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	tempPath := d.store.TempPath(models.DownloadFormatMP4)
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	fileName := item.VideoID + "." + item.DownloadFormat.Ext()
	if err := d.finish(logger, fileName); err != nil {
		return err
	}

	logger.Info("video downloaded", "file", fileName, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "VRCVideoCacher")
	return d.client.Do(req)
}

// finish moves whichever temp file exists into place and commits it.
// If the final name already exists the new download is discarded.
func (d *Downloader) finish(logger *slog.Logger, fileName string) error {
	finalPath := d.store.FilePath(fileName)

	if _, err := os.Stat(finalPath); err == nil {
		logger.Warn("file already cached, discarding download", "file", fileName)
		d.clearTemp(logger)
		return nil
	}

	var tempPath string
	for _, format := range []models.DownloadFormat{models.DownloadFormatMP4, models.DownloadFormatWebm} {
		p := d.store.TempPath(format)
		if _, err := os.Stat(p); err == nil {
			tempPath = p
			break
		}
	}
	if tempPath == "" {
		return ErrNoOutput
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to move download into cache: %w", err)
	}

	return d.store.Commit(fileName)
}

func (d *Downloader) clearTemp(logger *slog.Logger) {
	for _, format := range []models.DownloadFormat{models.DownloadFormatMP4, models.DownloadFormatWebm} {
		p := d.store.TempPath(format)
		if _, err := os.Stat(p); err == nil {
			logger.Warn("removing stale temp file", "path", p)
			os.Remove(p)
		}
	}
}

func attemptID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
