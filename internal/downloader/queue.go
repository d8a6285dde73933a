package downloader

import (
	"sync"

	"videocacher/pkg/models"
)

type queueKey struct {
	videoID string
	format  models.DownloadFormat
}

// queue is a FIFO of pending downloads with (videoId, format) dedup.
// The head stays queued while the worker processes it, so a request that
// arrives mid-download is still deduplicated.
type queue struct {
	mu      sync.Mutex
	items   []models.VideoInfo
	pending map[queueKey]bool
	notify  chan struct{}
}

func newQueue() *queue {
	return &queue{
		pending: make(map[queueKey]bool),
		notify:  make(chan struct{}, 1),
	}
}

func keyOf(info models.VideoInfo) queueKey {
	return queueKey{videoID: info.VideoID, format: info.DownloadFormat}
}

// push appends info unless an equal key is already queued
func (q *queue) push(info models.VideoInfo) bool {
	q.mu.Lock()
	k := keyOf(info)
	if q.pending[k] {
		q.mu.Unlock()
		return false
	}
	q.pending[k] = true
	q.items = append(q.items, info)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) peek() (models.VideoInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.VideoInfo{}, false
	}
	return q.items[0], true
}

// pop drops the head, which must be the item returned by the last peek
func (q *queue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	delete(q.pending, keyOf(q.items[0]))
	q.items[0] = models.VideoInfo{}
	q.items = q.items[1:]
}

func (q *queue) contains(videoID string, format models.DownloadFormat) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[queueKey{videoID: videoID, format: format}]
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
