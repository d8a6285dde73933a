package models

import "time"

// VideoInfo is the canonical identity of a resolvable item.
// It is built once per request and never mutated afterwards.
type VideoInfo struct {
	VideoID        string         `json:"videoId"`
	VideoURL       string         `json:"videoUrl"`
	UrlType        UrlType        `json:"urlType"`
	DownloadFormat DownloadFormat `json:"downloadFormat"`
}

// FileName returns the cache file name for this item.
func (v VideoInfo) FileName() string {
	return v.VideoID + "." + v.DownloadFormat.Ext()
}

// UrlType represents the platform family of a video URL
type UrlType int

const (
	UrlTypeOther UrlType = iota
	UrlTypeYouTube
	UrlTypePyPyDance
	UrlTypeVRDancing
)

func (t UrlType) String() string {
	switch t {
	case UrlTypeYouTube:
		return "youtube"
	case UrlTypePyPyDance:
		return "pypydance"
	case UrlTypeVRDancing:
		return "vrdancing"
	default:
		return "other"
	}
}

// DownloadFormat represents the video download format
type DownloadFormat int

const (
	DownloadFormatMP4 DownloadFormat = iota
	DownloadFormatWebm
)

func (f DownloadFormat) String() string {
	switch f {
	case DownloadFormatMP4:
		return "mp4"
	case DownloadFormatWebm:
		return "webm"
	default:
		return "unknown"
	}
}

// Ext returns the file extension without the leading dot.
// Unknown formats fall back to mp4.
func (f DownloadFormat) Ext() string {
	if f == DownloadFormatWebm {
		return "webm"
	}
	return "mp4"
}

// FormatFor picks the container for an AV-capable or standard client.
func FormatFor(avPro bool) DownloadFormat {
	if avPro {
		return DownloadFormatWebm
	}
	return DownloadFormatMP4
}

// CacheEntry represents a cached video file
type CacheEntry struct {
	ID         string    `json:"id"`
	FileName   string    `json:"filename"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"lastAccess"`
}
