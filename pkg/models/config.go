package models

// Config represents the application configuration
type Config struct {
	WebServerURL          string   `json:"webServerUrl"`
	WebServerPort         int      `json:"webServerPort"`
	YtdlPath              string   `json:"ytdlPath"`
	YtdlUseCookies        bool     `json:"ytdlUseCookies"`
	YtdlAutoUpdate        bool     `json:"ytdlAutoUpdate"`
	YtdlAdditionalArgs    string   `json:"ytdlAdditionalArgs"`
	YtdlDubLanguage       string   `json:"ytdlDubLanguage"`
	YtdlDelay             int      `json:"ytdlDelay"`
	YtdlRateLimit         float64  `json:"ytdlRateLimit"`
	CachePath             string   `json:"cachePath"`
	BlockedURLs           []string `json:"blockedUrls"`
	BlockRedirect         string   `json:"blockRedirect"`
	CacheYouTube          bool     `json:"cacheYouTube"`
	CacheYouTubeMaxRes    int      `json:"cacheYouTubeMaxRes"`
	CacheYouTubeMaxLength int      `json:"cacheYouTubeMaxLength"`
	CacheMaxSizeGB        float64  `json:"cacheMaxSizeGb"`
	CachePyPyDance        bool     `json:"cachePyPyDance"`
	CacheVRDancing        bool     `json:"cacheVRDancing"`
	PatchVRC              bool     `json:"patchVRC"`
	PatchResonite         bool     `json:"patchResonite"`
	ResonitePath          string   `json:"resonitePath"`
	StubPath              string   `json:"stubPath"`
	AutoUpdate            bool     `json:"autoUpdate"`
	PreCacheURLs          []string `json:"preCacheUrls"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		WebServerURL:          "http://localhost:9696",
		WebServerPort:         9696,
		YtdlPath:              "Utils/yt-dlp.exe",
		YtdlUseCookies:        true,
		YtdlAutoUpdate:        true,
		YtdlAdditionalArgs:    "",
		YtdlDubLanguage:       "",
		YtdlDelay:             0,
		YtdlRateLimit:         0,
		CachePath:             "",
		BlockedURLs:           []string{"https://na2.vrdancing.club/sampleurl.mp4"},
		BlockRedirect:         "https://www.youtube.com/watch?v=byv2bKekeWQ",
		CacheYouTube:          false,
		CacheYouTubeMaxRes:    1080,
		CacheYouTubeMaxLength: 120,
		CacheMaxSizeGB:        0,
		CachePyPyDance:        false,
		CacheVRDancing:        false,
		PatchVRC:              true,
		PatchResonite:         false,
		ResonitePath:          "",
		StubPath:              "",
		AutoUpdate:            true,
		PreCacheURLs:          []string{},
	}
}

// MaxCacheBytes converts the configured GB budget to bytes. 0 means unbounded.
func (c *Config) MaxCacheBytes() int64 {
	return int64(c.CacheMaxSizeGB * 1024 * 1024 * 1024)
}
