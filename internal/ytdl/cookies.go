package ytdl

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrInvalidCookies = errors.New("invalid cookies")

// CookieJar is the Netscape cookie file handed to the resolver.
type CookieJar struct {
	mu   sync.Mutex
	path string
}

func NewCookieJar(path string) *CookieJar {
	return &CookieJar{path: path}
}

func (j *CookieJar) Path() string {
	return j.path
}

// ValidCookies accepts a cookie document only if it carries a YouTube
// login cookie.
func ValidCookies(text string) bool {
	return strings.Contains(text, "youtube.com") && strings.Contains(text, "LOGIN_INFO")
}

// Save replaces the cookie file atomically.
func (j *CookieJar) Save(text string) error {
	if !ValidCookies(text) {
		return ErrInvalidCookies
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cookies: %w", err)
	}
	return nil
}

// Usable reports whether the stored file exists and passes validation.
func (j *CookieJar) Usable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		return false
	}
	return ValidCookies(string(data))
}

// Args returns the resolver flags for the jar, or nothing when cookies are
// disabled or the file is missing or invalid.
func (j *CookieJar) Args(enabled bool) []string {
	if j == nil || !enabled || !j.Usable() {
		return nil
	}
	return []string{"--cookies", j.path}
}
