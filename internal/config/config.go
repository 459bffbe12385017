package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds resolver + capture + relay settings.
// Load from env; call LoadEnvFile(".env") first to use a .env file.
type Config struct {
	// HTTP server
	Addr    string // e.g. :5000
	BaseURL string // e.g. http://192.168.1.10:5000; used in logs only

	// Catalog (TMDb)
	TMDBAPIKey  string
	TMDBBaseURL string // override for tests; default https://api.themoviedb.org/3

	// Embed source
	EmbedBaseURL string // e.g. https://vsrc.su
	UserAgent    string // browser-identifying UA for all outbound fetches

	// Outbound fetches
	RequestTimeout time.Duration // manifest/segment/catalog fetches

	// Browser capture
	PageLoadTimeout      time.Duration // navigation budget per attempt
	CaptureRetryCount    int           // full session attempts
	CapturePollInterval  time.Duration // latch poll period
	CapturePollBudget    int           // poll iterations per attempt
	InteractionSelectors []string      // ordered play-button selectors
	ChromePath           string        // optional explicit browser binary

	// Playlist relay
	CacheTTL time.Duration // rewritten playlist freshness window
}

// DefaultSelectors is the ordered list of player UI elements tried before
// falling back to a coordinate click inside the video region.
var DefaultSelectors = []string{"button.vjs-play-control", ".jw-icon-play", ".play-btn", "video"}

// Load reads config from environment with defaults matching the shipped
// deployment. Zero-value durations are never returned.
func Load() *Config {
	c := &Config{
		Addr:                 getEnv("FLEX_STREAM_ADDR", ":5000"),
		BaseURL:              os.Getenv("FLEX_STREAM_BASE_URL"),
		TMDBAPIKey:           os.Getenv("FLEX_STREAM_TMDB_API_KEY"),
		TMDBBaseURL:          getEnv("FLEX_STREAM_TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		EmbedBaseURL:         getEnv("FLEX_STREAM_EMBED_BASE_URL", "https://vsrc.su"),
		UserAgent:            getEnv("FLEX_STREAM_USER_AGENT", "Mozilla/5.0"),
		RequestTimeout:       getEnvDuration("FLEX_STREAM_REQUEST_TIMEOUT", 15*time.Second),
		PageLoadTimeout:      getEnvDuration("FLEX_STREAM_PAGE_LOAD_TIMEOUT", 30*time.Second),
		CaptureRetryCount:    getEnvInt("FLEX_STREAM_CAPTURE_RETRIES", 3),
		CapturePollInterval:  getEnvDuration("FLEX_STREAM_CAPTURE_POLL_INTERVAL", 500*time.Millisecond),
		CapturePollBudget:    getEnvInt("FLEX_STREAM_CAPTURE_POLL_BUDGET", 30),
		InteractionSelectors: getEnvList("FLEX_STREAM_INTERACTION_SELECTORS", DefaultSelectors),
		ChromePath:           os.Getenv("FLEX_STREAM_CHROME_PATH"),
		CacheTTL:             getEnvDuration("FLEX_STREAM_CACHE_TTL", 5*time.Second),
	}
	if c.CaptureRetryCount <= 0 {
		c.CaptureRetryCount = 3
	}
	if c.CapturePollBudget <= 0 {
		c.CapturePollBudget = 30
	}
	if c.CapturePollInterval <= 0 {
		c.CapturePollInterval = 500 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Second
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated env value, trimming blanks.
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
