package es

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Environment variables consulted when explicit options are absent.
// An API key wins over basic auth when both are set.
const (
	EnvURL      = `ES_URL`
	EnvAPIKey   = `ES_API_KEY`
	EnvUsername = `ES_USERNAME`
	EnvPassword = `ES_PASSWORD`
)

// Options configure a Client.
type Options struct {
	// URL is the store root, e.g. "http://localhost:9200".
	URL string
	// APIKey is sent as "Authorization: ApiKey …" when set.
	APIKey string
	// Username/Password select basic auth when APIKey is empty.
	Username string
	Password string

	// RetryAttempts bounds retries for retryable statuses; 0 means
	// DefaultRetryAttempts.
	RetryAttempts int
	// RetryBackoff is the fixed pause between retries. No jitter:
	// determinism is preferred over thundering-herd avoidance here.
	RetryBackoff time.Duration
	// ChunkSize caps documents per bulk frame; 0 means
	// datastore.DefaultChunkSize.
	ChunkSize int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Client overrides the http.Client used for requests.
	Client *http.Client
	// Limiter optionally rate-limits outbound requests.
	Limiter *rate.Limiter
}

// Defaults for unset options.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 250 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
)

// FromEnv resolves unset connection options from the environment.
func (o *Options) fromEnv() {
	if o.URL == "" {
		o.URL = os.Getenv(EnvURL)
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv(EnvAPIKey)
	}
	if o.Username == "" {
		o.Username = os.Getenv(EnvUsername)
	}
	if o.Password == "" {
		o.Password = os.Getenv(EnvPassword)
	}
}

func (o *Options) validate() error {
	if o.URL == "" {
		return fmt.Errorf("es: no store URL provided (set %s or Options.URL)", EnvURL)
	}
	if _, err := url.Parse(o.URL); err != nil {
		return fmt.Errorf("es: bad store URL: %w", err)
	}
	return nil
}
