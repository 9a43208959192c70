package garmin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// consumerURL is the distribution endpoint for the shared OAuth consumer
// credentials.
const consumerURL = "https://thegarth.s3.amazonaws.com/oauth_consumer.json"

// Fallback consumer pair, used when the distribution endpoint is
// unreachable or returns garbage. Login keeps working without network
// access to the distribution bucket.
const (
	fallbackConsumerKey    = "fc3e99d2-118c-44b8-8ae3-03370dde24c0"
	fallbackConsumerSecret = "E08WAR897WEy2knn7aFBrvegVAf0AFdWBBF"
)

// ConsumerSource resolves the OAuth consumer credentials at most once and
// caches whichever value was resolved, fetched or fallback, for its
// lifetime. The cache is never invalidated: if the fetch failed and the
// fallback was used, later calls do not retry the network. Construct one
// source per process; tests construct fresh sources to reset the cache.
type ConsumerSource struct {
	httpClient *http.Client
	url        string
	override   *Consumer
	logger     *slog.Logger

	once     sync.Once
	resolved Consumer
}

// NewConsumerSource creates a source. A non-nil override short-circuits
// both the network fetch and the cache. A nil httpClient gets a default
// with a 10 second timeout.
func NewConsumerSource(httpClient *http.Client, override *Consumer, logger *slog.Logger) *ConsumerSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConsumerSource{
		httpClient: httpClient,
		url:        consumerURL,
		override:   override,
		logger:     logger,
	}
}

// Get returns the consumer credentials. It performs at most one outbound
// GET over the lifetime of the source.
func (s *ConsumerSource) Get(ctx context.Context) Consumer {
	if s.override != nil {
		return *s.override
	}

	s.once.Do(func() {
		s.resolved = s.fetch(ctx)
	})

	return s.resolved
}

func (s *ConsumerSource) fetch(ctx context.Context) Consumer {
	fallback := Consumer{Key: fallbackConsumerKey, Secret: fallbackConsumerSecret}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fallback
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("consumer fetch failed, using fallback", slog.String("error", err.Error()))
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("consumer fetch non-OK, using fallback", slog.Int("status", resp.StatusCode))
		return fallback
	}

	var c Consumer
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil || c.Key == "" || c.Secret == "" {
		s.logger.Debug("consumer document malformed, using fallback")
		return fallback
	}

	return c
}
