package garmin

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestConsumerSource(srv *httptest.Server, override *Consumer) *ConsumerSource {
	s := NewConsumerSource(srv.Client(), override, slog.New(slog.DiscardHandler))
	s.url = srv.URL
	return s
}

func TestConsumerSource_FetchesOnce(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"consumer_key":"remote-key","consumer_secret":"remote-secret"}`))
	}))
	defer srv.Close()

	s := newTestConsumerSource(srv, nil)

	for range 3 {
		c := s.Get(context.Background())
		assert.Equal(t, "remote-key", c.Key)
		assert.Equal(t, "remote-secret", c.Secret)
	}

	assert.Equal(t, int32(1), hits.Load())
}

func TestConsumerSource_FallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestConsumerSource(srv, nil)

	c := s.Get(context.Background())
	assert.Equal(t, fallbackConsumerKey, c.Key)
	assert.Equal(t, fallbackConsumerSecret, c.Secret)
}

func TestConsumerSource_FallbackOnMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"consumer_key":""}`))
	}))
	defer srv.Close()

	s := newTestConsumerSource(srv, nil)

	c := s.Get(context.Background())
	assert.Equal(t, fallbackConsumerKey, c.Key)
}

func TestConsumerSource_FallbackCached(t *testing.T) {
	// The first Get resolves the fallback; a later Get must not retry the
	// network even though the server has recovered.
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"consumer_key":"late","consumer_secret":"late"}`))
	}))
	defer srv.Close()

	s := newTestConsumerSource(srv, nil)

	first := s.Get(context.Background())
	second := s.Get(context.Background())

	assert.Equal(t, fallbackConsumerKey, first.Key)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestConsumerSource_OverrideSkipsNetwork(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	s := newTestConsumerSource(srv, &Consumer{Key: "local", Secret: "secret"})

	c := s.Get(context.Background())
	assert.Equal(t, "local", c.Key)
	assert.Equal(t, int32(0), hits.Load())
}
