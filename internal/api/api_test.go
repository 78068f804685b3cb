package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGETParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "value", r.Header.Get("X-Test"))
		w.Write([]byte(`{"name":"eurusd"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(2 * time.Second))
	resp, err := c.GET(context.Background(), srv.URL, map[string]string{"X-Test": "value"})
	require.NoError(t, err)

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, resp.ParseJSON(&out))
	assert.Equal(t, "eurusd", out.Name)
}

func TestErrorStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.GET(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}

func TestBaseURLAndDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHeader("Authorization", "token"))
	resp, err := c.GET(context.Background(), "/v1/events")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.String())
}

func TestDoWithRetryRecovers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`done`))
	}))
	defer srv.Close()

	c := NewClient()
	req := NewRequest(http.MethodGet, srv.URL).WithContext(context.Background())
	resp, err := c.DoWithRetry(req, &RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.String())
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestDoWithRetryGivesUp(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient()
	req := NewRequest(http.MethodGet, srv.URL).WithContext(context.Background())
	_, err := c.DoWithRetry(req, &RetryConfig{
		MaxAttempts: 2,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
	})
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}
