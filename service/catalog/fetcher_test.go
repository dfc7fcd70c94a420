package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"propertyId":"villa-alpha","totalShares":100,"pricePerShare":"10","usdcMint":"` + devnetUSDC + `"}]`))
	}))
	defer srv.Close()

	configs, err := NewFetcher(srv.URL, srv.Client(), nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "villa-alpha", configs[0].PropertyID)
}

func TestFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, srv.Client(), nil).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestFetcher_InvalidCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"propertyId":"","totalShares":1,"pricePerShare":"1","usdcMint":"` + devnetUSDC + `"}]`))
	}))
	defer srv.Close()

	configs, err := NewFetcher(srv.URL, srv.Client(), nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Nil(t, configs)
}

func TestFetcher_FetchWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"propertyId":"villa-alpha","totalShares":100,"pricePerShare":"10","usdcMint":"` + devnetUSDC + `"}]`))
	}))
	defer srv.Close()

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	configs, err := NewFetcher(srv.URL, srv.Client(), nil).FetchWithRetry(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_FetchWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	_, err := NewFetcher(srv.URL, srv.Client(), nil).FetchWithRetry(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_FetchWithRetry_InvalidIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"propertyId":"villa","totalShares":0,"pricePerShare":"1","usdcMint":"` + devnetUSDC + `"}]`))
	}))
	defer srv.Close()

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	_, err := NewFetcher(srv.URL, srv.Client(), nil).FetchWithRetry(context.Background(), b)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, int32(1), calls.Load())
}
