package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/stretchr/testify/require"
)

func TestExecuteHTTPRetriesOn5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	executor := NewHTTPExecutor(DefaultHTTPExecutorConfig())
	resp, err := ExecuteHTTP(context.Background(), executor, func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		return http.DefaultClient.Do(req)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestExecuteHTTPDoesNotRetryOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	executor := NewHTTPExecutor(DefaultHTTPExecutorConfig())
	resp, err := ExecuteHTTP(context.Background(), executor, func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		return http.DefaultClient.Do(req)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestExecuteHTTPBoundsAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	executor := NewHTTPExecutor(DefaultHTTPExecutorConfig())
	resp, err := ExecuteHTTP(context.Background(), executor, func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		return http.DefaultClient.Do(req)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestExecutorBreakerOpensOnRepeated5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultHTTPExecutorConfig()
	cfg.WithBreaker = true
	executor := NewHTTPExecutor(cfg)

	call := func() error {
		resp, err := ExecuteHTTP(context.Background(), executor, func() (*http.Response, error) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			return http.DefaultClient.Do(req)
		})
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	var opened bool
	for i := 0; i < 10; i++ {
		if err := call(); errors.Is(err, circuitbreaker.ErrOpen) {
			opened = true
			break
		}
	}
	require.True(t, opened, "breaker never opened after sustained failures")

	// An open breaker fails fast without reaching the upstream.
	before := atomic.LoadInt32(&hits)
	require.ErrorIs(t, call(), circuitbreaker.ErrOpen)
	require.Equal(t, before, atomic.LoadInt32(&hits))
}
