package launcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessPoller_BecomesReady(t *testing.T) {
	readyAt := time.Now().Add(300 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if time.Now().Before(readyAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewReadinessPoller(50*time.Millisecond, time.Second)
	attempts, err := p.Wait(context.Background(), srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	assert.Greater(t, attempts, 1)
}

func TestReadinessPoller_RedirectCountsAsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere-that-404s", http.StatusFound)
	}))
	defer srv.Close()

	attempts, err := NewReadinessPoller(20*time.Millisecond, time.Second).Wait(context.Background(), srv.URL, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestReadinessPoller_TimesOutNoEarlierThanDeadline(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	const (
		interval = 50 * time.Millisecond
		slack    = 150 * time.Millisecond
	)
	timeout := 300 * time.Millisecond
	start := time.Now()
	_, err := NewReadinessPoller(interval, time.Second).Wait(context.Background(), srv.URL, timeout, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadyTimeout))
	assert.Contains(t, err.Error(), "300ms")
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+slack)
	assert.GreaterOrEqual(t, probes.Load(), int32(2))
}

func TestReadinessPoller_AbortWhenProcessExits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	abort := make(chan struct{})
	time.AfterFunc(100*time.Millisecond, func() { close(abort) })

	start := time.Now()
	_, err := NewReadinessPoller(20*time.Millisecond, time.Second).Wait(context.Background(), srv.URL, 10*time.Second, abort)
	assert.ErrorIs(t, err, ErrProcessExited)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadinessPoller_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReadinessPoller(20*time.Millisecond, time.Second).Wait(ctx, "http://127.0.0.1:1/", time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
