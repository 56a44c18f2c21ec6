package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// errNotReady marks a probe that got an answer outside [200,400).
type errNotReady struct{ status int }

func (e errNotReady) Error() string { return fmt.Sprintf("status %d", e.status) }

// ReadinessPoller probes a URL until it answers with a 2xx or 3xx status.
type ReadinessPoller struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	client       *http.Client
}

// NewReadinessPoller returns a poller with the given cadence.
func NewReadinessPoller(interval, probeTimeout time.Duration) *ReadinessPoller {
	return &ReadinessPoller{
		Interval:     interval,
		ProbeTimeout: probeTimeout,
		client: &http.Client{
			// A redirect already proves the server is up.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// ErrReadyTimeout is wrapped by Wait when the deadline passes.
var ErrReadyTimeout = errors.New("readiness timeout")

// ErrProcessExited is returned by Wait when abort closes first.
var ErrProcessExited = errors.New("process exited before becoming ready")

// Wait polls url until it is ready, timeout elapses, ctx ends or abort
// closes. Network errors and bad statuses before the deadline are retried.
// It never reports a timeout before timeout has elapsed, and never probes
// after it.
func (p *ReadinessPoller) Wait(ctx context.Context, url string, timeout time.Duration, abort <-chan struct{}) (attempts int, err error) {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-abort:
			return attempts, ErrProcessExited
		case <-timer.C:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return attempts, fmt.Errorf("%w (%dms)", ErrReadyTimeout, timeout.Milliseconds())
		}
		attempts++
		if p.probe(ctx, url, min(p.ProbeTimeout, remaining)) == nil {
			return attempts, nil
		}

		wait := min(p.Interval, time.Until(deadline))
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (p *ReadinessPoller) probe(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return errNotReady{status: resp.StatusCode}
	}
	return nil
}
