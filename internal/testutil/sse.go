package testutil

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	ID    string
	Event string
	Data  string
}

// SSEReader parses a text/event-stream body.
type SSEReader struct {
	body   io.ReadCloser
	events chan SSEEvent
	errs   chan error
}

// NewSSEReader starts reading body in the background.
func NewSSEReader(body io.ReadCloser) *SSEReader {
	r := &SSEReader{
		body:   body,
		events: make(chan SSEEvent, 16),
		errs:   make(chan error, 1),
	}
	go r.run()
	return r
}

func (r *SSEReader) run() {
	scanner := bufio.NewScanner(r.body)
	var cur SSEEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != "" || cur.Event != "" {
				r.events <- cur
			}
			cur = SSEEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	r.errs <- err
}

// Next returns the next event named name, skipping others.
func (r *SSEReader) Next(name string, timeout time.Duration) (SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.events:
			if ev.Event == name {
				return ev, nil
			}
		case err := <-r.errs:
			return SSEEvent{}, err
		case <-deadline:
			return SSEEvent{}, fmt.Errorf("timeout waiting for %q event", name)
		}
	}
}

// Close closes the underlying body.
func (r *SSEReader) Close() error {
	return r.body.Close()
}
