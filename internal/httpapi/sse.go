package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/booltox/toolhost/internal/broadcast"
)

// handleEvents streams state events as server-sent events. With a surface
// parameter the stream carries the events routed to that surface; without
// one it carries every event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, canFlush := w.(http.Flusher)

	surface := r.URL.Query().Get("surface")
	var (
		events <-chan broadcast.Event
		cancel func()
	)
	if surface != "" {
		events, cancel = s.events.Subscribe(surface, parseBool(r.URL.Query().Get("visible")))
	} else {
		events, cancel = s.events.Observe()
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\nretry: 5000\n\n")
	if canFlush {
		flusher.Flush()
	}
	s.logger.Debugw("SSE client connected", "surface", surface)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debugw("SSE client disconnected", "surface", surface)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix()); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				s.logger.Errorw("Failed to write SSE event", "error", err)
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: state\ndata: %s\n\n", ev.ID, data)
	return err
}
