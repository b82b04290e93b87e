package ingest

import (
	"bufio"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/barnacles-webhook/internal/events"
)

const keepAliveInterval = 15 * time.Second

// sseStream frames hub events as text/event-stream and remembers the last
// ID written so replayed events are not sent twice.
type sseStream struct {
	w      *bufio.Writer
	f      http.Flusher
	lastID int64
}

// send buffers ev unless it is at or before the last ID already sent.
func (s *sseStream) send(ev events.Event) {
	if ev.ID <= s.lastID {
		return
	}
	s.lastID = ev.ID
	writeSSE(s.w, ev)
}

func (s *sseStream) keepAlive() {
	_, _ = s.w.WriteString(": keep-alive\n\n")
}

func (s *sseStream) flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents streams hub events, first replaying those newer than the
// client's Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the replay so nothing published in between is lost.
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: bufio.NewWriter(w), f: flusher, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.hub.SnapshotSince(stream.lastID) {
		stream.send(ev)
	}
	if stream.flush() != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			stream.send(ev)
		case <-ticker.C:
			stream.keepAlive()
		}
		if stream.flush() != nil {
			return
		}
	}
}

// parseLastEventID returns 0 for a missing or malformed header.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Data is single-line JSON so one data: line suffices.
func writeSSE(w *bufio.Writer, ev events.Event) {
	_, _ = w.WriteString("id: " + strconv.FormatInt(ev.ID, 10) + "\n")
	if ev.Type != "" {
		_, _ = w.WriteString("event: " + ev.Type + "\n")
	}
	_, _ = w.WriteString("data: ")
	_, _ = w.Write(ev.Data)
	_, _ = w.WriteString("\n\n")
}
