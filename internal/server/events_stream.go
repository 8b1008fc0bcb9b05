package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/events"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 15 * time.Second
)

// EventsStreamHandler streams system events to clients over
// Server-Sent Events.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates a stream handler over bus.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. A "types" query parameter
// with a comma-separated list narrows the stream to those event types.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var allowed map[events.EventType]bool
	if filter := r.URL.Query().Get("types"); filter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(filter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	eventChan := make(chan *events.Event, streamBuffer)
	unsubscribe := h.bus.SubscribeAll(func(event *events.Event) {
		if allowed != nil && !allowed[event.Type] {
			return
		}
		// Non-blocking send; a slow client loses events rather than
		// stalling the publisher.
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	})
	defer unsubscribe()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to event stream")

	// Initial comment so proxies start forwarding immediately.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from event stream")
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case event := <-eventChan:
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
