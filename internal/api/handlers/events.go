// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmaxmax/go-sse"

	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/services/license"
)

const (
	eventBufferSize   = 32
	eventKeepAlive    = 30 * time.Second
	eventReplayCount  = 8
	eventTypePing     = "ping"
	eventTypeOverflow = "overflow"
)

// EventSource publishes license manager events.
type EventSource interface {
	Subscribe(fn func(license.Event)) (unsubscribe func())
}

// EventsHandler streams license manager events as Server-Sent Events. One
// subscription to the source feeds every connected client.
type EventsHandler struct {
	server      *sse.Server
	unsubscribe func()
	keepAlive   time.Duration

	events  chan sseEvent
	dropped atomic.Bool
	clients atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type sseEvent struct {
	Data any
	Type string
}

func NewEventsHandler(source EventSource) *EventsHandler {
	return newEventsHandler(source, eventKeepAlive)
}

func newEventsHandler(source EventSource, keepAlive time.Duration) *EventsHandler {
	replayer, err := sse.NewFiniteReplayer(eventReplayCount, true)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create SSE replayer; reconnecting clients may miss events")
		replayer = nil
	}

	h := &EventsHandler{
		server:    &sse.Server{Provider: &sse.Joe{Replayer: replayer}},
		keepAlive: keepAlive,
		events:    make(chan sseEvent, eventBufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.server.OnSession = h.onSession

	// Delivery runs on the manager's goroutine, so it must never block.
	h.unsubscribe = source.Subscribe(func(e license.Event) {
		select {
		case h.events <- encodeEvent(e):
		default:
			h.dropped.Store(true)
		}
	})

	go h.run()
	return h
}

// Clients returns the number of connected event streams.
func (h *EventsHandler) Clients() int64 {
	return h.clients.Load()
}

// HandleSSE handles GET /api/events
func (h *EventsHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.clients.Add(1)
	defer h.clients.Add(-1)

	log.Debug().Int64("clients", h.clients.Load()).Msg("Event stream connected")

	// ServeHTTP blocks until the client disconnects.
	h.server.ServeHTTP(w, r)

	log.Debug().Msg("Event stream disconnected")
}

// Shutdown detaches from the event source and closes every open stream.
func (h *EventsHandler) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.unsubscribe()
		close(h.stop)
	})
	<-h.done

	if err := h.server.Shutdown(ctx); err != nil &&
		!errors.Is(err, sse.ErrProviderClosed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (h *EventsHandler) onSession(w http.ResponseWriter, _ *http.Request) ([]string, bool) {
	select {
	case <-h.stop:
		http.Error(w, "stream shutting down", http.StatusServiceUnavailable)
		return nil, false
	default:
	}
	return []string{sse.DefaultTopic}, true
}

func (h *EventsHandler) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.publish(sseEvent{Type: eventTypePing, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case event := <-h.events:
			h.publish(event)
			if h.dropped.CompareAndSwap(true, false) {
				h.publish(sseEvent{Type: eventTypeOverflow, Data: map[string]any{}})
			}
		}
	}
}

func (h *EventsHandler) publish(event sseEvent) {
	encoded, err := json.Marshal(event.Data)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to marshal SSE payload")
		return
	}

	message := &sse.Message{Type: sse.Type(event.Type)}
	message.AppendData(string(encoded))

	if err := h.server.Publish(message); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		log.Error().Err(err).Str("event", event.Type).Msg("Failed to publish SSE message")
	}
}

func encodeEvent(e license.Event) sseEvent {
	switch ev := e.(type) {
	case license.LicensesLoaded:
		return sseEvent{Type: "licenses_loaded", Data: map[string]int{"count": ev.Count, "skipped": ev.Skipped}}
	case license.LicenseAcquired:
		return sseEvent{Type: "license_acquired", Data: ev.License}
	case license.LicenseRequestFailed:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return sseEvent{Type: "license_request_failed", Data: map[string]string{"trackId": ev.TrackID, "error": msg}}
	case license.PlayRecorded:
		return sseEvent{Type: "play_recorded", Data: struct {
			Play         models.PlayInfo `json:"play"`
			TrackID      string          `json:"trackId"`
			CurrentPlays int             `json:"currentPlays"`
		}{ev.Info, ev.TrackID, ev.CurrentPlays}}
	case license.LicenseRevoked:
		return sseEvent{Type: "license_revoked", Data: map[string]string{"trackId": ev.TrackID, "reason": ev.Reason}}
	case license.ViolationRecorded:
		return sseEvent{Type: "violation_recorded", Data: ev.Violation}
	case license.LicensesCleared:
		return sseEvent{Type: "licenses_cleared", Data: map[string]int{"count": ev.Count}}
	default:
		return sseEvent{Type: "unknown", Data: map[string]any{}}
	}
}
