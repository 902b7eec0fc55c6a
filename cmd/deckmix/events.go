package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/satindergrewal/deckmix/internal/deck"
)

// event is one deck callback pushed to UI collaborators.
type event struct {
	Deck string `json:"deck"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// eventHub fans deck callbacks out to Server-Sent Events clients. Slow
// clients miss events rather than stalling a deck's ticking task.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan event]struct{})}
}

func (h *eventHub) subscribe() chan event {
	ch := make(chan event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *eventHub) publish(e event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// callbacks returns the deck callbacks that publish to the hub.
func (h *eventHub) callbacks(id string) deck.Callbacks {
	return deck.Callbacks{
		OnPlay:  func() { h.publish(event{Deck: id, Type: "play"}) },
		OnPause: func() { h.publish(event{Deck: id, Type: "pause"}) },
		OnTimeUpdate: func(cur, dur float64) {
			h.publish(event{Deck: id, Type: "time", Data: map[string]float64{"current": cur, "duration": dur}})
		},
		OnVUMeter: func(level float64) {
			h.publish(event{Deck: id, Type: "vu", Data: level})
		},
		OnLoad: func(d deck.Descriptor) {
			h.publish(event{Deck: id, Type: "load", Data: d})
		},
		OnError: func(err error) {
			h.publish(event{Deck: id, Type: "error", Data: err.Error()})
		},
	}
}

func (h *eventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("Events: encode: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
