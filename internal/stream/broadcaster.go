// Package stream publishes the master mix to remote monitors over HTTP MP3
// and WebRTC/Opus.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer holds ~3 seconds of 20ms frames per listener.
const DefaultBuffer = 150

// Broadcaster fans master-mix PCM frames out to any number of listeners.
type Broadcaster struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Listener receives master-mix frames until it is unsubscribed.
type Listener struct {
	C       chan []int16 // 20ms interleaved stereo frames
	done    chan struct{}
	dropped atomic.Uint64
}

// Done is closed once the listener has been unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames this listener missed by reading too slowly.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Stats summarizes broadcast activity for the status endpoint.
type Stats struct {
	Listeners int    `json:"listeners"`
	Frames    uint64 `json:"frames"`
	Dropped   uint64 `json:"dropped"`
}

// NewBroadcaster creates a broadcaster whose listeners buffer up to buffer
// frames. buffer <= 0 uses DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		buffer:    buffer,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Calling it twice is safe.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Stats returns counters since the broadcaster was created.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Listeners: b.ListenerCount(),
		Frames:    b.frames.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Run forwards frames from source until ctx is cancelled or source closes.
// A listener whose buffer is full misses the frame; the mix never waits.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.frames.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
