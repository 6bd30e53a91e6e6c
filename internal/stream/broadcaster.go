// Package stream serves a session to remote observers: frame fan-out, the
// HTTP control surface with its SSE feeds, and the MP3 and WebRTC monitor
// outputs of the master mix.
package stream

import (
	"context"
	"sync"
)

// Broadcaster fans out frames from one source to N listeners. It carries
// both 20ms PCM frames and spectrum frames; the listener buffer is sized
// per use.
type Broadcaster[T any] struct {
	mu        sync.RWMutex
	buffer    int
	listeners map[*Listener[T]]struct{}
}

// Listener receives frames from the broadcaster.
type Listener[T any] struct {
	C    chan T
	done chan struct{}
}

// Done signals the listener was unsubscribed.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a broadcaster whose listeners buffer the given
// number of frames.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster[T]{
		buffer:    buffer,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// NewPCMBroadcaster buffers ~3 seconds of 20ms PCM frames per listener.
func NewPCMBroadcaster() *Broadcaster[[]int16] {
	return NewBroadcaster[[]int16](150)
}

// Subscribe registers a new listener.
func (b *Broadcaster[T]) Subscribe() *Listener[T] {
	l := &Listener[T]{
		C:    make(chan T, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// listener too slow, drop frame to keep broadcast moving
				}
			}
			b.mu.RUnlock()
		}
	}
}
