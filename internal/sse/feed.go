// Package sse fans live order activity out to organizers watching an event.
package sse

import (
	"context"
	"sync"
)

// Update is one message on an event's live feed.
type Update struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Feed keeps the subscribers of each event. Slow subscribers miss updates
// rather than block the publisher.
type Feed struct {
	mu      sync.RWMutex
	clients map[string][]chan Update
	buffer  int
}

func NewFeed() *Feed {
	return &Feed{clients: make(map[string][]chan Update), buffer: 16}
}

// Subscribe returns a channel of updates for eventID. The channel is closed
// once ctx is done.
func (f *Feed) Subscribe(ctx context.Context, eventID string) <-chan Update {
	ch := make(chan Update, f.buffer)

	f.mu.Lock()
	f.clients[eventID] = append(f.clients[eventID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.remove(eventID, ch)
	}()
	return ch
}

// Broadcast sends an update to every subscriber of eventID.
func (f *Feed) Broadcast(eventID, kind string, v any) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.clients[eventID] {
		select {
		case ch <- Update{Kind: kind, Data: v}:
		default:
		}
	}
}

func (f *Feed) remove(eventID string, ch chan Update) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clients := f.clients[eventID]
	for i, c := range clients {
		if c == ch {
			f.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(f.clients[eventID]) == 0 {
		delete(f.clients, eventID)
	}
}

// Subscribers returns how many clients are watching eventID.
func (f *Feed) Subscribers(eventID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients[eventID])
}
