// Package realtimetest provides an Emitter that records events for tests.
package realtimetest

import (
	"context"
	"sync"

	"github.com/penguhub/marketplace/realtime"
)

type Recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *Recorder) Emit(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Event(nil), r.events...)
}

// Names lists the names of the recorded events in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Find returns the first recorded event with the given name.
func (r *Recorder) Find(name string) (realtime.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return realtime.Event{}, false
}
