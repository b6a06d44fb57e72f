package notifier

import (
	"context"
	"sync"
	"time"

	"lyrics-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// Forwarder relays lyrics events to a webhook listener from a single
// goroutine, so listeners see states in publish order. When the queue is
// full the event is dropped; a newer state follows soon anyway.
type Forwarder struct {
	hook    *WebhookNotifier
	queue   chan *Event
	timeout time.Duration
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

// NewForwarder creates a forwarder with the given queue size
func NewForwarder(hook *WebhookNotifier, queueSize int) *Forwarder {
	if queueSize <= 0 {
		queueSize = 64
	}
	f := &Forwarder{
		hook:    hook,
		queue:   make(chan *Event, queueSize),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

// Start subscribes the forwarder to lyrics events
func (f *Forwarder) Start(bus *EventBus) {
	bus.Subscribe(EventLyricsState, f.enqueue)
	bus.Subscribe(EventLyricsPrefetch, f.enqueue)
	log.Infof("%s Forwarding lyrics events to %s", logcolors.LogNotifier, f.hook.URL)
}

func (f *Forwarder) enqueue(event *Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- event:
	default:
		log.Warnf("%s Listener queue full, dropping %s event", logcolors.LogNotifier, event.Type)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for event := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.hook.Deliver(ctx, event); err != nil {
			log.Warnf("%s Failed to deliver %s event: %v", logcolors.LogNotifier, event.Type, err)
		}
		cancel()
	}
}

// Close drains queued events and stops the worker. Events published after
// Close are dropped.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}
