package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

// Event types published while a capture runs.
const (
	TypeCaptureStart = "capture_start"
	TypePageStart    = "page_start"
	TypePageEnd      = "page_end"
	TypePageError    = "page_error"
	TypeCaptureEnd   = "capture_end"
)

// Event is a single capture progress notification sent via SSE.
type Event struct {
	Type      string    `json:"type"`
	CaptureID string    `json:"capture_id"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	now         func() time.Time
}

// NewBroker creates a new SSE event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
		now:         time.Now,
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking. A zero At is
// stamped with the current time.
func (b *Broker) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// PageListener publishes page boundaries of one capture.
type PageListener struct {
	b         *Broker
	captureID string
}

// Listener returns a page listener tagging its events with captureID.
func (b *Broker) Listener(captureID string) *PageListener {
	return &PageListener{b: b, captureID: captureID}
}

func (l *PageListener) PageStart(url string) {
	l.b.Publish(Event{Type: TypePageStart, CaptureID: l.captureID, URL: url})
}

func (l *PageListener) PageEnd(url string) {
	l.b.Publish(Event{Type: TypePageEnd, CaptureID: l.captureID, URL: url})
}

func (l *PageListener) PageError(url string) {
	l.b.Publish(Event{Type: TypePageError, CaptureID: l.captureID, URL: url})
}
