// Package streaming fans settings notifications out to live subscribers and
// keeps a short per-topic history for reconnect replay.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

// DefaultCapacity is the per-topic replay history length.
const DefaultCapacity = 256

// Event is the wire form of a container notification.
type Event struct {
	Topic     string    `json:"topic"`
	Type      string    `json:"type"`
	Setting   string    `json:"setting"`
	Value     any       `json:"value"`
	ValueType string    `json:"value_type"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the JSON encoding of the event.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Hub provides in-memory pub/sub keyed by topic; a topic is a container name.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	now         func() time.Time

	attachMu sync.Mutex
	attached map[*settings.Container]func()
}

// ContainerSource announces containers as they open and close.
type ContainerSource interface {
	OnContainer(opened, closed func(*settings.Container))
}

// NewHub creates a hub keeping capacity events per topic for replay.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		now:         time.Now,
		attached:    make(map[*settings.Container]func()),
	}
}

// Subscribe adds a subscriber channel for topic; the caller must drain it and call Unsubscribe.
func (h *Hub) Subscribe(topic string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[topic]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		h.subscribers[topic] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamClients.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (h *Hub) Unsubscribe(topic string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.StreamClients.Dec()
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}
}

// Publish records evt under topic and sends it to subscribers without
// blocking; slow subscribers miss events and can replay them.
func (h *Hub) Publish(topic string, evt Event) {
	h.mu.Lock()
	rg := h.history[topic]
	if rg == nil {
		rg = newRing(h.capacity)
		h.history[topic] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	evt.Topic = topic
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now()
	}
	rg.push(evt)
	for ch := range h.subscribers[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
}

// ReplaySince returns events with Seq > since that are still in history.
func (h *Hub) ReplaySince(topic string, since uint64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg := h.history[topic]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the history of a topic whose container went away and closes
// its subscriber channels. A later Unsubscribe of a closed channel is a no-op.
func (h *Hub) Forget(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, topic)
	for ch := range h.subscribers[topic] {
		close(ch)
		metrics.StreamClients.Dec()
	}
	delete(h.subscribers, topic)
}

// Attach publishes every notification of c under its container name. The
// returned function detaches.
func (h *Hub) Attach(c *settings.Container) func() {
	return c.Observe(func(n settings.Notification) {
		h.Publish(n.Container, FromNotification(n))
	})
}

// Follow attaches to every container src opens and detaches, dropping the
// topic and ending its streams, when it closes.
func (h *Hub) Follow(src ContainerSource) {
	src.OnContainer(
		func(c *settings.Container) {
			detach := h.Attach(c)
			h.attachMu.Lock()
			h.attached[c] = detach
			h.attachMu.Unlock()
		},
		func(c *settings.Container) {
			h.attachMu.Lock()
			detach, ok := h.attached[c]
			delete(h.attached, c)
			h.attachMu.Unlock()
			if ok {
				detach()
			}
			h.Forget(c.Name())
		},
	)
}

// FromNotification converts a container notification to its wire form.
func FromNotification(n settings.Notification) Event {
	return Event{
		Topic:     n.Container,
		Type:      n.Event.String(),
		Setting:   string(n.Setting),
		Value:     n.Value.Interface(),
		ValueType: n.Value.Type().String(),
	}
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
