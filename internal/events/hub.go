package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mattjoyce/barnacles-webhook/internal/forward"
)

// Hub event types.
const (
	TypeDeliverySent      = "delivery.sent"
	TypeDeliveryCompleted = "delivery.completed"
	TypeDeliveryFailed    = "delivery.failed"
	TypeEventDropped      = "event.dropped"
)

// Event is one entry in the hub. IDs start at 1 and increase by one per Publish.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// DeliveryData is the payload of every delivery.* event.
type DeliveryData struct {
	DeliveryID string `json:"delivery_id"`
	EventType  string `json:"event_type"`
	URL        string `json:"url"`
	BodySize   int    `json:"body_size"`
	StatusCode int    `json:"status_code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Code       string `json:"code,omitempty"`
	Target     string `json:"target,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DroppedData is the payload of event.dropped.
type DroppedData struct {
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// Hub fans delivery activity out to live subscribers and keeps the most
// recent events so a reconnecting client can catch up.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event // slot i holds the event whose ID is i modulo len(backlog)
	subs    map[chan Event]struct{}
}

const (
	defaultBacklog   = 100
	subscriberBuffer = 128
)

// NewHub creates a hub remembering the last backlog events.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, backlog),
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish records an event and offers it to every subscriber. Subscribers
// whose buffer is full miss the event; they can recover it with SnapshotSince.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.backlog[ev.ID%int64(len(h.backlog))] = ev

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// DeliverySent implements forward.Recorder.
func (h *Hub) DeliverySent(d *forward.Delivery) {
	h.Publish(TypeDeliverySent, deliveryData(d))
}

// DeliveryCompleted implements forward.Recorder.
func (h *Hub) DeliveryCompleted(d *forward.Delivery, o forward.Outcome) {
	data := deliveryData(d)
	data.StatusCode = o.StatusCode
	data.DurationMS = o.Duration.Milliseconds()
	data.Target = o.Target

	if o.Failed() {
		data.Code = o.Code
		data.Error = o.Err.Error()
		h.Publish(TypeDeliveryFailed, data)
		return
	}
	h.Publish(TypeDeliveryCompleted, data)
}

func deliveryData(d *forward.Delivery) DeliveryData {
	return DeliveryData{
		DeliveryID: d.ID,
		EventType:  d.Type.String(),
		URL:        d.URL,
		BodySize:   d.BodySize,
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it. cancel may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns the remembered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := int64(len(h.backlog))
	first := max(h.lastID-n+1, lastID+1, 1)
	if first > h.lastID {
		return nil
	}

	out := make([]Event, 0, h.lastID-first+1)
	for id := first; id <= h.lastID; id++ {
		out = append(out, h.backlog[id%n])
	}
	return out
}
