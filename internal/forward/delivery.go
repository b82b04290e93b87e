package forward

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
)

// Outcome is the final state of a Delivery.
// Err is set only for transport failures; any HTTP status counts as delivered.
type Outcome struct {
	StatusCode int
	// Bytes is the number of response body bytes read.
	Bytes    int64
	Duration time.Duration

	Err    error
	Code   string
	Target string
}

// Failed reports whether the request never produced a complete response.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Delivery tracks one outbound request. It is completed exactly once by the
// Dispatcher. Callers are free to ignore it.
type Delivery struct {
	ID        string
	Type      event.Type
	URL       string
	BodySize  int
	CreatedAt time.Time

	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	outcome Outcome
}

func newDelivery(t event.Type, url string, bodySize int) *Delivery {
	return &Delivery{
		ID:        uuid.NewString(),
		Type:      t,
		URL:       url,
		BodySize:  bodySize,
		CreatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// complete records the outcome once; later calls are ignored.
func (d *Delivery) complete(o Outcome) {
	d.once.Do(func() {
		d.mu.Lock()
		d.outcome = o
		d.mu.Unlock()
		close(d.done)
	})
}

// Done returns a channel that is closed when the delivery has finished.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the delivery finishes or ctx is done.
func (d *Delivery) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-d.done:
		o, _ := d.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome and whether the delivery has finished.
func (d *Delivery) Outcome() (Outcome, bool) {
	select {
	case <-d.done:
		d.mu.Lock()
		o := d.outcome
		d.mu.Unlock()
		return o, true
	default:
		return Outcome{}, false
	}
}
