package ingest

import (
	"github.com/mattjoyce/barnacles-webhook/internal/event"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
)

// Dispatcher is the subset of forward.Dispatcher the server calls.
type Dispatcher interface {
	Dispatch(eventType string, payload any) (*forward.Delivery, error)
	Routes() map[event.Type]string
	Target() string
}

// Config holds ingest listener settings.
type Config struct {
	Listen          string
	Secret          string // empty disables signature checks
	SignatureHeader string
	MaxBodySize     int64
}

// DefaultMaxBodySize is used when Config.MaxBodySize is zero.
const DefaultMaxBodySize int64 = 1024 * 1024

// DefaultSignatureHeader is used when Config.SignatureHeader is empty.
const DefaultSignatureHeader = "X-Barnacles-Signature"

// AcceptedResponse is returned with 202 for every well-formed event.
type AcceptedResponse struct {
	Routed     bool   `json:"routed"`
	EventType  string `json:"event_type"`
	DeliveryID string `json:"delivery_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Target        string            `json:"target"`
	Routes        map[string]string `json:"routes"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
