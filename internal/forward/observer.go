package forward

import (
	"log/slog"
	"net/http"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_observer.go -package=mocks github.com/mattjoyce/barnacles-webhook/internal/forward Observer

// Observer receives diagnostics for deliveries. Response callbacks fire only
// when VerboseResponses is set and TransportFailed only when ReportErrors is
// set. Implementations must be safe for concurrent use.
type Observer interface {
	ResponseStarted(d *Delivery, statusCode int, header http.Header)
	ResponseChunk(d *Delivery, chunk []byte)
	ResponseEnded(d *Delivery)
	TransportFailed(d *Delivery, target, code string, err error)
}

// Recorder is told about every delivery regardless of the diagnostic flags.
// Implementations must be safe for concurrent use and must not block for long.
type Recorder interface {
	DeliverySent(d *Delivery)
	DeliveryCompleted(d *Delivery, o Outcome)
}

// logObserver writes diagnostics to a structured logger.
type logObserver struct {
	logger *slog.Logger
	scheme string
}

func (o *logObserver) ResponseStarted(d *Delivery, statusCode int, header http.Header) {
	o.logger.Info("webhook response",
		"delivery_id", d.ID,
		"event_type", d.Type.String(),
		"status", statusCode,
		"headers", header,
	)
}

func (o *logObserver) ResponseChunk(d *Delivery, chunk []byte) {
	o.logger.Info("webhook response body",
		"delivery_id", d.ID,
		"body", string(chunk),
	)
}

func (o *logObserver) ResponseEnded(d *Delivery) {
	o.logger.Info("webhook response complete: no more data", "delivery_id", d.ID)
}

func (o *logObserver) TransportFailed(d *Delivery, target, code string, err error) {
	o.logger.Error("webhook "+strings.ToUpper(o.scheme)+" POST error",
		"delivery_id", d.ID,
		"event_type", d.Type.String(),
		"code", code,
		"target", target,
		"error", err,
	)
}
