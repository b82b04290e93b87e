package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
	"github.com/mattjoyce/barnacles-webhook/internal/log"
)

// readChunkSize bounds each body chunk surfaced in verbose mode.
const readChunkSize = 32 * 1024

// Dispatcher posts events to a single destination over a shared keep-alive pool.
type Dispatcher struct {
	cfg       Config
	baseURL   string
	client    *http.Client
	observer  Observer
	recorders []Recorder
	logger    *slog.Logger

	inflight sync.WaitGroup
	pending  atomic.Int64
}

// Option customizes a Dispatcher at construction.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	observer    Observer
	recorders   []Recorder
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// WithLogger sets the logger used for internal and default diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver replaces the default log-based Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRecorder adds a Recorder. It may be given more than once.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithDialContext overrides how the pool opens connections.
func WithDialContext(fn func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(o *options) { o.dialContext = fn }
}

// New creates a Dispatcher. It never fails: unset fields take their defaults
// and an unreadable CA bundle falls back to the system roots.
func New(cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.WithComponent("forward")
	}
	observer := o.observer
	if observer == nil {
		observer = &logObserver{logger: logger, scheme: cfg.Scheme()}
	}

	transport := cleanhttp.DefaultPooledTransport()
	if o.dialContext != nil {
		transport.DialContext = o.dialContext
	}
	if cfg.Secure {
		transport.TLSClientConfig = tlsConfig(cfg.CACertPath, logger)
	}

	return &Dispatcher{
		cfg:     cfg,
		baseURL: cfg.Scheme() + "://" + cfg.Address(),
		client: &http.Client{
			Transport: transport,
			// Redirects are not followed; the 3xx is the response.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		observer:  observer,
		recorders: o.recorders,
		logger:    logger,
	}
}

func tlsConfig(caCertPath string, logger *slog.Logger) *tls.Config {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCertPath == "" {
		return tc
	}

	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		logger.Warn("failed to read CA bundle, using system roots", "path", caCertPath, "error", err)
		return tc
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		logger.Warn("CA bundle has no certificates, using system roots", "path", caCertPath)
		return tc
	}
	tc.RootCAs = pool
	return tc
}

// Config returns a copy of the effective configuration.
func (d *Dispatcher) Config() Config {
	c := d.cfg
	c.Paths = d.Routes()
	c.CustomHeaders = make(map[string]string, len(d.cfg.CustomHeaders))
	for k, v := range d.cfg.CustomHeaders {
		c.CustomHeaders[k] = v
	}
	return c
}

// Routes returns a copy of the routing table.
func (d *Dispatcher) Routes() map[event.Type]string {
	out := make(map[event.Type]string, len(d.cfg.Paths))
	for t, p := range d.cfg.Paths {
		out[t] = p
	}
	return out
}

// Target returns the destination host:port.
func (d *Dispatcher) Target() string {
	return d.cfg.Address()
}

// Dispatch sends payload to the path configured for eventType. Unknown event
// types are dropped and return (nil, nil). The only error returned is a
// payload that cannot be encoded as JSON.
func (d *Dispatcher) Dispatch(eventType string, payload any) (*Delivery, error) {
	t, ok := event.ParseType(eventType)
	if !ok {
		d.logger.Debug("no route for event type", "event_type", eventType)
		return nil, nil
	}
	return d.DispatchType(t, payload)
}

// DispatchRaddec is the historical single-type entry point.
func (d *Dispatcher) DispatchRaddec(payload any) (*Delivery, error) {
	return d.DispatchType(event.Raddec, payload)
}

// DispatchType is the typed form of Dispatch.
func (d *Dispatcher) DispatchType(t event.Type, payload any) (*Delivery, error) {
	path, ok := d.cfg.Paths[t]
	if !ok {
		d.logger.Debug("no route for event type", "event_type", t.String())
		return nil, nil
	}

	body, err := encodeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}

	dl := newDelivery(t, d.baseURL+path, len(body))
	d.inflight.Add(1)
	d.pending.Add(1)
	go d.deliver(dl, body)
	return dl, nil
}

// Wait blocks until every delivery handed out so far has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if deliveries are
// still outstanding when ctx ends; those deliveries keep running.
func (d *Dispatcher) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of deliveries that have not finished yet.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

func (d *Dispatcher) deliver(dl *Delivery, body []byte) {
	defer d.inflight.Done()
	defer d.pending.Add(-1)
	for _, r := range d.recorders {
		r.DeliverySent(dl)
	}
	start := time.Now()

	req, err := d.newRequest(dl.URL, body)
	if err != nil {
		d.fail(dl, err, start)
		return
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.fail(dl, err, start)
		return
	}
	defer resp.Body.Close()

	n, err := d.consume(dl, resp)
	if err != nil {
		d.fail(dl, err, start)
		return
	}

	d.finish(dl, Outcome{
		StatusCode: resp.StatusCode,
		Bytes:      n,
		Duration:   time.Since(start),
		Target:     d.cfg.Address(),
	})
}

// newRequest builds the POST. Custom headers are applied last so they win on
// collision; Content-Length and Host map onto the request fields Go sends.
// Accept-Encoding defaults to identity so the transport does not gunzip
// responses behind the observer's back.
func (d *Dispatcher) newRequest(url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.ContentLength = int64(len(body))
	req.Header.Set("Accept-Encoding", "identity")

	for k, v := range d.cfg.CustomHeaders {
		req.Header.Set(k, v)
	}

	if v := req.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			req.ContentLength = n
		}
	}
	if v := req.Header.Get("Host"); v != "" {
		req.Host = v
	}
	return req, nil
}

// consume reads the whole body so the connection can return to the pool.
func (d *Dispatcher) consume(dl *Delivery, resp *http.Response) (int64, error) {
	if !d.cfg.VerboseResponses {
		return io.Copy(io.Discard, resp.Body)
	}

	d.observer.ResponseStarted(dl, resp.StatusCode, resp.Header.Clone())
	buf := make([]byte, readChunkSize)
	var total int64
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			d.observer.ResponseChunk(dl, append([]byte(nil), buf[:n]...))
		}
		if err == io.EOF {
			d.observer.ResponseEnded(dl)
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (d *Dispatcher) fail(dl *Delivery, err error, start time.Time) {
	code := Classify(err)
	target := failedTarget(err, d.cfg.Address())
	if d.cfg.ReportErrors {
		d.observer.TransportFailed(dl, target, code, err)
	}
	d.finish(dl, Outcome{
		Duration: time.Since(start),
		Err:      err,
		Code:     code,
		Target:   target,
	})
}

func (d *Dispatcher) finish(dl *Delivery, o Outcome) {
	dl.complete(o)
	for _, r := range d.recorders {
		r.DeliveryCompleted(dl, o)
	}
}

// encodeJSON renders v the way it will appear on the wire: no HTML escaping
// and no trailing newline.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
