package forward

import (
	"net"
	"strconv"
	"strings"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
)

// Config describes a single destination. The zero value of every field means
// "use the default".
type Config struct {
	// Secure selects HTTPS instead of HTTP.
	Secure bool

	Hostname string
	Port     int

	// Path is the legacy single-path option. It sets the raddec path unless
	// Paths carries an explicit raddec entry.
	Path string

	// Paths maps each event type to its destination path.
	Paths map[event.Type]string

	// CustomHeaders are merged into every request and win over the defaults.
	CustomHeaders map[string]string

	// ReportErrors surfaces transport failures to the Observer.
	ReportErrors bool

	// VerboseResponses surfaces response status, headers and body chunks.
	VerboseResponses bool

	// CACertPath is an optional PEM bundle trusted for HTTPS destinations.
	CACertPath string
}

// Default values
const (
	DefaultHostname = "localhost"
	DefaultPort     = 80
)

// DefaultConfig returns the configuration used for every unset field.
func DefaultConfig() Config {
	return Config{
		Secure:   false,
		Hostname: DefaultHostname,
		Port:     DefaultPort,
		Paths: map[event.Type]string{
			event.Raddec: "/raddecs",
			event.Dynamb: "/dynambs",
			event.Spatem: "/spatems",
		},
		CustomHeaders: map[string]string{},
	}
}

// withDefaults fills unset fields from DefaultConfig and copies every map so
// later changes by the caller cannot reach the Dispatcher.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	out := c

	if strings.TrimSpace(out.Hostname) == "" {
		out.Hostname = d.Hostname
	}
	if out.Port <= 0 {
		out.Port = d.Port
	}

	paths := d.Paths
	if c.Path != "" {
		paths[event.Raddec] = normalizePath(c.Path)
	}
	for t, p := range c.Paths {
		if t.Valid() && p != "" {
			paths[t] = normalizePath(p)
		}
	}
	out.Paths = paths

	headers := make(map[string]string, len(c.CustomHeaders))
	for k, v := range c.CustomHeaders {
		headers[k] = v
	}
	out.CustomHeaders = headers

	return out
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// Scheme returns "https" or "http".
func (c Config) Scheme() string {
	if c.Secure {
		return "https"
	}
	return "http"
}

// Address returns the host:port combination for connection.
func (c Config) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}
