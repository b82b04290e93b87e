// Package doctor validates barnacles-webhook configuration beyond what Load
// enforces, collecting every problem instead of stopping at the first.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/barnacles-webhook/internal/config"
	"github.com/mattjoyce/barnacles-webhook/internal/event"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// credentialHeaders are custom headers that carry secrets.
var credentialHeaders = []string{"Authorization", "Proxy-Authorization", "X-Api-Key", "Cookie"}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateWebhook(r)
	d.validateIngest(r)
	d.validateNATS(r)
	d.warnNoSources(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
}

// validateWebhook checks the destination and routing table.
func (d *Doctor) validateWebhook(r *Result) {
	w := d.cfg.Webhook

	if w.Hostname == "" {
		d.addError(r, "webhook", "webhook.hostname", "hostname is required")
	}
	if w.Port < 0 || w.Port > 65535 {
		d.addError(r, "webhook", "webhook.port", fmt.Sprintf("port %d out of range 1-65535", w.Port))
	}
	if w.UseHTTPS && (w.Port == 80 || w.Port == 0) {
		d.addWarning(r, "webhook", "webhook.port", "use_https is set but port is 80; did you mean 443?")
	}

	if w.Path != "" && !strings.HasPrefix(w.Path, "/") {
		d.addError(r, "webhook", "webhook.path", fmt.Sprintf("path %q must start with /", w.Path))
	}
	for _, name := range sortedKeys(w.Paths) {
		field := "webhook.paths." + name
		if _, ok := event.ParseType(name); !ok {
			d.addError(r, "webhook", field, fmt.Sprintf("unknown event type %q", name))
			continue
		}
		if p := w.Paths[name]; !strings.HasPrefix(p, "/") {
			d.addError(r, "webhook", field, fmt.Sprintf("path %q must start with /", p))
		}
	}
	if _, ok := w.Paths[event.Raddec.String()]; ok && w.Path != "" {
		d.addWarning(r, "webhook", "webhook.path", "legacy path is ignored because paths.raddec is set")
	}

	for _, name := range sortedKeys(w.CustomHeaders) {
		canonical := http.CanonicalHeaderKey(name)
		field := "webhook.custom_headers." + name
		if canonical == "Content-Length" {
			d.addWarning(r, "webhook", field, "overriding Content-Length will corrupt requests whose body size differs")
		}
		if !w.UseHTTPS && containsFold(credentialHeaders, canonical) {
			d.addWarning(r, "webhook", field, "credential header is sent over plain HTTP")
		}
	}

	if w.CACert != "" {
		if !w.UseHTTPS {
			d.addWarning(r, "webhook", "webhook.ca_cert", "ca_cert is ignored unless use_https is set")
		}
		if _, err := os.Stat(w.CACert); err != nil {
			d.addError(r, "webhook", "webhook.ca_cert", fmt.Sprintf("CA bundle not readable: %v", err))
		}
	}
}

func (d *Doctor) validateIngest(r *Result) {
	in := d.cfg.Ingest
	if !in.Enabled {
		return
	}
	if in.Listen == "" {
		d.addError(r, "ingest", "ingest.listen", "ingest.listen is required when ingest is enabled")
	} else if _, _, err := net.SplitHostPort(in.Listen); err != nil {
		d.addError(r, "ingest", "ingest.listen", fmt.Sprintf("invalid listen address %q: %v", in.Listen, err))
	}
	if _, err := config.ParseSize(in.MaxBodySize); err != nil {
		d.addError(r, "ingest", "ingest.max_body_size", fmt.Sprintf("invalid max_body_size %q: %v", in.MaxBodySize, err))
	}
	if in.Secret == "" {
		d.addWarning(r, "ingest", "ingest.secret", "ingest enabled without a secret; requests are not authenticated")
	}
}

func (d *Doctor) validateNATS(r *Result) {
	n := d.cfg.NATS
	if !n.Enabled {
		return
	}
	if n.URL == "" {
		d.addError(r, "nats", "nats.url", "nats.url is required when nats is enabled")
	}
	if n.SubjectPrefix == "" {
		d.addError(r, "nats", "nats.subject_prefix", "subject_prefix is required when nats is enabled")
	}
	if strings.ContainsAny(n.SubjectPrefix, "*> ") {
		d.addError(r, "nats", "nats.subject_prefix", fmt.Sprintf("subject_prefix %q must not contain wildcards or spaces", n.SubjectPrefix))
	}
}

func (d *Doctor) warnNoSources(r *Result) {
	if !d.cfg.Ingest.Enabled && !d.cfg.NATS.Enabled {
		d.addWarning(r, "sources", "", "neither ingest nor nats is enabled; system start will deliver nothing")
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved by Load.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		if name, ok := config.UnresolvedEnv(value); ok {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", name))
		}
	}

	check("webhook.hostname", d.cfg.Webhook.Hostname)
	for _, name := range sortedKeys(d.cfg.Webhook.CustomHeaders) {
		check("webhook.custom_headers."+name, d.cfg.Webhook.CustomHeaders[name])
	}
	check("ingest.secret", d.cfg.Ingest.Secret)
	check("nats.url", d.cfg.NATS.URL)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
