package config

import "time"

// DefaultMaxBodySize bounds ingest request bodies when max_body_size is unset.
const DefaultMaxBodySize int64 = 1024 * 1024

// Config represents the complete barnacles-webhook configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Webhook WebhookConfig `yaml:"webhook"`
	Ingest  IngestConfig  `yaml:"ingest"`
	NATS    NATSConfig    `yaml:"nats"`
	State   StateConfig   `yaml:"state"`

	// SourcePath is the absolute path of the file Load read, empty for Defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WebhookConfig describes the single destination every event is posted to.
type WebhookConfig struct {
	UseHTTPS      bool              `yaml:"use_https"`
	Hostname      string            `yaml:"hostname"`
	Port          int               `yaml:"port"`
	Path          string            `yaml:"path"`  // legacy raddec path
	Paths         map[string]string `yaml:"paths"` // event type name -> path
	CustomHeaders map[string]string `yaml:"custom_headers"`
	PrintErrors   bool              `yaml:"print_errors"`
	Verbose       bool              `yaml:"verbose"`
	CACert        string            `yaml:"ca_cert"`
}

// IngestConfig defines the HTTP listener upstream producers post events to.
type IngestConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Listen          string `yaml:"listen"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"` // e.g. "1MB", "65536"
}

// NATSConfig defines the optional NATS subscription feeding the dispatcher.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	QueueGroup    string `yaml:"queue_group"`
}

// StateConfig defines local state: the delivery log and the instance lock.
type StateConfig struct {
	Path      string        `yaml:"path"`
	LockPath  string        `yaml:"lock_path"`
	Retention time.Duration `yaml:"retention"`
}

// Defaults returns a Config with the values used when a field is left unset.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "barnacles-webhook",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Webhook: WebhookConfig{
			Hostname: "localhost",
			Port:     80,
		},
		Ingest: IngestConfig{
			Listen:          "127.0.0.1:8089",
			SignatureHeader: "X-Barnacles-Signature",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "barnacles",
		},
		State: StateConfig{
			Path:      "./data/state.db",
			Retention: 7 * 24 * time.Hour,
		},
	}
}
