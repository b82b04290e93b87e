package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. BARNACLES_WEBHOOK_HOSTNAME.
const EnvPrefix = "BARNACLES"

// envOverrides lists the settings that may be replaced from the environment.
// Unset variables leave their pointer nil and the file value untouched.
type envOverrides struct {
	LogLevel  *string `envconfig:"LOG_LEVEL"`
	LogFormat *string `envconfig:"LOG_FORMAT"`

	WebhookUseHTTPS    *bool   `envconfig:"WEBHOOK_USE_HTTPS"`
	WebhookHostname    *string `envconfig:"WEBHOOK_HOSTNAME"`
	WebhookPort        *int    `envconfig:"WEBHOOK_PORT"`
	WebhookPath        *string `envconfig:"WEBHOOK_PATH"`
	WebhookPrintErrors *bool   `envconfig:"WEBHOOK_PRINT_ERRORS"`
	WebhookVerbose     *bool   `envconfig:"WEBHOOK_VERBOSE"`
	WebhookCACert      *string `envconfig:"WEBHOOK_CA_CERT"`

	IngestEnabled *bool   `envconfig:"INGEST_ENABLED"`
	IngestListen  *string `envconfig:"INGEST_LISTEN"`
	IngestSecret  *string `envconfig:"INGEST_SECRET"`

	NATSEnabled *bool   `envconfig:"NATS_ENABLED"`
	NATSURL     *string `envconfig:"NATS_URL"`

	StatePath *string `envconfig:"STATE_PATH"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	setString(&cfg.Service.LogLevel, o.LogLevel)
	setString(&cfg.Service.LogFormat, o.LogFormat)

	setBool(&cfg.Webhook.UseHTTPS, o.WebhookUseHTTPS)
	setString(&cfg.Webhook.Hostname, o.WebhookHostname)
	if o.WebhookPort != nil {
		cfg.Webhook.Port = *o.WebhookPort
	}
	setString(&cfg.Webhook.Path, o.WebhookPath)
	setBool(&cfg.Webhook.PrintErrors, o.WebhookPrintErrors)
	setBool(&cfg.Webhook.Verbose, o.WebhookVerbose)
	setString(&cfg.Webhook.CACert, o.WebhookCACert)

	setBool(&cfg.Ingest.Enabled, o.IngestEnabled)
	setString(&cfg.Ingest.Listen, o.IngestListen)
	setString(&cfg.Ingest.Secret, o.IngestSecret)

	setBool(&cfg.NATS.Enabled, o.NATSEnabled)
	setString(&cfg.NATS.URL, o.NATSURL)

	setString(&cfg.State.Path, o.StatePath)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
