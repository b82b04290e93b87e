package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file takes defaults",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "barnacles-webhook", cfg.Service.Name)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, "localhost", cfg.Webhook.Hostname)
				assert.Equal(t, 80, cfg.Webhook.Port)
				assert.Equal(t, "./data/state.db", cfg.State.Path)
				assert.Equal(t, filepath.Join("data", "barnacles-webhook.lock"), cfg.State.LockPath)
				assert.Equal(t, 7*24*time.Hour, cfg.State.Retention)
				assert.Equal(t, "barnacles", cfg.NATS.SubjectPrefix)
			},
		},
		{
			name: "webhook section parsed",
			yaml: `
webhook:
  use_https: true
  hostname: collector.example.com
  port: 8443
  paths:
    raddec: /in/raddecs
    spatem: /in/spatems
  custom_headers:
    Authorization: Bearer abc
  print_errors: true
  verbose: true
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Webhook.UseHTTPS)
				assert.Equal(t, "collector.example.com", cfg.Webhook.Hostname)
				assert.Equal(t, 8443, cfg.Webhook.Port)
				assert.Equal(t, "/in/raddecs", cfg.Webhook.Paths["raddec"])
				assert.Equal(t, "Bearer abc", cfg.Webhook.CustomHeaders["Authorization"])
				assert.True(t, cfg.Webhook.PrintErrors)
				assert.True(t, cfg.Webhook.Verbose)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
webhook:
  hostname: ${BW_TEST_HOST}
  custom_headers:
    X-Token: ${BW_TEST_TOKEN}
`,
			env: map[string]string{"BW_TEST_HOST": "sink.internal", "BW_TEST_TOKEN": "t0k"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sink.internal", cfg.Webhook.Hostname)
				assert.Equal(t, "t0k", cfg.Webhook.CustomHeaders["X-Token"])
			},
		},
		{
			name: "prefixed env overrides win over the file",
			yaml: `
service:
  log_level: info
webhook:
  hostname: from-file
  port: 9000
`,
			env: map[string]string{
				"BARNACLES_WEBHOOK_HOSTNAME":     "from-env",
				"BARNACLES_WEBHOOK_PORT":         "9100",
				"BARNACLES_WEBHOOK_PRINT_ERRORS": "true",
				"BARNACLES_LOG_LEVEL":            "debug",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Webhook.Hostname)
				assert.Equal(t, 9100, cfg.Webhook.Port)
				assert.True(t, cfg.Webhook.PrintErrors)
				assert.Equal(t, "debug", cfg.Service.LogLevel)
			},
		},
		{
			name:    "invalid env override value",
			yaml:    "{}\n",
			env:     map[string]string{"BARNACLES_WEBHOOK_PORT": "eighty"},
			wantErr: "environment overrides",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: chatty\n",
			wantErr: "service.log_level",
		},
		{
			name:    "port out of range",
			yaml:    "webhook:\n  port: 70000\n",
			wantErr: "webhook.port",
		},
		{
			name:    "unknown event type path",
			yaml:    "webhook:\n  paths:\n    telemetry: /t\n",
			wantErr: `unknown event type "telemetry"`,
		},
		{
			name:    "event type path is case sensitive",
			yaml:    "webhook:\n  paths:\n    RADDEC: /r\n",
			wantErr: `unknown event type "RADDEC"`,
		},
		{
			name:    "ingest secret unresolved",
			yaml:    "ingest:\n  enabled: true\n  secret: ${BW_TEST_MISSING_SECRET}\n",
			wantErr: "BW_TEST_MISSING_SECRET",
		},
		{
			name:    "ingest bad body size",
			yaml:    "ingest:\n  enabled: true\n  max_body_size: lots\n",
			wantErr: "ingest.max_body_size",
		},
		{
			name:    "malformed yaml",
			yaml:    "webhook: [\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectoryUsesConfigYAML(t *testing.T) {
	path := writeConfig(t, "webhook:\n  hostname: dir-host\n")
	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "dir-host", cfg.Webhook.Hostname)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadResolvesCACertRelativeToConfig(t *testing.T) {
	path := writeConfig(t, "webhook:\n  use_https: true\n  ca_cert: certs/ca.pem\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "certs", "ca.pem"), cfg.Webhook.CACert)
}

func TestForward(t *testing.T) {
	path := writeConfig(t, `
webhook:
  use_https: true
  hostname: example.test
  port: 8080
  path: /legacy
  paths:
    dynamb: /d
  custom_headers:
    X-Api-Key: k
  print_errors: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	fc := cfg.Forward()
	assert.True(t, fc.Secure)
	assert.Equal(t, "example.test", fc.Hostname)
	assert.Equal(t, 8080, fc.Port)
	assert.Equal(t, "/legacy", fc.Path)
	assert.Equal(t, map[event.Type]string{event.Dynamb: "/d"}, fc.Paths)
	assert.Equal(t, "k", fc.CustomHeaders["X-Api-Key"])
	assert.True(t, fc.ReportErrors)
	assert.False(t, fc.VerboseResponses)

	// The returned maps are copies.
	fc.CustomHeaders["X-Api-Key"] = "changed"
	assert.Equal(t, "k", cfg.Webhook.CustomHeaders["X-Api-Key"])
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"64KB", 64 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{" 2GB ", 2 * 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-5KB", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnresolvedEnv(t *testing.T) {
	name, ok := UnresolvedEnv("Bearer ${TOKEN}")
	assert.True(t, ok)
	assert.Equal(t, "TOKEN", name)

	_, ok = UnresolvedEnv("Bearer plain")
	assert.False(t, ok)
}
