package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file, applies environment overrides and defaults,
// verifies the .checksums manifest when one sits next to the file, and
// validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)

	if cfg.Webhook.CACert != "" && !filepath.IsAbs(cfg.Webhook.CACert) {
		cfg.Webhook.CACert = filepath.Join(filepath.Dir(absPath), cfg.Webhook.CACert)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $BARNACLES_CONFIG, ~/.config/barnacles-webhook/config.yaml,
// /etc/barnacles-webhook/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("BARNACLES_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "barnacles-webhook", "config.yaml"))
	}
	candidates = append(candidates, "/etc/barnacles-webhook/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $BARNACLES_CONFIG, %s)", strings.Join(candidates, ", "))
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks path against the .checksums manifest in its
// directory. A directory without a manifest is not verified.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	manifest, err := LoadChecksums(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	basename := filepath.Base(path)
	expected, ok := manifest.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: barnacles-webhook config lock --config %s", basename, dir, path)
	}
	if err := VerifyFileHash(path, expected); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: barnacles-webhook config lock --config %s", path, err, path)
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Webhook.Hostname == "" {
		cfg.Webhook.Hostname = defaults.Webhook.Hostname
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = defaults.Webhook.Port
	}

	if cfg.Ingest.Listen == "" {
		cfg.Ingest.Listen = defaults.Ingest.Listen
	}
	if cfg.Ingest.SignatureHeader == "" {
		cfg.Ingest.SignatureHeader = defaults.Ingest.SignatureHeader
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = defaults.NATS.URL
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = defaults.NATS.SubjectPrefix
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.LockPath == "" {
		cfg.State.LockPath = filepath.Join(filepath.Dir(cfg.State.Path), "barnacles-webhook.lock")
	}
	if cfg.State.Retention == 0 {
		cfg.State.Retention = defaults.State.Retention
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// UnresolvedEnv reports the first ${VAR} reference left in s.
func UnresolvedEnv(s string) (string, bool) {
	m := envVarPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be between 1 and 65535 (got %d)", cfg.Webhook.Port)
	}
	for name, p := range cfg.Webhook.Paths {
		if _, ok := event.ParseType(name); !ok {
			return fmt.Errorf("webhook.paths: unknown event type %q", name)
		}
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("webhook.paths.%s must not be empty", name)
		}
	}

	if cfg.Ingest.Enabled {
		if cfg.Ingest.Listen == "" {
			return fmt.Errorf("ingest.listen is required when ingest is enabled")
		}
		if name, ok := UnresolvedEnv(cfg.Ingest.Secret); ok {
			return fmt.Errorf("ingest.secret: environment variable ${%s} is not set", name)
		}
		if _, err := ParseSize(cfg.Ingest.MaxBodySize); err != nil {
			return fmt.Errorf("ingest.max_body_size %q: %w", cfg.Ingest.MaxBodySize, err)
		}
	}

	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}
	return nil
}

// ParseSize parses size strings like "1MB", "64KB" or "2048576" to bytes.
// An empty string yields DefaultMaxBodySize.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// MaxBodySize returns the parsed ingest body limit.
func (c *Config) MaxBodySize() int64 {
	n, err := ParseSize(c.Ingest.MaxBodySize)
	if err != nil {
		return DefaultMaxBodySize
	}
	return n
}

// Forward converts the webhook section into dispatcher configuration.
// Path keys that do not name a known event type are skipped.
func (c *Config) Forward() forward.Config {
	fc := forward.Config{
		Secure:           c.Webhook.UseHTTPS,
		Hostname:         c.Webhook.Hostname,
		Port:             c.Webhook.Port,
		Path:             c.Webhook.Path,
		ReportErrors:     c.Webhook.PrintErrors,
		VerboseResponses: c.Webhook.Verbose,
		CACertPath:       c.Webhook.CACert,
	}
	if len(c.Webhook.Paths) > 0 {
		fc.Paths = make(map[event.Type]string, len(c.Webhook.Paths))
		for name, p := range c.Webhook.Paths {
			if t, ok := event.ParseType(name); ok {
				fc.Paths[t] = p
			}
		}
	}
	if len(c.Webhook.CustomHeaders) > 0 {
		fc.CustomHeaders = make(map[string]string, len(c.Webhook.CustomHeaders))
		for k, v := range c.Webhook.CustomHeaders {
			fc.CustomHeaders[k] = v
		}
	}
	return fc
}
