package forward

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/barnacles-webhook/internal/event"
)

func TestWithDefaults_EmptyConfig(t *testing.T) {
	got := Config{}.withDefaults()

	assert.False(t, got.Secure)
	assert.Equal(t, "localhost", got.Hostname)
	assert.Equal(t, 80, got.Port)
	assert.Equal(t, map[event.Type]string{
		event.Raddec: "/raddecs",
		event.Dynamb: "/dynambs",
		event.Spatem: "/spatems",
	}, got.Paths)
	assert.Empty(t, got.CustomHeaders)
	assert.False(t, got.ReportErrors)
	assert.False(t, got.VerboseResponses)
	assert.Equal(t, "http", got.Scheme())
	assert.Equal(t, "localhost:80", got.Address())
}

func TestWithDefaults_PartialPathsKeepOtherDefaults(t *testing.T) {
	got := Config{Paths: map[event.Type]string{event.Raddec: "/r"}}.withDefaults()

	assert.Equal(t, "/r", got.Paths[event.Raddec])
	assert.Equal(t, "/dynambs", got.Paths[event.Dynamb])
	assert.Equal(t, "/spatems", got.Paths[event.Spatem])
}

func TestWithDefaults_LegacyPath(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"legacy only", Config{Path: "/legacy"}, "/legacy"},
		{"explicit raddec wins", Config{Path: "/legacy", Paths: map[event.Type]string{event.Raddec: "/explicit"}}, "/explicit"},
		{"missing slash", Config{Path: "raddecs-in"}, "/raddecs-in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.withDefaults().Paths[event.Raddec])
		})
	}
}

func TestWithDefaults_IgnoresInvalidEntries(t *testing.T) {
	got := Config{
		Port:  -1,
		Paths: map[event.Type]string{event.Unknown: "/x", event.Dynamb: ""},
	}.withDefaults()

	assert.Equal(t, 80, got.Port)
	assert.NotContains(t, got.Paths, event.Unknown)
	assert.Equal(t, "/dynambs", got.Paths[event.Dynamb])
}

func TestAddress_IPv6(t *testing.T) {
	cfg := Config{Secure: true, Hostname: "::1", Port: 8443}.withDefaults()
	assert.Equal(t, "[::1]:8443", cfg.Address())
	assert.Equal(t, "https", cfg.Scheme())
}
