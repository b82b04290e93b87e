package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/barnacles-webhook/internal/config"
	"github.com/mattjoyce/barnacles-webhook/internal/event"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
	"github.com/mattjoyce/barnacles-webhook/internal/log"
	"github.com/mattjoyce/barnacles-webhook/internal/storage"
)

func TestMain(m *testing.M) {
	// Pin the global logger to the real stdout before any test swaps it.
	log.Setup("error", "text")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built

	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

// writeConfig writes config.yaml into a fresh directory whose state database
// also lives there, and returns the config path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	state := fmt.Sprintf("state:\n  path: %s\n", filepath.Join(dir, "state.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body+"\n"+state), 0o600))
	return path
}

// destination starts an HTTP server that reports each request as "<path> <body>".
func destination(t *testing.T, status int) (host string, port int, got <-chan string) {
	t.Helper()
	ch := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		ch <- r.URL.Path + " " + string(b)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	h, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port, ch
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunCLIUsage(t *testing.T) {
	code, stdout, _ := runCLIForTest(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "barnacles-webhook <noun> <action>")

	code, stdout, _ = runCLIForTest(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "event send <type>")

	code, _, stderr := runCLIForTest(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestNounHelpAndUnknownActions(t *testing.T) {
	tests := []struct {
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{args: []string{"system", "help"}, wantCode: 0, wantOut: "Actions: start, watch"},
		{args: []string{"config", "--help"}, wantCode: 0, wantOut: "Actions: check, lock"},
		{args: []string{"event", "-h"}, wantCode: 0, wantOut: "Actions: send"},
		{args: []string{"delivery", "help"}, wantCode: 0, wantOut: "Actions: list"},
		{args: []string{"config"}, wantCode: 1, wantErr: "Actions: check, lock"},
		{args: []string{"system", "reboot"}, wantCode: 1, wantErr: "Unknown system action: reboot"},
		{args: []string{"event", "replay"}, wantCode: 1, wantErr: "Unknown event action: replay"},
		{args: []string{"delivery", "purge"}, wantCode: 1, wantErr: "Unknown delivery action: purge"},
		{args: []string{"event", "send", "--help"}, wantCode: 0, wantOut: "Usage: barnacles-webhook event send"},
		{args: []string{"config", "lock", "-h"}, wantCode: 0, wantOut: ".checksums"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			code, stdout, stderr := runCLIForTest(t, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantOut != "" {
				assert.Contains(t, stdout, tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, stderr, tt.wantErr)
			}
		})
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.0", "aabbccddeeff001122334455", "2026-02-12T11:30:00-05:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	require.Equal(t, 0, code, stderr)

	var out versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	assert.Equal(t, "1.2.0", out.Version)
	assert.Equal(t, "aabbccddeeff", out.Commit)
	assert.Equal(t, "2026-02-12T16:30:00Z", out.BuildTime)
}

func TestRunVersionText(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.0", "abc123", "not-a-time")

	code, stdout, _ := runCLIForTest(t, "--version")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "barnacles-webhook 1.2.0")
	assert.Contains(t, stdout, "commit: abc123")

	code, _, stderr := runCLIForTest(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: barnacles-webhook version")
}

func TestConfigCheck(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, "ingest:\n  enabled: true\n  secret: s3cret\n")
		code, stdout, stderr := runCLIForTest(t, "config", "check", "--config", path)
		require.Equal(t, 0, code, stderr)
		assert.Equal(t, "Configuration valid.\n", stdout)
	})

	t.Run("warnings fail under strict", func(t *testing.T) {
		path := writeConfig(t, "ingest:\n  enabled: true\n")
		code, stdout, _ := runCLIForTest(t, "config", "check", "--config", path)
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout, "warning(s)")

		code, _, _ = runCLIForTest(t, "config", "check", "--strict", "--config", path)
		assert.Equal(t, 2, code)
	})

	t.Run("json", func(t *testing.T) {
		path := writeConfig(t, "webhook:\n  use_https: true\nnats:\n  enabled: true\n")
		code, stdout, stderr := runCLIForTest(t, "doctor", "--json", "--config", path)
		require.Equal(t, 0, code, stderr)

		var out struct {
			Valid    bool `json:"valid"`
			Warnings []struct {
				Field string `json:"field"`
			} `json:"warnings"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
		assert.True(t, out.Valid)
		assert.NotEmpty(t, out.Warnings)
	})

	t.Run("load error", func(t *testing.T) {
		path := writeConfig(t, "webhook:\n  port: 70000\n")
		code, _, stderr := runCLIForTest(t, "config", "check", "--config", path)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Config load error")
	})
}

func TestConfigLock(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: debug\n")
	dir := filepath.Dir(path)

	code, stdout, stderr := runCLIForTest(t, "config", "lock", "--dry-run", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Dry run")
	assert.NoFileExists(t, filepath.Join(dir, ".checksums"))

	code, stdout, stderr = runCLIForTest(t, "config", "lock", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "config.yaml")
	assert.FileExists(t, filepath.Join(dir, ".checksums"))

	_, err := config.Load(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("# tampered\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, stderr = runCLIForTest(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hash mismatch")
}

func TestEventSendDelivers(t *testing.T) {
	host, port, got := destination(t, http.StatusNoContent)
	path := writeConfig(t, fmt.Sprintf("webhook:\n  hostname: %s\n  port: %d\n  paths:\n    spatem: /in/spatem\n", host, port))

	payload := filepath.Join(t.TempDir(), "spatem.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"stationId": 7}`), 0o600))

	code, stdout, stderr := runCLIForTest(t, "event", "send", "--config", path, "spatem", payload)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HTTP 204")

	select {
	case line := <-got:
		assert.Equal(t, `/in/spatem {"stationId":7}`, line)
	case <-time.After(5 * time.Second):
		t.Fatal("destination received nothing")
	}
}

func TestEventSendNoRoute(t *testing.T) {
	path := writeConfig(t, "webhook:\n  hostname: 127.0.0.1\n")
	payload := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{}`), 0o600))

	code, _, stderr := runCLIForTest(t, "event", "send", "--config", path, "telemetry", payload)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `No route for event type "telemetry"`)
}

func TestEventSendRejectsInvalidPayload(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"broken":`), 0o600))

	code, _, stderr := runCLIForTest(t, "event", "send", "raddec", payload)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "payload is not valid JSON")
}

func TestEventSendReportsTransportFailure(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf("webhook:\n  hostname: 127.0.0.1\n  port: %d\n", port))
	payload := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"transmitterId":"aa"}`), 0o600))

	code, stdout, _ := runCLIForTest(t, "event", "send", "--json", "--config", path, "raddec", payload)
	assert.Equal(t, 1, code)

	var res sendResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, "raddec", res.EventType)
	assert.Equal(t, "ECONNREFUSED", res.ErrorCode)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), res.Target)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, res.StatusCode)
}

func TestDeliveryList(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	require.NoError(t, err)
	dl := storage.NewDeliveryLog(db)
	d := &forward.Delivery{
		ID:        "0f3c2a9e-1111-2222-3333-444455556666",
		Type:      event.Dynamb,
		URL:       "http://localhost:80/dynambs",
		BodySize:  12,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, dl.Insert(ctx, d))
	require.NoError(t, dl.Complete(ctx, d.ID, forward.Outcome{StatusCode: 201, Duration: 30 * time.Millisecond, Target: "localhost:80"}))
	require.NoError(t, db.Close())

	code, stdout, stderr := runCLIForTest(t, "delivery", "list", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "0f3c2a9e")
	assert.Contains(t, stdout, "HTTP 201")
	assert.Contains(t, stdout, "30ms")

	code, stdout, stderr = runCLIForTest(t, "delivery", "list", "--json", "--limit", "5", "--config", path)
	require.Equal(t, 0, code, stderr)
	var records []storage.DeliveryRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &records), stdout)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusCompleted, records[0].Status)
	assert.Equal(t, "dynamb", records[0].EventType)
}

func TestDeliveryListEmpty(t *testing.T) {
	path := writeConfig(t, "")
	code, stdout, stderr := runCLIForTest(t, "delivery", "list", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "No deliveries recorded.\n", stdout)
}

func TestServeStopsWithNoSources(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, log.WithComponent("main-test")) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.FileExists(t, cfg.State.Path)
}

func TestServeForwardsAndRecordsIngestedEvent(t *testing.T) {
	host, port, got := destination(t, http.StatusOK)
	listen := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	path := writeConfig(t, fmt.Sprintf(
		"webhook:\n  hostname: %s\n  port: %d\ningest:\n  enabled: true\n  listen: %s\n", host, port, listen))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, log.WithComponent("main-test")) }()

	require.Eventually(t, func() bool {
		resp, err := http.Post("http://"+listen+"/raddecs", "application/json", strings.NewReader(`{"transmitterId":"aa:bb"}`))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case line := <-got:
		assert.Equal(t, `/raddecs {"transmitterId":"aa:bb"}`, line)
	case <-time.After(5 * time.Second):
		t.Fatal("destination received nothing")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	require.NoError(t, err)
	defer db.Close()
	records, err := storage.NewDeliveryLog(db).Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusCompleted, records[0].Status)
	assert.Equal(t, 200, records[0].StatusCode)
}

func TestServeStopsWhenDestinationStalls(t *testing.T) {
	prev := shutdownDrainTimeout
	shutdownDrainTimeout = 100 * time.Millisecond
	t.Cleanup(func() { shutdownDrainTimeout = prev })

	release := make(chan struct{})
	reached := make(chan struct{}, 8)
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached <- struct{}{}
		<-release
	}))
	t.Cleanup(dest.Close)
	t.Cleanup(func() { close(release) })

	host, p, err := net.SplitHostPort(strings.TrimPrefix(dest.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)

	listen := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	path := writeConfig(t, fmt.Sprintf(
		"webhook:\n  hostname: %s\n  port: %d\ningest:\n  enabled: true\n  listen: %s\n", host, port, listen))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, log.WithComponent("main-test")) }()

	require.Eventually(t, func() bool {
		resp, err := http.Post("http://"+listen+"/events/raddec", "application/json", strings.NewReader(`{}`))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("destination received nothing")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not give up on the stalled delivery")
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	require.NoError(t, err)
	defer db.Close()
	records, err := storage.NewDeliveryLog(db).Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusSent, records[0].Status)
}

func TestWatchURL(t *testing.T) {
	t.Setenv("BARNACLES_CONFIG", "")

	tests := []struct {
		name   string
		listen string
		want   string
	}{
		{"loopback", "127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"wildcard", "0.0.0.0:9001", "http://127.0.0.1:9001"},
		{"empty host", ":9002", "http://127.0.0.1:9002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "ingest:\n  listen: \""+tt.listen+"\"\n")
			assert.Equal(t, tt.want, watchURL(path))
		})
	}
}
