package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/barnacles-webhook/internal/config"
	"github.com/mattjoyce/barnacles-webhook/internal/doctor"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
	"github.com/mattjoyce/barnacles-webhook/internal/log"
	"github.com/mattjoyce/barnacles-webhook/internal/storage"
	"github.com/mattjoyce/barnacles-webhook/internal/tui"
)

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&dryRun, "dry-run", false, "Show hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}
	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, "config.yaml")
	}

	report, err := config.Lock(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	fmt.Printf("%s  %s\n", report.Hash, filepath.Base(report.ConfigPath))
	if report.Written {
		fmt.Printf("Wrote %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Dry run: %s not modified\n", report.ChecksumPath)
	}
	return 0
}

type sendResult struct {
	DeliveryID string `json:"delivery_id"`
	EventType  string `json:"event_type"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Bytes      int64  `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	ErrorCode  string `json:"error_code,omitempty"`
	Target     string `json:"target,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runEventSend(args []string) int {
	var configPath string
	var timeout time.Duration
	var jsonOut bool

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the delivery outcome")
	fs.BoolVar(&jsonOut, "json", false, "Output the outcome as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "Usage: barnacles-webhook event send [flags] <type> [file|-]")
		return 1
	}
	eventType := fs.Arg(0)

	payload, err := readPayload(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Payload error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	// Failures are reported below, not through the dispatcher's logger.
	fcfg := cfg.Forward()
	fcfg.ReportErrors = false
	d := forward.New(fcfg, forward.WithLogger(log.WithComponent("event-send")))

	dl, err := d.Dispatch(eventType, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}
	if dl == nil {
		fmt.Fprintf(os.Stderr, "No route for event type %q; nothing sent\n", eventType)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	o, err := dl.Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delivery %s still in flight after %s\n", dl.ID, timeout)
		return 1
	}

	res := sendResult{
		DeliveryID: dl.ID,
		EventType:  dl.Type.String(),
		URL:        dl.URL,
		StatusCode: o.StatusCode,
		Bytes:      o.Bytes,
		DurationMS: o.Duration.Milliseconds(),
		ErrorCode:  o.Code,
		Target:     o.Target,
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
	}

	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else if o.Failed() {
		fmt.Fprintf(os.Stderr, "Delivery %s failed: %s %s: %v\n", dl.ID, o.Code, o.Target, o.Err)
	} else {
		fmt.Printf("Delivered %s to %s: HTTP %d in %s\n", dl.ID, dl.URL, o.StatusCode, o.Duration.Round(time.Millisecond))
	}

	if o.Failed() {
		return 1
	}
	return 0
}

// readPayload reads a JSON document from path, or from stdin when path is
// empty or "-".
func readPayload(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func runDeliveryList(args []string) int {
	var configPath string
	var limit int
	var jsonOut bool

	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.IntVar(&limit, "limit", 20, "Number of deliveries to show")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	records, err := storage.NewDeliveryLog(db).Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list deliveries: %v\n", err)
		return 1
	}

	if jsonOut {
		if records == nil {
			records = []storage.DeliveryRecord{}
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(records) == 0 {
		fmt.Println("No deliveries recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tTYPE\tSTATUS\tRESULT\tDURATION\tURL")
	for _, r := range records {
		result := "-"
		switch {
		case r.ErrorCode != "":
			result = r.ErrorCode
		case r.StatusCode != 0:
			result = fmt.Sprintf("HTTP %d", r.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), shortID(r.ID), r.EventType, r.Status, result, r.DurationMS, r.URL)
	}
	_ = tw.Flush()
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	baseURL := fs.String("url", "", "Ingest server base URL")
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url := *baseURL
	if url == "" {
		url = watchURL(*configPath)
	}

	p := tea.NewProgram(tui.New(url))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// watchURL derives the monitor URL from ingest.listen, falling back to the
// default listen address when no config can be loaded.
func watchURL(configPath string) string {
	listen := config.Defaults().Ingest.Listen
	if cfg, err := loadConfig(configPath); err == nil && cfg.Ingest.Listen != "" {
		listen = cfg.Ingest.Listen
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + strings.TrimPrefix(listen, "http://")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
