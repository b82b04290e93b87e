package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/barnacles-webhook/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "event":
		return runEventNoun(args)
	case "delivery":
		return runDeliveryNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: barnacles-webhook version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("barnacles-webhook %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`barnacles-webhook - forward barnacles events to a webhook destination

Usage:
  barnacles-webhook <noun> <action> [flags]

Resources (Nouns):
  system    Service lifecycle
  config    Configuration and integrity
  event     Manual event dispatch
  delivery  Delivery history

System Commands:
  system start      Run the ingest listener and NATS source in the foreground
  system watch      Real-time delivery monitor (TUI)

Config Commands:
  config check      Validate configuration and report warnings
  config lock       Record the config file's BLAKE3 hash in .checksums

Event Commands:
  event send <type> [file|-]   Dispatch one JSON payload and wait for the outcome

Delivery Commands:
  delivery list     Show recent deliveries from the state database

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'barnacles-webhook <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock", "hash-update":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runEventNoun(args []string) int {
	if len(args) < 1 {
		printEventNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEventNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "send":
		if hasHelpFlag(actionArgs) {
			printEventSendHelp()
			return 0
		}
		return runEventSend(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown event action: %s\n", action)
		return 1
	}
}

func runDeliveryNoun(args []string) int {
	if len(args) < 1 {
		printDeliveryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDeliveryNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printDeliveryListHelp()
			return 0
		}
		return runDeliveryList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown delivery action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// loadConfig resolves configPath (discovering it when empty) and loads it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to discover config: %w", err)
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: barnacles-webhook system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: barnacles-webhook config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printEventNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: barnacles-webhook event <action> [flags]")
	fmt.Fprintln(w, "Actions: send")
}

func printDeliveryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: barnacles-webhook delivery <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printSystemStartHelp() {
	fmt.Println("Usage: barnacles-webhook system start [--config PATH]")
	fmt.Println("Run the ingest listener and NATS source in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: barnacles-webhook system watch [--url URL | --config PATH]")
	fmt.Println()
	fmt.Println("Real-time delivery monitor. Follows the ingest server's /events stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL        Ingest server base URL (default: from config, else http://127.0.0.1:8089)")
	fmt.Println("  --config PATH    Read ingest.listen from this config")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll deliveries")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: barnacles-webhook config check [--config PATH] [--format human|json] [--json] [--strict]")
	fmt.Println("Validate configuration. Exits 1 on errors, 2 on warnings with --strict.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: barnacles-webhook config lock [--config PATH] [--dry-run]")
	fmt.Println("Record the config file's BLAKE3 hash in .checksums beside it.")
}

func printEventSendHelp() {
	fmt.Println("Usage: barnacles-webhook event send [--config PATH] [--timeout D] [--json] <type> [file|-]")
	fmt.Println("Dispatch one JSON payload (from file, or stdin when omitted or '-') and wait for the outcome.")
	fmt.Println("Exits 1 when the type has no route or the request fails at the transport level.")
}

func printDeliveryListHelp() {
	fmt.Println("Usage: barnacles-webhook delivery list [--config PATH] [--limit N] [--json]")
	fmt.Println("Show the most recent deliveries recorded by 'system start'.")
}
