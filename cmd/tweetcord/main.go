// Tweetcord is a chat-platform bot that tracks external accounts and
// announces their new posts.
//
// On startup it brings up a public status HTTP server before anything
// else, then validates its environment, configuration, and database
// consistency, loads its command extensions, and connects to the chat
// gateway. Configuration comes from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); credentials come
// from the environment, optionally seeded by a .env file.
//
// Usage:
//
//	tweetcord serve          Start the bot and status server
//	tweetcord init [dir]     Initialize a working directory with defaults
//	tweetcord check          Validate configuration and environment
//	tweetcord version        Print version and build information
//	tweetcord -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Ishannaik/Tweetcord/internal/buildinfo"
	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/supervisor"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tweetcord command. All OS-level
// dependencies are injected as parameters; run returns nil on clean
// shutdown and a non-nil error for any failure. The caller (main) is
// responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "check":
		return runCheck(stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe starts the supervisor: status server, bootstrap sequence,
// gateway connection, and the restart loop.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	// .env first so the config file's ${VAR} references and the required
	// credential checks both see the merged environment.
	config.LoadDotenv()

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	logW := stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logW = io.MultiWriter(stdout, f)
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := config.NewLogger(logW, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info(buildinfo.String())
	logger.Info("config loaded", "path", path)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := &supervisor.Supervisor{
		ConfigPath: path,
		Logger:     logger,
	}
	return s.Run(ctx)
}

// runCheck validates the config file and the environment without
// starting anything, for CI and pre-deploy sanity checks.
func runCheck(w io.Writer, configPath string) error {
	config.LoadDotenv()

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	failed := false
	if config.CheckConfig(cfg.Raw()) {
		fmt.Fprintf(w, "config  ok    %s\n", path)
	} else {
		fmt.Fprintf(w, "config  FAIL  %s\n", path)
		failed = true
	}

	if config.CheckEnvironment() {
		fmt.Fprintf(w, "env     ok    %s\n", strings.Join(config.RequiredEnv(), ", "))
	} else {
		fmt.Fprintf(w, "env     FAIL  required: %s\n", strings.Join(config.RequiredEnv(), ", "))
		failed = true
	}

	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tweetcord - account tracking chat bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tweetcord [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bot and status server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  check        Validate configuration and environment")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/tweetcord/config.yaml, /etc/tweetcord/config.yaml")
	return nil
}
