package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is the starter configuration written by "tweetcord
// init". Every key the schema requires is present with a sensible
// value, so a fresh workspace passes "tweetcord check" immediately.
const defaultConfigYAML = `# Tweetcord configuration.
# Credentials (BOT_TOKEN, CLIENT_TOKENS, DATA_PATH) live in the
# environment or a .env file, never in this file.

prefix: "!"
activity_name: tracked accounts
owner_ids: []

# Rewrite records owned by clients that are no longer configured to the
# first configured client during the startup consistency check.
auto_repair_mismatched_clients: true

# Seconds to wait before retrying a failed startup validation.
retry_wait_seconds: 30

# Restart the bot when this file changes on disk.
watch_config: false

gateway_url: wss://gateway.example.com/ws

notifier_enabled: false
notifier_interval_seconds: 300
notifier_channel_id: announcements
feed_url: ""

log_level: info
log_format: text
log_file: ""
`

// defaultDotenv documents the required credentials without shipping any.
const defaultDotenv = `# Copy to .env and fill in. Loaded at startup; existing environment
# variables win over entries here.
BOT_TOKEN=
DATA_PATH=./data
CLIENT_TOKENS=main=token-here
`

// runInit initializes a Tweetcord working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Tweetcord workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Join(dir, "data"), err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	envPath := filepath.Join(dir, ".env.example")
	if err := writeIfMissing(envPath, []byte(defaultDotenv)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", envPath)

	fmt.Fprintln(w, "Done. Copy .env.example to .env, fill in credentials, then run: tweetcord serve")
	return nil
}

// writeIfMissing writes content to path unless the file already exists.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
