// Package config handles Tweetcord configuration loading and validation.
//
// Configuration is loaded exactly once at process start and treated as
// immutable for the process lifetime. Changing it requires a full restart
// (the supervisor owns that policy); nothing in this package mutates a
// loaded Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/tweetcord/config.yaml, /etc/tweetcord/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tweetcord", "config.yaml"))
	}

	paths = append(paths, "/etc/tweetcord/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tweetcord options. The file is a flat mapping from
// option name to value; see Schema for the required subset.
type Config struct {
	// Prefix is the character sequence that marks a chat message as a
	// command (e.g. "!").
	Prefix string `yaml:"prefix"`
	// ActivityName is the presence activity template. The tracked-account
	// count is appended by the presence reporter.
	ActivityName string `yaml:"activity_name"`
	// OwnerIDs are the chat-platform user IDs allowed to run the
	// administrative commands (load, unload, reload, exportdata, ...).
	OwnerIDs []string `yaml:"owner_ids"`
	// AutoRepairMismatchedClients enables rewriting records whose owning
	// client is no longer configured to the first configured client.
	AutoRepairMismatchedClients bool `yaml:"auto_repair_mismatched_clients"`
	// RetryWaitSeconds is the backoff interval used by the bootstrap
	// orchestrator between validation retries (default 30).
	RetryWaitSeconds int `yaml:"retry_wait_seconds"`
	// WatchConfig enables the fsnotify watcher that turns an on-disk
	// config edit into a restart request.
	WatchConfig bool `yaml:"watch_config"`

	// GatewayURL is the chat-platform gateway WebSocket endpoint.
	GatewayURL string `yaml:"gateway_url"`

	// NotifierEnabled toggles the notifier extension's polling job.
	NotifierEnabled bool `yaml:"notifier_enabled"`
	// NotifierIntervalSeconds is the poll interval for new posts.
	NotifierIntervalSeconds int `yaml:"notifier_interval_seconds"`
	// NotifierChannelID is the chat channel that receives announcements.
	NotifierChannelID string `yaml:"notifier_channel_id"`
	// FeedURL is the endpoint the notifier polls for account posts.
	FeedURL string `yaml:"feed_url"`

	// MQTTBroker enables the operational heartbeat publisher when set
	// (e.g. "mqtt://broker:1883"). Empty disables it.
	MQTTBroker             string `yaml:"mqtt_broker"`
	MQTTUsername           string `yaml:"mqtt_username"`
	MQTTPassword           string `yaml:"mqtt_password"`
	MQTTDeviceName         string `yaml:"mqtt_device_name"`
	MQTTPublishIntervalSec int    `yaml:"mqtt_publish_interval_sec"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// LogFile mirrors log output to a file when set, which is what the
	// exportlog admin command ships to the operator.
	LogFile string `yaml:"log_file"`

	raw  map[string]any
	path string
}

// Load reads configuration from a YAML file. Environment variable
// references (${VAR}) in the file are expanded before parsing, so
// secrets can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	// Keep the raw mapping alongside the typed struct so CheckConfig can
	// distinguish "key absent" from "zero value" and verify value kinds.
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, err
	}

	cfg.raw = raw
	cfg.path = path
	return cfg, nil
}

// Default returns a configuration with built-in defaults applied.
func Default() *Config {
	return &Config{
		Prefix:                  "!",
		ActivityName:            "tracked accounts",
		RetryWaitSeconds:        30,
		NotifierIntervalSeconds: 300,
		MQTTDeviceName:          "tweetcord",
		MQTTPublishIntervalSec:  60,
	}
}

// Raw returns the untyped option mapping as loaded from disk, or nil for a
// Config that was constructed rather than loaded.
func (c *Config) Raw() map[string]any { return c.raw }

// Path returns the file this Config was loaded from.
func (c *Config) Path() string { return c.path }

// RetryWait returns the orchestrator backoff interval with the default
// applied when the option is unset or nonsensical.
func (c *Config) RetryWait() int {
	if c.RetryWaitSeconds <= 0 {
		return 30
	}
	return c.RetryWaitSeconds
}

// IsOwner reports whether the given chat user ID may run admin commands.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MQTTConfigured reports whether the heartbeat publisher should run.
func (c *Config) MQTTConfigured() bool { return c.MQTTBroker != "" }
