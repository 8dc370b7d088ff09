package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ishannaik/Tweetcord/internal/registry"
	"github.com/Ishannaik/Tweetcord/internal/status"
	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

const testConfigYAML = `prefix: "!"
activity_name: tracked accounts
auto_repair_mismatched_clients: true
retry_wait_seconds: 1
gateway_url: ws://127.0.0.1:9/ws
notifier_interval_seconds: 300
notifier_channel_id: news
feed_url: http://127.0.0.1:9/feed
`

func setupEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("PORT", "0")
	t.Setenv("BOT_TOKEN", "tok")
	t.Setenv("DATA_PATH", dataDir)
	t.Setenv("CLIENT_TOKENS", "main=tok1")
	return dataDir
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestRunCleanShutdown drives a full degraded generation: the gateway
// endpoint is unreachable, so the bot comes up without a connection,
// completes bootstrap, and exits cleanly on cancellation.
func TestRunCleanShutdown(t *testing.T) {
	dataDir := setupEnv(t)
	s := &Supervisor{
		ConfigPath: writeConfig(t, testConfigYAML),
		Logger:     slog.New(slog.DiscardHandler),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run(): %v", err)
	}

	if _, err := os.Stat(filepath.Join(dataDir, trackdb.FileName)); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestRunFailsWithoutConfig(t *testing.T) {
	setupEnv(t)
	s := &Supervisor{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Logger:     slog.New(slog.DiscardHandler),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.Run(ctx); err == nil {
		t.Fatal("Run() = nil error for a missing config file")
	}
}

func TestOfflineMessengerAlwaysErrors(t *testing.T) {
	m := offlineMessenger{}
	ctx := context.Background()

	if err := m.SendMessage(ctx, "ch", "hi"); !errors.Is(err, errGatewayOffline) {
		t.Errorf("SendMessage() = %v", err)
	}
	if err := m.SendFile(ctx, "ch", "f.db", nil); !errors.Is(err, errGatewayOffline) {
		t.Errorf("SendFile() = %v", err)
	}
	if err := m.SetPresence(ctx, "x"); !errors.Is(err, errGatewayOffline) {
		t.Errorf("SetPresence() = %v", err)
	}
}

func TestInstrumentedLoaderForwardsResults(t *testing.T) {
	// An empty registry loads nothing, but the pass-through shape is
	// what matters here.
	reg := registry.New(nil, slog.New(slog.DiscardHandler))
	loader := &instrumentedLoader{reg: reg, metrics: status.NewMetrics()}

	if results := loader.LoadAll(); len(results) != 0 {
		t.Errorf("LoadAll() = %v, want empty", results)
	}
}
