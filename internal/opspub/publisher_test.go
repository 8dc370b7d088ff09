package opspub

import (
	"log/slog"
	"testing"

	"github.com/Ishannaik/Tweetcord/internal/config"
)

func TestTopicLayout(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTDeviceName = "prod-bot"
	p := New(cfg, nil, slog.New(slog.DiscardHandler))

	if got := p.availabilityTopic(); got != "tweetcord/prod-bot/availability" {
		t.Errorf("availabilityTopic() = %q", got)
	}
	if got := p.stateTopic("ready"); got != "tweetcord/prod-bot/ready/state" {
		t.Errorf("stateTopic(ready) = %q", got)
	}
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "://not-a-url"
	p := New(cfg, nil, slog.New(slog.DiscardHandler))

	if err := p.Start(t.Context()); err == nil {
		t.Fatal("Start() = nil error for unparseable broker URL")
	}
}
