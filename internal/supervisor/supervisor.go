// Package supervisor owns the process lifecycle: it starts the status
// server before anything else, runs bot generations, and turns restart
// requests into a fresh generation instead of a process exec. A
// generation is everything that depends on the loaded configuration;
// the status server and the metrics registry outlive generations.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Ishannaik/Tweetcord/internal/bootstrap"
	"github.com/Ishannaik/Tweetcord/internal/bot"
	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/extensions"
	"github.com/Ishannaik/Tweetcord/internal/gateway"
	"github.com/Ishannaik/Tweetcord/internal/opspub"
	"github.com/Ishannaik/Tweetcord/internal/registry"
	"github.com/Ishannaik/Tweetcord/internal/status"
	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

// Supervisor runs the whole process.
type Supervisor struct {
	// ConfigPath is the explicit -config flag value; empty means search
	// the default locations.
	ConfigPath string
	Logger     *slog.Logger
}

// Run blocks until the context is cancelled or something fatal happens.
// The status server comes up first so the hosting platform sees a
// responsive process even if every later step fails; it is torn down
// last for the same reason.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	readiness := &bootstrap.Readiness{}
	metrics := status.NewMetrics()
	statusSrv := status.NewServer(config.Port(), readiness, nil, metrics, s.Logger)

	statusErr := make(chan error, 1)
	go func() { statusErr <- statusSrv.Start(ctx) }()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusSrv.Shutdown(shutCtx); err != nil {
			s.Logger.Warn("status server shutdown", "error", err)
		}
	}()

	for {
		err := s.runGeneration(ctx, readiness, metrics, statusSrv, statusErr)
		switch {
		case errors.Is(err, bootstrap.ErrRestartRequested):
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.Info("restarting bot")
			readiness.Reset()
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	}
}

// runGeneration builds and runs one configured instance of the bot. It
// returns ErrRestartRequested when the instance should be rebuilt, nil
// on clean shutdown, and anything else as a fatal process error.
func (s *Supervisor) runGeneration(
	ctx context.Context,
	readiness *bootstrap.Readiness,
	metrics *status.Metrics,
	statusSrv *status.Server,
	statusErr <-chan error,
) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := s.Logger

	path, err := config.FindConfig(s.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	dataDir := config.DataPath()
	if dataDir == "" {
		dataDir = "."
	}
	store, err := trackdb.Open(filepath.Join(dataDir, trackdb.FileName))
	if err != nil {
		return err
	}
	defer store.Close()
	statusSrv.SetStore(store)

	// The bot runs degraded when the gateway is unreachable: commands
	// are dead but the status page and store stay up, which is what a
	// hosting platform's health checks need during an outage.
	var messenger bot.Messenger
	gw := gateway.New(cfg.GatewayURL, config.BotToken(), logger)
	if err := gw.Connect(gctx); err != nil {
		logger.Error("gateway connect failed, starting degraded", "error", err)
		gw = nil
		messenger = offlineMessenger{}
	} else {
		defer gw.Close()
		messenger = gw
	}

	fatalCh := make(chan error, 1)
	bc := &bot.Context{
		Logger:   logger,
		Config:   cfg,
		Store:    store,
		Gateway:  messenger,
		Commands: bot.NewMux(logger),
		Fatal: func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
	}

	reg := registry.New(bc, logger)
	extensions.Register(reg)
	if err := bot.RegisterAdminCommands(bc, reg); err != nil {
		return err
	}

	orch := &bootstrap.Orchestrator{
		BC:         bc,
		Extensions: &instrumentedLoader{reg: reg, metrics: metrics},
		Readiness:  readiness,
		Logger:     logger,
		OnStage: func(stage bootstrap.Stage) {
			statusSrv.SetStage(stage)
			metrics.SetStage(stage)
		},
		OnRepair: metrics.ObserveRepair,
	}
	if err := orch.Run(gctx); err != nil {
		return err
	}

	restartCh := make(chan struct{}, 1)
	requestRestart := func() {
		select {
		case restartCh <- struct{}{}:
		default:
		}
	}

	if cfg.WatchConfig {
		watcher, err := config.NewWatcher(cfg.Path(), requestRestart, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			go func() {
				if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("config watcher stopped", "error", err)
				}
			}()
		}
	}

	if cfg.MQTTConfigured() {
		pub := opspub.New(cfg, &statsAdapter{readiness: readiness, store: store}, logger)
		go func() {
			if err := pub.Start(gctx); err != nil {
				logger.Warn("heartbeat publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("heartbeat publisher shutdown", "error", err)
			}
		}()
	}

	if gw != nil {
		go pumpEvents(gctx, bc, gw)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case <-restartCh:
		return bootstrap.ErrRestartRequested
	case err := <-fatalCh:
		logger.Error("unrecoverable failure, shutting down", "error", err)
		return err
	case err := <-statusErr:
		if err == nil {
			err = errors.New("status server stopped unexpectedly")
		}
		return fmt.Errorf("status server: %w", err)
	}
}

// pumpEvents feeds gateway dispatch events into the command mux until
// the generation ends or the gateway closes its event channel.
func pumpEvents(ctx context.Context, bc *bot.Context, gw *gateway.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-gw.Events():
			if !ok {
				return
			}
			if ev.Type != gateway.EventMessageCreate {
				continue
			}
			msg, err := gateway.ParseMessage(ev)
			if err != nil {
				bc.Logger.Warn("malformed message event", "error", err)
				continue
			}
			if msg.Author.ID == gw.BotUser().ID {
				continue
			}
			bc.Commands.Dispatch(ctx, bc, msg)
		}
	}
}

// instrumentedLoader forwards LoadAll to the registry and records the
// per-extension outcomes.
type instrumentedLoader struct {
	reg     *registry.Registry
	metrics *status.Metrics
}

func (l *instrumentedLoader) LoadAll() []registry.Result {
	results := l.reg.LoadAll()
	l.metrics.ObserveExtensionLoads(results)
	return results
}

// statsAdapter exposes runtime state to the heartbeat publisher.
type statsAdapter struct {
	readiness *bootstrap.Readiness
	store     *trackdb.Store
}

func (a *statsAdapter) Ready() bool { return a.readiness.Ready() }

func (a *statsAdapter) TrackedAccounts() (int, error) { return a.store.Count() }

// errGatewayOffline is what every outbound call answers while the
// gateway is unreachable.
var errGatewayOffline = errors.New("gateway offline")

type offlineMessenger struct{}

func (offlineMessenger) SendMessage(context.Context, string, string) error {
	return errGatewayOffline
}

func (offlineMessenger) SendFile(context.Context, string, string, []byte) error {
	return errGatewayOffline
}

func (offlineMessenger) SetPresence(context.Context, string) error {
	return errGatewayOffline
}
