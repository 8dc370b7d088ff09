// Package bootstrap runs the startup validation sequence: store
// initialization, environment and configuration checks, database
// consistency repair, and extension loading. It owns the retry policy
// for recoverable problems and the restart signal for unrecoverable
// ones; the supervisor decides what a restart means.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ishannaik/Tweetcord/internal/bot"
	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/registry"
)

// Stage names the bootstrap phases in order. The current stage is
// reported through the OnStage hook so the status page and metrics can
// show startup progress.
type Stage string

const (
	StageInit             Stage = "INIT"
	StageStoreReady       Stage = "STORE_READY"
	StageEnvCheck         Stage = "ENV_CHECK"
	StageConfigCheck      Stage = "CONFIG_CHECK"
	StageRetryWait        Stage = "RETRY_WAIT"
	StageDBConsistency    Stage = "DB_CONSISTENCY"
	StageExtensionsLoaded Stage = "EXTENSIONS_LOADED"
	StageReady            Stage = "READY"
)

// ErrRestartRequested tells the supervisor that the process must be
// rebuilt from scratch: configuration on disk is broken in a way a
// running process cannot absorb. Callers match with errors.Is.
var ErrRestartRequested = errors.New("restart requested")

// Loader is the slice of the extension registry the orchestrator needs.
type Loader interface {
	LoadAll() []registry.Result
}

// Orchestrator drives the bootstrap sequence exactly once. Each process
// generation builds a fresh one.
type Orchestrator struct {
	BC         *bot.Context
	Extensions Loader
	Readiness  *Readiness
	Logger     *slog.Logger

	// OnStage is called at every stage transition. Optional.
	OnStage func(Stage)
	// OnRepair is called with the number of rewritten records after a
	// consistency repair. Optional.
	OnRepair func(n int)

	// Sleep waits out a retry interval, returning early with the context
	// error on cancellation. Tests substitute a recorder; nil gets the
	// real timer-backed wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the bootstrap sequence. On success the readiness flag is
// set and the bot is fully operational. ErrRestartRequested means the
// supervisor should tear everything down and start a fresh generation;
// any other error is fatal for the process.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}

	o.setStage(StageInit)
	o.Logger.Info("bootstrap starting")

	if err := o.initStore(); err != nil {
		return err
	}
	o.setStage(StageStoreReady)

	if err := o.checkEnvironment(ctx); err != nil {
		return err
	}
	if err := o.checkConfig(ctx); err != nil {
		return err
	}
	if err := o.checkConsistency(); err != nil {
		return err
	}

	o.setStage(StageExtensionsLoaded)
	results := o.Extensions.LoadAll()
	loaded := registry.Succeeded(results)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := bot.UpdatePresence(ctx, o.BC); err != nil {
		// The bot works without a presence line; the reporter retries on
		// the next store mutation.
		o.Logger.Warn("initial presence update failed", "error", err)
	}

	o.Readiness.Set()
	o.setStage(StageReady)
	o.Logger.Info("bootstrap complete",
		"extensions_loaded", loaded,
		"extensions_total", len(results),
	)
	return nil
}

// initStore creates the schema for a store file that did not exist
// before this process opened it, then runs the schema upgrade
// unconditionally. Files written by older releases are migrated in
// place before anything reads them; the consistency check handles
// their contents afterwards.
func (o *Orchestrator) initStore() error {
	if o.BC.Store.Existed() {
		o.Logger.Debug("store file already present", "path", o.BC.Store.Path())
	} else {
		o.Logger.Info("initializing new store", "path", o.BC.Store.Path())
		if err := o.BC.Store.Init(); err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
	}
	if err := o.BC.Store.Upgrade(); err != nil {
		return fmt.Errorf("upgrade store schema: %w", err)
	}
	return nil
}

// checkEnvironment verifies the required environment variables, waiting
// out one retry interval if they are incomplete so an operator (or an
// injected .env file) can fix them. A second failure is logged and the
// process starts anyway: a degraded bot that serves its status page
// beats a crash loop.
func (o *Orchestrator) checkEnvironment(ctx context.Context) error {
	o.setStage(StageEnvCheck)
	if config.CheckEnvironment() {
		return nil
	}

	o.Logger.Warn("required environment variables missing, retrying once",
		"required", config.RequiredEnv(),
		"wait_seconds", o.BC.Config.RetryWait(),
	)
	if err := o.retryWait(ctx); err != nil {
		return err
	}

	config.LoadDotenv()
	o.setStage(StageEnvCheck)
	if !config.CheckEnvironment() {
		o.Logger.Error("environment still incomplete, starting degraded",
			"required", config.RequiredEnv(),
		)
	}
	return nil
}

// checkConfig validates the on-disk configuration shape. One retry
// re-reads the file, so an operator edit during the wait is picked up;
// a second failure requests a full restart rather than running with an
// unknown configuration.
func (o *Orchestrator) checkConfig(ctx context.Context) error {
	o.setStage(StageConfigCheck)
	if config.CheckConfig(o.BC.Config.Raw()) {
		return nil
	}

	o.Logger.Warn("configuration file failed validation, retrying once",
		"path", o.BC.Config.Path(),
		"wait_seconds", o.BC.Config.RetryWait(),
	)
	if err := o.retryWait(ctx); err != nil {
		return err
	}

	o.setStage(StageConfigCheck)
	if path := o.BC.Config.Path(); path != "" {
		reloaded, err := config.Load(path)
		if err == nil && config.CheckConfig(reloaded.Raw()) {
			// Nothing downstream has consumed the config yet: extensions
			// load after this stage, so the swap is safe.
			o.BC.Config = reloaded
			o.Logger.Info("configuration recovered on retry", "path", path)
			return nil
		}
	}

	o.Logger.Error("configuration still invalid, requesting restart",
		"path", o.BC.Config.Path(),
	)
	return ErrRestartRequested
}

// checkConsistency repairs (or reports) records owned by clients that
// are no longer configured.
func (o *Orchestrator) checkConsistency() error {
	o.setStage(StageDBConsistency)

	configured := config.ClientNames()
	invalid, err := o.BC.Store.CheckConsistency(configured)
	if err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	if len(invalid) == 0 {
		return nil
	}

	if !o.BC.Config.AutoRepairMismatchedClients {
		o.Logger.Warn("records owned by unconfigured clients (auto-repair disabled)",
			"count", len(invalid),
		)
		return nil
	}

	fallback, ok := config.FirstClient()
	if !ok {
		o.Logger.Warn("cannot repair mismatched records: no clients configured",
			"count", len(invalid),
		)
		return nil
	}

	n, err := o.BC.Store.Repair(invalid, fallback.Name)
	if err != nil {
		return fmt.Errorf("repair mismatched records: %w", err)
	}
	o.Logger.Info("repaired mismatched records",
		"count", n,
		"fallback_client", fallback.Name,
	)
	if o.OnRepair != nil {
		o.OnRepair(n)
	}
	return nil
}

func (o *Orchestrator) retryWait(ctx context.Context) error {
	o.setStage(StageRetryWait)
	return o.Sleep(ctx, time.Duration(o.BC.Config.RetryWait())*time.Second)
}

func (o *Orchestrator) setStage(s Stage) {
	if o.OnStage != nil {
		o.OnStage(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
