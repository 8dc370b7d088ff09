// Package registry tracks which command-extension modules are loaded.
// Extensions are declared in a static table of named constructors —
// explicit registration at startup instead of runtime directory
// introspection — and loaded, unloaded, or reloaded by name. The
// registry is the sole owner of load state.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Ishannaik/Tweetcord/internal/bot"
)

// Load-state errors. Callers match with errors.Is.
var (
	ErrAlreadyLoaded = errors.New("extension already loaded")
	ErrNotLoaded     = errors.New("extension not loaded")
	ErrUnknown       = errors.New("unknown extension")
)

// Extension is one loadable command module. Setup registers the
// extension's command surface on the shared context; Teardown removes
// it. Both must be safe to call again after the other.
type Extension interface {
	Name() string
	Setup(bc *bot.Context) error
	Teardown(bc *bot.Context) error
}

// Factory constructs a fresh extension instance. Reload uses it to get
// fresh state rather than reusing the unloaded instance.
type Factory func() Extension

// Result records the outcome of loading one extension during LoadAll.
type Result struct {
	Name string
	Err  error
}

// Succeeded counts the successful results in a LoadAll outcome.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Registry holds the constructor table and the currently loaded set.
// All state mutation happens under one mutex; administrative commands
// are serialized by the platform's dispatch anyway, but the lock keeps
// the registry safe regardless.
type Registry struct {
	bc     *bot.Context
	logger *slog.Logger

	mu        sync.Mutex
	factories map[string]Factory
	order     []string // registration order, for deterministic LoadAll
	loaded    map[string]Extension
}

// New creates a registry bound to the shared bot context.
func New(bc *bot.Context, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bc:        bc,
		logger:    logger,
		factories: make(map[string]Factory),
		loaded:    make(map[string]Extension),
	}
}

// Add declares a named extension constructor. Called once per extension
// at startup, before any Load; later registrations of the same name
// replace the earlier constructor.
func (r *Registry) Add(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = f
}

// Names returns every discoverable extension name in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Loaded returns the names of currently loaded extensions, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load loads the named extension exactly once. Loading an already
// loaded name fails with ErrAlreadyLoaded and leaves state unchanged.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(name)
}

func (r *Registry) loadLocked(name string) error {
	if _, isLoaded := r.loaded[name]; isLoaded {
		return fmt.Errorf("%s: %w", name, ErrAlreadyLoaded)
	}
	factory, known := r.factories[name]
	if !known {
		return fmt.Errorf("%s: %w", name, ErrUnknown)
	}

	ext := factory()
	if err := ext.Setup(r.bc); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	r.loaded[name] = ext
	r.logger.Info("extension loaded", "extension", name)
	return nil
}

// Unload tears the named extension down. Fails with ErrNotLoaded if it
// is not currently loaded.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLocked(name)
}

func (r *Registry) unloadLocked(name string) error {
	ext, isLoaded := r.loaded[name]
	if !isLoaded {
		return fmt.Errorf("%s: %w", name, ErrNotLoaded)
	}
	if err := ext.Teardown(r.bc); err != nil {
		return fmt.Errorf("unload %s: %w", name, err)
	}
	delete(r.loaded, name)
	r.logger.Info("extension unloaded", "extension", name)
	return nil
}

// Reload is best-effort "ensure loaded with fresh code": it unloads the
// extension if it is loaded, then loads a fresh instance. A not-loaded
// extension is not an error for the unload half — reload of an unloaded
// extension simply loads it. Any other teardown failure aborts before
// the load, since a half-torn-down extension must not be doubled up.
func (r *Registry) Reload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.unloadLocked(name); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return r.loadLocked(name)
}

// LoadAll loads every registered extension in registration order,
// collecting a per-extension result. One failing extension never
// prevents its siblings from loading; the caller surfaces the summary.
func (r *Registry) LoadAll() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]Result, 0, len(r.order))
	for _, name := range r.order {
		err := r.loadLocked(name)
		if err != nil {
			r.logger.Warn("extension failed to load", "extension", name, "error", err)
		}
		results = append(results, Result{Name: name, Err: err})
	}
	return results
}
