package registry

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/Ishannaik/Tweetcord/internal/bot"
	"github.com/Ishannaik/Tweetcord/internal/config"
)

// stubExt counts lifecycle calls and can be primed to fail setup.
type stubExt struct {
	name      string
	setups    *int
	teardowns *int
	setupErr  error
}

func (s *stubExt) Name() string { return s.name }

func (s *stubExt) Setup(bc *bot.Context) error {
	if s.setupErr != nil {
		return s.setupErr
	}
	*s.setups++
	return nil
}

func (s *stubExt) Teardown(bc *bot.Context) error {
	*s.teardowns++
	return nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bc := &bot.Context{
		Logger:   logger,
		Config:   config.Default(),
		Commands: bot.NewMux(logger),
	}
	return New(bc, logger)
}

func addStub(r *Registry, name string) (setups, teardowns *int) {
	setups, teardowns = new(int), new(int)
	r.Add(name, func() Extension {
		return &stubExt{name: name, setups: setups, teardowns: teardowns}
	})
	return setups, teardowns
}

func TestLoadUnloadRoundTrip(t *testing.T) {
	r := testRegistry(t)
	setups, teardowns := addStub(r, "tracker")

	if err := r.Load("tracker"); err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if got := r.Loaded(); len(got) != 1 || got[0] != "tracker" {
		t.Errorf("Loaded() = %v, want [tracker]", got)
	}

	if err := r.Unload("tracker"); err != nil {
		t.Fatalf("Unload(): %v", err)
	}
	if got := r.Loaded(); len(got) != 0 {
		t.Errorf("Loaded() = %v after unload, want empty", got)
	}
	if *setups != 1 || *teardowns != 1 {
		t.Errorf("setups=%d teardowns=%d, want 1/1", *setups, *teardowns)
	}
}

func TestLoadAlreadyLoaded(t *testing.T) {
	r := testRegistry(t)
	setups, _ := addStub(r, "tracker")

	if err := r.Load("tracker"); err != nil {
		t.Fatalf("Load(): %v", err)
	}
	err := r.Load("tracker")
	if !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load() error = %v, want ErrAlreadyLoaded", err)
	}
	if *setups != 1 {
		t.Errorf("setup ran %d times, want 1 (state must be unchanged)", *setups)
	}
}

func TestUnloadNotLoaded(t *testing.T) {
	r := testRegistry(t)
	addStub(r, "tracker")

	if err := r.Unload("tracker"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Unload() error = %v, want ErrNotLoaded", err)
	}
}

func TestLoadUnknown(t *testing.T) {
	r := testRegistry(t)

	if err := r.Load("ghost"); !errors.Is(err, ErrUnknown) {
		t.Errorf("Load(ghost) error = %v, want ErrUnknown", err)
	}
}

func TestReloadLoadedGetsFreshInstance(t *testing.T) {
	r := testRegistry(t)
	setups, teardowns := addStub(r, "tracker")

	if err := r.Load("tracker"); err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if err := r.Reload("tracker"); err != nil {
		t.Fatalf("Reload(): %v", err)
	}
	if *teardowns != 1 || *setups != 2 {
		t.Errorf("setups=%d teardowns=%d after reload, want 2/1", *setups, *teardowns)
	}
}

func TestReloadNotLoadedStillLoads(t *testing.T) {
	r := testRegistry(t)
	setups, _ := addStub(r, "tracker")

	// Best-effort reload: the failed unload half is ignored.
	if err := r.Reload("tracker"); err != nil {
		t.Fatalf("Reload() of unloaded extension: %v", err)
	}
	if *setups != 1 {
		t.Errorf("setups = %d, want 1", *setups)
	}
}

func TestLoadAllPartialFailure(t *testing.T) {
	r := testRegistry(t)
	addStub(r, "first")

	boom := errors.New("boom")
	r.Add("second", func() Extension {
		s := &stubExt{name: "second", setups: new(int), teardowns: new(int)}
		s.setupErr = boom
		return s
	})
	addStub(r, "third")

	results := r.LoadAll()
	if len(results) != 3 {
		t.Fatalf("LoadAll() returned %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("sibling extensions failed: %v / %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want boom", results[1].Err)
	}
	if n := Succeeded(results); n != 2 {
		t.Errorf("Succeeded() = %d, want 2", n)
	}
	if got := r.Loaded(); len(got) != 2 {
		t.Errorf("Loaded() = %v, want the two healthy extensions", got)
	}
}

func TestNamesRegistrationOrder(t *testing.T) {
	r := testRegistry(t)
	addStub(r, "zeta")
	addStub(r, "alpha")

	names := r.Names()
	if len(names) != 2 || names[0] != "zeta" || names[1] != "alpha" {
		t.Errorf("Names() = %v, want registration order [zeta alpha]", names)
	}
}
