// Package extensions holds the built-in command extensions and the
// static table the registry loads them from. Each extension owns a
// slice of the command surface: Setup registers its commands on the
// shared mux, Teardown removes them.
package extensions

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ishannaik/Tweetcord/internal/bot"
	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/registry"
)

// All returns the built-in extension table in load order.
func All() []struct {
	Name    string
	Factory registry.Factory
} {
	return []struct {
		Name    string
		Factory registry.Factory
	}{
		{Name: "tracker", Factory: func() registry.Extension { return NewTracker() }},
		{Name: "notifier", Factory: func() registry.Extension { return NewNotifier(nil) }},
	}
}

// Register adds every built-in extension to the registry.
func Register(reg *registry.Registry) {
	for _, e := range All() {
		reg.Add(e.Name, e.Factory)
	}
}

// Tracker is the account-tracking extension. It owns the track, untrack
// and tracked commands, all of which write through the persistent store.
type Tracker struct{}

// NewTracker creates a tracker extension instance.
func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) Name() string { return "tracker" }

// Setup registers the tracking commands.
func (t *Tracker) Setup(bc *bot.Context) error {
	cmds := []*bot.Command{
		{
			Name:      "track",
			Help:      "track <account> [client] — start tracking an account",
			OwnerOnly: true,
			Handler:   t.track,
		},
		{
			Name:      "untrack",
			Help:      "untrack <account> — stop tracking an account",
			OwnerOnly: true,
			Handler:   t.untrack,
		},
		{
			Name:    "tracked",
			Help:    "tracked — list tracked accounts",
			Handler: t.tracked,
		},
	}
	for _, cmd := range cmds {
		if err := bc.Commands.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Teardown removes the tracking commands.
func (t *Tracker) Teardown(bc *bot.Context) error {
	for _, name := range []string{"track", "untrack", "tracked"} {
		bc.Commands.Unregister(name)
	}
	return nil
}

func (t *Tracker) track(ctx context.Context, inv *bot.Invocation) error {
	if len(inv.Args) < 1 || len(inv.Args) > 2 {
		return fmt.Errorf("usage: track <account> [client]")
	}
	account := inv.Args[0]

	var client string
	if len(inv.Args) == 2 {
		client = inv.Args[1]
		if !validClient(client) {
			return fmt.Errorf("unknown client %q (configured: %s)",
				client, strings.Join(config.ClientNames(), ", "))
		}
	} else {
		first, ok := config.FirstClient()
		if !ok {
			return fmt.Errorf("no clients configured")
		}
		client = first.Name
	}

	if err := inv.Bot().Store.Add(account, client); err != nil {
		return fmt.Errorf("track %s: %w", account, err)
	}
	t.refreshPresence(ctx, inv.Bot())
	return inv.Reply(ctx, fmt.Sprintf("Tracking %s via %s.", account, client))
}

func (t *Tracker) untrack(ctx context.Context, inv *bot.Invocation) error {
	if len(inv.Args) != 1 {
		return fmt.Errorf("usage: untrack <account>")
	}
	account := inv.Args[0]

	removed, err := inv.Bot().Store.Remove(account)
	if err != nil {
		return fmt.Errorf("untrack %s: %w", account, err)
	}
	if !removed {
		return inv.Reply(ctx, fmt.Sprintf("%s was not tracked.", account))
	}
	t.refreshPresence(ctx, inv.Bot())
	return inv.Reply(ctx, fmt.Sprintf("Stopped tracking %s.", account))
}

func (t *Tracker) tracked(ctx context.Context, inv *bot.Invocation) error {
	records, err := inv.Bot().Store.List()
	if err != nil {
		return fmt.Errorf("list tracked accounts: %w", err)
	}
	if len(records) == 0 {
		return inv.Reply(ctx, "No accounts tracked.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tracking %d account(s):\n", len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "- %s (%s)\n", r.AccountID, r.Client)
	}
	return inv.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// refreshPresence pushes the new tracked-account count to the presence
// line. Presence is cosmetic, so a failure only warns.
func (t *Tracker) refreshPresence(ctx context.Context, bc *bot.Context) {
	if err := bot.UpdatePresence(ctx, bc); err != nil {
		bc.Logger.Warn("presence refresh failed", "error", err)
	}
}

func validClient(name string) bool {
	for _, n := range config.ClientNames() {
		if n == name {
			return true
		}
	}
	return false
}
