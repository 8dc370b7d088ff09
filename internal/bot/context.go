// Package bot holds the chat client's command surface and the shared
// context handed to every extension. There is deliberately no global
// bot object: everything an extension may touch travels through
// [Context], which is owned by the supervisor.
package bot

import (
	"context"
	"log/slog"

	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

// Messenger is the outbound half of the chat platform: what the bot can
// say, as opposed to what it hears. The gateway client implements it;
// tests substitute a recorder.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) error
	SendFile(ctx context.Context, channelID, filename string, data []byte) error
	SetPresence(ctx context.Context, activity string) error
}

// Context is the explicit dependency bundle passed to extensions at
// load time and to command handlers at dispatch time.
type Context struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    *trackdb.Store
	Gateway  Messenger
	Commands *Mux

	// Fatal reports an unrecoverable failure (a broken store) to the
	// supervisor, which shuts the process down in order. Optional; nil
	// in tests that never hit the fatal path.
	Fatal func(error)
}
