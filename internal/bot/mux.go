package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Ishannaik/Tweetcord/internal/gateway"
)

// HandlerFunc processes one command invocation. A returned error is
// echoed back to the invoking user and logged at warning level; it is
// never exposed as raw internal state beyond its message.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Command is a named chat command.
type Command struct {
	Name      string
	Help      string
	OwnerOnly bool
	Handler   HandlerFunc
}

// Invocation carries one parsed command call to its handler.
type Invocation struct {
	// ID is a unique identifier for this invocation, used to correlate
	// log lines across a handler's lifetime.
	ID      string
	Message *gateway.Message
	Args    []string

	bc *Context
}

// Bot returns the shared dependency bundle the command was dispatched
// with. Extension packages use it to reach the store and config.
func (inv *Invocation) Bot() *Context { return inv.bc }

// Reply sends text back to the channel the command came from.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	return inv.bc.Gateway.SendMessage(ctx, inv.Message.ChannelID, text)
}

// ReplyFile sends a file back to the channel the command came from.
func (inv *Invocation) ReplyFile(ctx context.Context, filename string, data []byte) error {
	return inv.bc.Gateway.SendFile(ctx, inv.Message.ChannelID, filename, data)
}

// Mux routes prefixed chat messages to registered commands. Extensions
// register commands on load and remove them on unload; both paths and
// dispatch share one mutex.
type Mux struct {
	mu       sync.Mutex
	commands map[string]*Command
	logger   *slog.Logger
}

// NewMux creates an empty command mux.
func NewMux(logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		commands: make(map[string]*Command),
		logger:   logger,
	}
}

// Register adds a command. Registering a name twice is an error: it
// almost always means two extensions are fighting over a name.
func (m *Mux) Register(cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.commands[cmd.Name]; exists {
		return fmt.Errorf("command %q already registered", cmd.Name)
	}
	m.commands[cmd.Name] = cmd
	return nil
}

// Unregister removes a command by name. Unknown names are a no-op so an
// extension teardown can be unconditional.
func (m *Mux) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.commands, name)
}

// Names returns the registered command names, sorted.
func (m *Mux) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.commands))
	for name := range m.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes an inbound message. Non-command messages and unknown
// command names are silently ignored (anyone can type the prefix).
// Handler errors are echoed to the invoker and logged at warn, per the
// error-reporting policy for interactive commands.
func (m *Mux) Dispatch(ctx context.Context, bc *Context, msg *gateway.Message) {
	prefix := bc.Config.Prefix
	if prefix == "" || !strings.HasPrefix(msg.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(msg.Content, prefix))
	if len(fields) == 0 {
		return
	}
	name := fields[0]

	m.mu.Lock()
	cmd, ok := m.commands[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	inv := &Invocation{
		ID:      uuid.NewString(),
		Message: msg,
		Args:    fields[1:],
		bc:      bc,
	}

	if cmd.OwnerOnly && !bc.Config.IsOwner(msg.Author.ID) {
		// Refusals are echoed like any other command error so the
		// invoker is not left staring at silence.
		if err := inv.Reply(ctx, "You are not the owner of this bot."); err != nil {
			m.logger.Warn("failed to echo refusal", "invocation", inv.ID, "error", err)
		}
		m.logger.Warn("owner-only command refused",
			"invocation", inv.ID,
			"command", name,
			"user", msg.Author.ID,
		)
		return
	}

	m.logger.Debug("dispatching command",
		"invocation", inv.ID,
		"command", name,
		"user", msg.Author.ID,
	)

	if err := cmd.Handler(ctx, inv); err != nil {
		// Echo the message to the operator; log the same message. Raw
		// internals stay in the error chain, not in chat.
		if replyErr := inv.Reply(ctx, err.Error()); replyErr != nil {
			m.logger.Warn("failed to echo command error", "invocation", inv.ID, "error", replyErr)
		}
		m.logger.Warn("command failed",
			"invocation", inv.ID,
			"command", name,
			"error", err,
		)
	}
}
