package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables the process cannot operate without. The values
// are read fresh on every call — never cached — because the repair policy
// re-checks the environment after an operator fixes it externally.
var requiredEnv = []string{
	"BOT_TOKEN",     // chat-platform credential
	"DATA_PATH",     // directory holding tracked_accounts.db
	"CLIENT_TOKENS", // ordered client credential list
}

// LoadDotenv merges a .env file into the process environment, if one
// exists. Existing variables are never overridden, matching the usual
// dotenv contract. A missing file is not an error.
func LoadDotenv() {
	_ = godotenv.Load()
}

// CheckEnvironment reports whether every required environment variable is
// present and non-empty. Pure predicate; callers decide retry policy.
func CheckEnvironment() bool {
	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			return false
		}
	}
	return true
}

// RequiredEnv returns the names checked by CheckEnvironment.
func RequiredEnv() []string {
	out := make([]string, len(requiredEnv))
	copy(out, requiredEnv)
	return out
}

// Client is a configured identity under which the bot can act.
type Client struct {
	Name  string
	Token string
}

// Clients parses the CLIENT_TOKENS environment variable into an ordered
// client list. The format is "name=token,name=token,...". Declaration
// order is preserved: the first entry is the repair fallback. Malformed
// entries are skipped.
func Clients() []Client {
	raw := os.Getenv("CLIENT_TOKENS")
	if raw == "" {
		return nil
	}

	var clients []Client
	for _, pair := range strings.Split(raw, ",") {
		name, token, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		clients = append(clients, Client{Name: name, Token: token})
	}
	return clients
}

// ClientNames returns the configured client identifiers in declared order.
func ClientNames() []string {
	clients := Clients()
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.Name
	}
	return names
}

// FirstClient returns the first configured client, the deterministic
// fallback used when repairing mismatched records.
func FirstClient() (Client, bool) {
	clients := Clients()
	if len(clients) == 0 {
		return Client{}, false
	}
	return clients[0], true
}

// BotToken returns the chat-platform credential.
func BotToken() string { return os.Getenv("BOT_TOKEN") }

// DataPath returns the data directory for persistent state.
func DataPath() string { return os.Getenv("DATA_PATH") }

// Port returns the status server port from PORT, defaulting to 10000.
func Port() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	return 10000
}
