package bot

import (
	"context"
	"fmt"
)

// StatusSummary derives the human-readable presence line from persisted
// state: the configured activity template plus the tracked-account count.
func StatusSummary(bc *Context) (string, error) {
	n, err := bc.Store.Count()
	if err != nil {
		return "", fmt.Errorf("count tracked accounts: %w", err)
	}
	return fmt.Sprintf("%s (%d)", bc.Config.ActivityName, n), nil
}

// UpdatePresence publishes the status summary through the gateway.
func UpdatePresence(ctx context.Context, bc *Context) error {
	summary, err := StatusSummary(bc)
	if err != nil {
		return err
	}
	if err := bc.Gateway.SetPresence(ctx, summary); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	bc.Logger.Debug("presence updated", "activity", summary)
	return nil
}
