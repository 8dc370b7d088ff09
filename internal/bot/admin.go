package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

// ErrNoAttachment is returned by importdata when the invoking message
// carries no usable store file. Checked explicitly before any byte of
// the attachment is fetched.
var ErrNoAttachment = errors.New("no .db attachment found on the message")

// ExtensionManager is the slice of the extension registry the admin
// commands need. Defined here so the bot package does not depend on the
// registry implementation.
type ExtensionManager interface {
	Load(name string) error
	Unload(name string) error
	Reload(name string) error
	Loaded() []string
}

// maxImportBytes caps attachment downloads for importdata.
const maxImportBytes = 64 << 20

// RegisterAdminCommands wires the owner-only operator commands onto the
// mux: extension management, store export/import, and log export. These
// bypass the bootstrap orchestrator entirely; they share only the
// registry and the store with it.
func RegisterAdminCommands(bc *Context, mgr ExtensionManager) error {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	cmds := []*Command{
		{
			Name:      "load",
			Help:      "load an extension by name",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				name, err := extensionArg(inv)
				if err != nil {
					return err
				}
				if err := mgr.Load(name); err != nil {
					return err
				}
				return inv.Reply(ctx, fmt.Sprintf("Loaded %s.", name))
			},
		},
		{
			Name:      "unload",
			Help:      "unload an extension by name",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				name, err := extensionArg(inv)
				if err != nil {
					return err
				}
				if err := mgr.Unload(name); err != nil {
					return err
				}
				return inv.Reply(ctx, fmt.Sprintf("Unloaded %s.", name))
			},
		},
		{
			Name:      "reload",
			Help:      "reload an extension by name",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				name, err := extensionArg(inv)
				if err != nil {
					return err
				}
				if err := mgr.Reload(name); err != nil {
					return err
				}
				return inv.Reply(ctx, fmt.Sprintf("Reloaded %s.", name))
			},
		},
		{
			Name:      "extensions",
			Help:      "list loaded extensions",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				loaded := mgr.Loaded()
				if len(loaded) == 0 {
					return inv.Reply(ctx, "No extensions loaded.")
				}
				return inv.Reply(ctx, "Loaded: "+strings.Join(loaded, ", "))
			},
		},
		{
			Name:      "exportdata",
			Help:      "send the tracked-account store file",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				var buf bytes.Buffer
				if err := bc.Store.Export(&buf); err != nil {
					return fmt.Errorf("export store: %w", err)
				}
				return inv.ReplyFile(ctx, trackdb.FileName, buf.Bytes())
			},
		},
		{
			Name:      "importdata",
			Help:      "replace the tracked-account store with an attached .db file",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				url := dbAttachmentURL(inv)
				if url == "" {
					return ErrNoAttachment
				}
				data, err := fetchAttachment(ctx, httpClient, url)
				if err != nil {
					return fmt.Errorf("fetch attachment: %w", err)
				}
				if err := bc.Store.Import(bytes.NewReader(data)); err != nil {
					if errors.Is(err, trackdb.ErrStoreBroken) && bc.Fatal != nil {
						bc.Fatal(err)
					}
					return fmt.Errorf("import store: %w", err)
				}
				return inv.Reply(ctx, "successfully imported data")
			},
		},
		{
			Name:      "exportlog",
			Help:      "send the process log file",
			OwnerOnly: true,
			Handler: func(ctx context.Context, inv *Invocation) error {
				if bc.Config.LogFile == "" {
					return errors.New("no log file configured (set log_file)")
				}
				data, err := os.ReadFile(bc.Config.LogFile)
				if err != nil {
					return fmt.Errorf("read log file: %w", err)
				}
				return inv.ReplyFile(ctx, "tweetcord.log", data)
			},
		},
	}

	for _, cmd := range cmds {
		if err := bc.Commands.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func extensionArg(inv *Invocation) (string, error) {
	if len(inv.Args) != 1 {
		return "", errors.New("expected exactly one extension name")
	}
	return inv.Args[0], nil
}

// dbAttachmentURL returns the URL of the first .db attachment on the
// invoking message, or "" if there is none.
func dbAttachmentURL(inv *Invocation) string {
	for _, a := range inv.Message.Attachments {
		if strings.HasSuffix(a.Filename, ".db") {
			return a.URL
		}
	}
	return ""
}

func fetchAttachment(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImportBytes))
}
