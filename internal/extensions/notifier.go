package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/Ishannaik/Tweetcord/internal/bot"
)

// Post is one published item on a tracked account's feed.
type Post struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Content   string `json:"content"`
	URL       string `json:"url"`
}

// Feed answers "what did this account post most recently". The notifier
// polls it on an interval; tests substitute a fake.
type Feed interface {
	Latest(ctx context.Context, accountID string) (*Post, error)
}

// HTTPFeed fetches posts from a JSON endpoint. A request for an account
// with no posts yet answers 204 or 404, which is not an error.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFeed creates a feed client for the given endpoint.
func NewHTTPFeed(baseURL string) *HTTPFeed {
	return &HTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Latest fetches the most recent post for an account.
func (f *HTTPFeed) Latest(ctx context.Context, accountID string) (*Post, error) {
	u := f.baseURL + "?account=" + url.QueryEscape(accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch feed for %s: unexpected status %s", accountID, resp.Status)
	}

	var post Post
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, fmt.Errorf("decode feed for %s: %w", accountID, err)
	}
	return &post, nil
}

// Notifier polls the feed for every tracked account and announces new
// posts to the configured channel. Deduplication is in-memory per
// instance: a reload starts with a clean slate and re-announces at most
// one post per account.
type Notifier struct {
	feed      Feed
	scheduler gocron.Scheduler
	bc        *bot.Context

	mu       sync.Mutex
	lastSeen map[string]string // account ID -> last announced post ID
}

// NewNotifier creates a notifier. A nil feed means "build an HTTP feed
// from the configured feed_url at setup time".
func NewNotifier(feed Feed) *Notifier {
	return &Notifier{
		feed:     feed,
		lastSeen: make(map[string]string),
	}
}

func (n *Notifier) Name() string { return "notifier" }

// Setup starts the polling job and registers the latest command. When
// the notifier is disabled in config the extension still loads — the
// command works on demand — but no job is scheduled.
func (n *Notifier) Setup(bc *bot.Context) error {
	n.bc = bc
	cfg := bc.Config

	if n.feed == nil {
		if cfg.FeedURL == "" {
			return fmt.Errorf("notifier: feed_url is not configured")
		}
		n.feed = NewHTTPFeed(cfg.FeedURL)
	}

	if err := bc.Commands.Register(&bot.Command{
		Name:    "latest",
		Help:    "latest <account> — show the account's most recent post",
		Handler: n.latest,
	}); err != nil {
		return err
	}

	if !cfg.NotifierEnabled {
		bc.Logger.Info("notifier polling disabled")
		return nil
	}
	if cfg.NotifierChannelID == "" {
		bc.Commands.Unregister("latest")
		return fmt.Errorf("notifier: notifier_channel_id is not configured")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		bc.Commands.Unregister("latest")
		return fmt.Errorf("notifier: create scheduler: %w", err)
	}

	interval := time.Duration(cfg.NotifierIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(n.poll),
		gocron.WithName("notifier-poll"),
	); err != nil {
		bc.Commands.Unregister("latest")
		return fmt.Errorf("notifier: schedule poll job: %w", err)
	}

	n.scheduler = s
	s.Start()
	bc.Logger.Info("notifier polling started", "interval", interval)
	return nil
}

// Teardown stops the polling job and removes the command.
func (n *Notifier) Teardown(bc *bot.Context) error {
	bc.Commands.Unregister("latest")
	if n.scheduler != nil {
		if err := n.scheduler.Shutdown(); err != nil {
			return fmt.Errorf("notifier: stop scheduler: %w", err)
		}
		n.scheduler = nil
	}
	return nil
}

// poll runs one sweep over the tracked accounts. Errors on a single
// account never stop the sweep.
func (n *Notifier) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := n.bc.Store.List()
	if err != nil {
		n.bc.Logger.Warn("notifier: list tracked accounts", "error", err)
		return
	}

	for _, rec := range records {
		post, err := n.feed.Latest(ctx, rec.AccountID)
		if err != nil {
			n.bc.Logger.Warn("notifier: fetch failed", "account", rec.AccountID, "error", err)
			continue
		}
		if post == nil || !n.markSeen(rec.AccountID, post.ID) {
			continue
		}

		notificationID := uuid.NewString()
		text := fmt.Sprintf("New post from %s: %s\n%s", post.AccountID, post.Content, post.URL)
		if err := n.bc.Gateway.SendMessage(ctx, n.bc.Config.NotifierChannelID, text); err != nil {
			n.bc.Logger.Warn("notifier: announce failed",
				"notification", notificationID,
				"account", rec.AccountID,
				"error", err,
			)
			continue
		}
		n.bc.Logger.Info("post announced",
			"notification", notificationID,
			"account", rec.AccountID,
			"post", post.ID,
		)
	}
}

// markSeen records a post ID and reports whether it was new.
func (n *Notifier) markSeen(accountID, postID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastSeen[accountID] == postID {
		return false
	}
	n.lastSeen[accountID] = postID
	return true
}

func (n *Notifier) latest(ctx context.Context, inv *bot.Invocation) error {
	if len(inv.Args) != 1 {
		return fmt.Errorf("usage: latest <account>")
	}
	account := inv.Args[0]

	post, err := n.feed.Latest(ctx, account)
	if err != nil {
		return err
	}
	if post == nil {
		return inv.Reply(ctx, fmt.Sprintf("No posts found for %s.", account))
	}
	return inv.Reply(ctx, fmt.Sprintf("%s: %s\n%s", post.AccountID, post.Content, post.URL))
}
