package extensions

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Ishannaik/Tweetcord/internal/bot"
	"github.com/Ishannaik/Tweetcord/internal/config"
	"github.com/Ishannaik/Tweetcord/internal/gateway"
	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

// recorder is a Messenger that captures everything sent through it.
type recorder struct {
	mu       sync.Mutex
	messages []sent
	presence string
}

type sent struct {
	channelID string
	content   string
}

func (r *recorder) SendMessage(_ context.Context, channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sent{channelID: channelID, content: content})
	return nil
}

func (r *recorder) SendFile(_ context.Context, channelID, filename string, data []byte) error {
	return nil
}

func (r *recorder) SetPresence(_ context.Context, activity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = activity
	return nil
}

func (r *recorder) lastMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1].content
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func testContext(t *testing.T) (*bot.Context, *recorder) {
	t.Helper()

	store, err := trackdb.Open(filepath.Join(t.TempDir(), trackdb.FileName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}

	cfg := config.Default()
	cfg.OwnerIDs = []string{"owner"}

	rec := &recorder{}
	logger := slog.New(slog.DiscardHandler)
	return &bot.Context{
		Logger:   logger,
		Config:   cfg,
		Store:    store,
		Gateway:  rec,
		Commands: bot.NewMux(logger),
	}, rec
}

func dispatch(t *testing.T, bc *bot.Context, author, content string) {
	t.Helper()
	bc.Commands.Dispatch(context.Background(), bc, &gateway.Message{
		ID:        "m1",
		ChannelID: "ch1",
		Author:    gateway.User{ID: author, Name: author},
		Content:   content,
	})
}

func TestTrackerSetupTeardown(t *testing.T) {
	bc, _ := testContext(t)
	tr := NewTracker()

	if err := tr.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}
	names := bc.Commands.Names()
	want := []string{"track", "tracked", "untrack"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}

	if err := tr.Teardown(bc); err != nil {
		t.Fatalf("Teardown(): %v", err)
	}
	if n := len(bc.Commands.Names()); n != 0 {
		t.Errorf("after Teardown, %d commands remain", n)
	}
}

func TestTrackDefaultsToFirstClient(t *testing.T) {
	t.Setenv("CLIENT_TOKENS", "main=tok1,backup=tok2")
	bc, rec := testContext(t)
	tr := NewTracker()
	if err := tr.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	dispatch(t, bc, "owner", "!track alice")

	if got := rec.lastMessage(); got != "Tracking alice via main." {
		t.Errorf("reply = %q", got)
	}
	records, err := bc.Store.List()
	if err != nil {
		t.Fatalf("List(): %v", err)
	}
	if len(records) != 1 || records[0].Client != "main" {
		t.Errorf("records = %+v, want alice owned by main", records)
	}
}

func TestTrackRejectsUnknownClient(t *testing.T) {
	t.Setenv("CLIENT_TOKENS", "main=tok1")
	bc, rec := testContext(t)
	tr := NewTracker()
	if err := tr.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	dispatch(t, bc, "owner", "!track alice nosuch")

	if got := rec.lastMessage(); !strings.Contains(got, "unknown client") {
		t.Errorf("reply = %q, want unknown-client error", got)
	}
	n, err := bc.Store.Count()
	if err != nil {
		t.Fatalf("Count(): %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after rejected track, want 0", n)
	}
}

func TestUntrack(t *testing.T) {
	t.Setenv("CLIENT_TOKENS", "main=tok1")
	bc, rec := testContext(t)
	tr := NewTracker()
	if err := tr.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	dispatch(t, bc, "owner", "!track alice")
	dispatch(t, bc, "owner", "!untrack alice")
	if got := rec.lastMessage(); got != "Stopped tracking alice." {
		t.Errorf("reply = %q", got)
	}

	dispatch(t, bc, "owner", "!untrack alice")
	if got := rec.lastMessage(); got != "alice was not tracked." {
		t.Errorf("reply after second untrack = %q", got)
	}
}

func TestTrackedListsAccounts(t *testing.T) {
	t.Setenv("CLIENT_TOKENS", "main=tok1,backup=tok2")
	bc, rec := testContext(t)
	tr := NewTracker()
	if err := tr.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	dispatch(t, bc, "user", "!tracked")
	if got := rec.lastMessage(); got != "No accounts tracked." {
		t.Errorf("reply = %q", got)
	}

	dispatch(t, bc, "owner", "!track alice")
	dispatch(t, bc, "owner", "!track bob backup")
	dispatch(t, bc, "user", "!tracked")

	got := rec.lastMessage()
	if !strings.Contains(got, "alice (main)") || !strings.Contains(got, "bob (backup)") {
		t.Errorf("reply = %q, want both accounts listed", got)
	}
}

// fakeFeed returns canned posts per account.
type fakeFeed struct {
	mu    sync.Mutex
	posts map[string]*Post
	err   error
}

func (f *fakeFeed) Latest(_ context.Context, accountID string) (*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.posts[accountID], nil
}

func (f *fakeFeed) set(accountID string, post *Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts == nil {
		f.posts = make(map[string]*Post)
	}
	f.posts[accountID] = post
}

func notifierContext(t *testing.T) (*bot.Context, *recorder, *fakeFeed, *Notifier) {
	t.Helper()
	bc, rec := testContext(t)
	bc.Config.NotifierChannelID = "news"

	feed := &fakeFeed{}
	n := NewNotifier(feed)
	// Polling stays disabled so tests drive poll() directly.
	if err := n.Setup(bc); err != nil {
		t.Fatalf("Setup(): %v", err)
	}
	t.Cleanup(func() { n.Teardown(bc) })
	return bc, rec, feed, n
}

func TestNotifierAnnouncesNewPosts(t *testing.T) {
	bc, rec, feed, n := notifierContext(t)

	if err := bc.Store.Add("alice", "main"); err != nil {
		t.Fatalf("Add(): %v", err)
	}
	feed.set("alice", &Post{ID: "p1", AccountID: "alice", Content: "hello", URL: "https://x/p1"})

	n.poll()
	if got := rec.lastMessage(); !strings.Contains(got, "New post from alice") {
		t.Errorf("announcement = %q", got)
	}
	if rec.count() != 1 {
		t.Fatalf("sent %d messages, want 1", rec.count())
	}

	// Same post again: deduplicated.
	n.poll()
	if rec.count() != 1 {
		t.Errorf("sent %d messages after duplicate poll, want 1", rec.count())
	}

	// A fresh post is announced.
	feed.set("alice", &Post{ID: "p2", AccountID: "alice", Content: "again", URL: "https://x/p2"})
	n.poll()
	if rec.count() != 2 {
		t.Errorf("sent %d messages after new post, want 2", rec.count())
	}
}

func TestNotifierAnnouncesToConfiguredChannel(t *testing.T) {
	bc, rec, feed, n := notifierContext(t)

	if err := bc.Store.Add("alice", "main"); err != nil {
		t.Fatalf("Add(): %v", err)
	}
	feed.set("alice", &Post{ID: "p1", AccountID: "alice", Content: "hi", URL: ""})

	n.poll()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.messages) != 1 || rec.messages[0].channelID != "news" {
		t.Errorf("messages = %+v, want one to channel news", rec.messages)
	}
}

func TestNotifierFeedErrorSkipsAccount(t *testing.T) {
	bc, rec, feed, n := notifierContext(t)

	if err := bc.Store.Add("alice", "main"); err != nil {
		t.Fatalf("Add(): %v", err)
	}
	feed.err = context.DeadlineExceeded

	n.poll()
	if rec.count() != 0 {
		t.Errorf("sent %d messages on feed error, want 0", rec.count())
	}
}

func TestLatestCommand(t *testing.T) {
	bc, rec, feed, _ := notifierContext(t)
	feed.set("alice", &Post{ID: "p1", AccountID: "alice", Content: "hello", URL: "https://x/p1"})

	dispatch(t, bc, "user", "!latest alice")
	if got := rec.lastMessage(); !strings.Contains(got, "alice: hello") {
		t.Errorf("reply = %q", got)
	}

	dispatch(t, bc, "user", "!latest bob")
	if got := rec.lastMessage(); got != "No posts found for bob." {
		t.Errorf("reply = %q", got)
	}
}

func TestAllExposesBuiltins(t *testing.T) {
	table := All()
	if len(table) != 2 {
		t.Fatalf("All() has %d entries, want 2", len(table))
	}
	if table[0].Name != "tracker" || table[1].Name != "notifier" {
		t.Errorf("All() order = [%s %s], want [tracker notifier]", table[0].Name, table[1].Name)
	}
	for _, e := range table {
		ext := e.Factory()
		if ext.Name() != e.Name {
			t.Errorf("factory for %s built extension named %s", e.Name, ext.Name())
		}
	}
}
