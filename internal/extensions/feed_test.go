package extensions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFeedLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("account") {
		case "alice":
			json.NewEncoder(w).Encode(Post{ID: "p1", AccountID: "alice", Content: "hi", URL: "https://x/p1"})
		case "quiet":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL)

	post, err := feed.Latest(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Latest(alice): %v", err)
	}
	if post == nil || post.ID != "p1" || post.Content != "hi" {
		t.Errorf("Latest(alice) = %+v", post)
	}

	for _, account := range []string{"quiet", "unknown"} {
		post, err := feed.Latest(context.Background(), account)
		if err != nil {
			t.Fatalf("Latest(%s): %v", account, err)
		}
		if post != nil {
			t.Errorf("Latest(%s) = %+v, want nil", account, post)
		}
	}
}

func TestHTTPFeedUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewHTTPFeed(srv.URL).Latest(context.Background(), "alice"); err == nil {
		t.Fatal("Latest() = nil error on 500 response")
	}
}
