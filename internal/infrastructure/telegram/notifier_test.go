package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"SelectionBuilder/internal/config"
)

func TestNewNotifierRequiresConfig(t *testing.T) {
	if n := NewNotifier(config.TelegramConfig{BotToken: "x"}); n != nil {
		t.Fatalf("expected nil notifier without chat id, got %#v", n)
	}
}

func TestPublish(t *testing.T) {
	got := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got <- r
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "abc", ChatID: "42"})
	n.apiBase = srv.URL

	if err := n.Publish(context.Background(), "ZIM ready: Top 100"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	req := <-got
	if req.URL.Path != "/botabc/sendMessage" {
		t.Fatalf("unexpected path %q", req.URL.Path)
	}
	if req.PostForm.Get("chat_id") != "42" || req.PostForm.Get("text") != "ZIM ready: Top 100" {
		t.Fatalf("unexpected form: %v", req.PostForm)
	}
}

func TestPublishReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "abc", ChatID: "42"})
	n.apiBase = srv.URL

	if err := n.Publish(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
