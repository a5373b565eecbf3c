package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crunch/internal/config"
	"crunch/internal/notifications"
)

type captured struct {
	title, body, tags, priority string
}

func newServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.BatchComplete = true
	cfg.Notifications.Errors = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if err := svc.NotifyBatchCompleted(context.Background(), notifications.BatchResult{Completed: 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("nil config should yield noop, got %v", err)
	}
}

func TestBatchCompletedMessages(t *testing.T) {
	tests := []struct {
		name           string
		result         notifications.BatchResult
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "all succeeded",
			result:        notifications.BatchResult{Completed: 4, Duration: 90 * time.Second},
			expectTitle:   "crunch - Batch Complete",
			expectMessage: "Batch complete: 4 files encoded in 1m30s",
			expectTags:    "crunch,batch,completed",
		},
		{
			name:           "with failures",
			result:         notifications.BatchResult{Completed: 3, Failed: 1, Duration: 10 * time.Second},
			expectTitle:    "crunch - Batch Complete (with errors)",
			expectMessage:  "Batch complete: 3 succeeded, 1 failed in 10s",
			expectTags:     "crunch,batch,completed",
			expectPriority: "high",
		},
		{
			name:          "cancelled",
			result:        notifications.BatchResult{Completed: 1, Cancelled: 2, Aborted: true, Duration: 5 * time.Second},
			expectTitle:   "crunch - Batch Cancelled",
			expectMessage: "Batch cancelled after 5s: 1 completed, 0 failed, 2 cancelled",
			expectTags:    "crunch,batch,cancelled",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, ch := newServer(t, http.StatusOK)
			svc := notifications.NewService(configFor(srv.URL))
			if err := svc.NotifyBatchCompleted(context.Background(), tc.result); err != nil {
				t.Fatalf("NotifyBatchCompleted: %v", err)
			}
			got := <-ch
			if got.title != tc.expectTitle || got.body != tc.expectMessage || got.tags != tc.expectTags || got.priority != tc.expectPriority {
				t.Fatalf("unexpected request %+v", got)
			}
		})
	}
}

func TestNotifyErrorIncludesContext(t *testing.T) {
	srv, ch := newServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL))
	if err := svc.NotifyError(context.Background(), errors.New("disk full"), "batch 42"); err != nil {
		t.Fatal(err)
	}
	got := <-ch
	if got.body != "Error with batch 42: disk full" || got.priority != "high" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestDisabledKindsAreSilent(t *testing.T) {
	srv, ch := newServer(t, http.StatusOK)
	cfg := configFor(srv.URL)
	cfg.Notifications.BatchComplete = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(cfg)
	_ = svc.NotifyBatchCompleted(context.Background(), notifications.BatchResult{Completed: 1})
	_ = svc.NotifyError(context.Background(), errors.New("x"), "")
	select {
	case got := <-ch:
		t.Fatalf("disabled notification was sent: %+v", got)
	default:
	}
}

func TestServerErrorIsReported(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway)
	svc := notifications.NewService(configFor(srv.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}
