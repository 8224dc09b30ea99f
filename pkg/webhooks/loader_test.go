package webhooks

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eventgate/eventgate/pkg/observability"
)

const seedYAML = `subscriptions:
  - url: https://example.com/alerts
    secret: alert-secret
    event_types: ["system.alert", "tool.failed"]
    filter:
      min_severity: warning
    retry:
      max_attempts: 3
      initial_delay: 2s
      max_delay: 1m
      backoff_multiplier: 2.0
    description: ops alerting hook
  - url: https://example.com/audit
    event_types: ["*"]
`

func writeSeed(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "subscriptions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}
	return path
}

func newLoader(t *testing.T, path string) (*Dispatcher, *Loader) {
	t.Helper()
	d := testDispatcher()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return d, NewLoader(d, logger, path)
}

func TestLoader_Load(t *testing.T) {
	path := writeSeed(t, t.TempDir(), seedYAML)
	d, loader := newLoader(t, path)

	if err := loader.Load(); err != nil {
		t.Fatalf("Failed to load subscriptions: %v", err)
	}

	subs := d.List()
	if len(subs) != 2 {
		t.Fatalf("Expected 2 subscriptions, got %d", len(subs))
	}

	var alerts *Subscription
	for _, sub := range subs {
		if sub.URL == "https://example.com/alerts" {
			alerts = sub
		}
	}
	if alerts == nil {
		t.Fatal("Expected alerts subscription to be loaded")
	}
	if alerts.Secret != "alert-secret" {
		t.Error("Expected secret to be loaded")
	}
	if alerts.Retry.MaxAttempts != 3 || alerts.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Unexpected retry policy: %+v", alerts.Retry)
	}
	if len(alerts.EventTypes) != 2 {
		t.Errorf("Unexpected event types: %v", alerts.EventTypes)
	}
	if !alerts.Active {
		t.Error("Expected loaded subscription to be active")
	}
}

func TestLoader_Load_Invalid(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, loader := newLoader(t, filepath.Join(t.TempDir(), "absent.yaml"))
		if err := loader.Load(); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeSeed(t, t.TempDir(), "subscriptions: [")
		_, loader := newLoader(t, path)
		if err := loader.Load(); err == nil {
			t.Error("Expected error for malformed yaml")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeSeed(t, t.TempDir(), `subscriptions:
  - url: https://example.com/hook
    event_types: ["*"]
    retry:
      initial_delay: soon
`)
		_, loader := newLoader(t, path)
		if err := loader.Load(); err == nil {
			t.Error("Expected error for unparsable duration")
		}
	})

	t.Run("missing url", func(t *testing.T) {
		path := writeSeed(t, t.TempDir(), `subscriptions:
  - event_types: ["*"]
`)
		d, loader := newLoader(t, path)
		if err := loader.Load(); err == nil {
			t.Error("Expected error for missing url")
		}
		if len(d.List()) != 0 {
			t.Error("Expected no subscriptions after failed load")
		}
	})
}

func TestLoader_ReloadReplacesSeeded(t *testing.T) {
	dir := t.TempDir()
	path := writeSeed(t, dir, seedYAML)
	d, loader := newLoader(t, path)

	if err := loader.Load(); err != nil {
		t.Fatalf("Failed to load subscriptions: %v", err)
	}

	// A subscription registered through the admin API must survive reloads.
	manual := &Subscription{
		URL:        "https://example.com/manual",
		EventTypes: []string{"chat.completed"},
	}
	d.Register(manual)

	writeSeed(t, dir, `subscriptions:
  - url: https://example.com/replacement
    event_types: ["*"]
`)
	if err := loader.Load(); err != nil {
		t.Fatalf("Failed to reload subscriptions: %v", err)
	}

	subs := d.List()
	if len(subs) != 2 {
		t.Fatalf("Expected 2 subscriptions after reload, got %d", len(subs))
	}
	urls := map[string]bool{}
	for _, sub := range subs {
		urls[sub.URL] = true
	}
	if !urls["https://example.com/replacement"] || !urls["https://example.com/manual"] {
		t.Errorf("Unexpected subscriptions after reload: %v", urls)
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeSeed(t, dir, seedYAML)
	d, loader := newLoader(t, path)

	if err := loader.Load(); err != nil {
		t.Fatalf("Failed to load subscriptions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := loader.Watch(ctx); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	writeSeed(t, dir, `subscriptions:
  - url: https://example.com/only
    event_types: ["*"]
`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		subs := d.List()
		if len(subs) == 1 && subs[0].URL == "https://example.com/only" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Watcher did not reload subscriptions, have %d", len(d.List()))
}
