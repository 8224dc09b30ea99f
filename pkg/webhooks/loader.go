package webhooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/eventgate/eventgate/pkg/filter"
	"github.com/eventgate/eventgate/pkg/observability"
	"github.com/eventgate/eventgate/pkg/retry"
)

// seedFile is the on-disk subscription seed format.
type seedFile struct {
	Subscriptions []seedSubscription `yaml:"subscriptions"`
}

type seedSubscription struct {
	URL         string      `yaml:"url"`
	Secret      string      `yaml:"secret"`
	EventTypes  []string    `yaml:"event_types"`
	Filter      filter.Spec `yaml:"filter"`
	Retry       seedPolicy  `yaml:"retry"`
	Description string      `yaml:"description"`
}

// seedPolicy mirrors retry.Policy with human-readable duration strings
// ("1s", "5m") as they appear in configuration files.
type seedPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelay      string  `yaml:"initial_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

func (p seedPolicy) toPolicy() (retry.Policy, error) {
	out := retry.Policy{
		MaxAttempts:       p.MaxAttempts,
		BackoffMultiplier: p.BackoffMultiplier,
	}
	if p.InitialDelay != "" {
		d, err := time.ParseDuration(p.InitialDelay)
		if err != nil {
			return out, fmt.Errorf("invalid initial_delay: %w", err)
		}
		out.InitialDelay = d
	}
	if p.MaxDelay != "" {
		d, err := time.ParseDuration(p.MaxDelay)
		if err != nil {
			return out, fmt.Errorf("invalid max_delay: %w", err)
		}
		out.MaxDelay = d
	}
	return out, nil
}

// Loader seeds subscriptions from a YAML file and optionally reloads them
// when the file changes. Reloading replaces the previously seeded
// subscriptions; subscriptions created through the admin API are untouched.
type Loader struct {
	dispatcher *Dispatcher
	logger     *observability.Logger
	path       string

	mu     sync.Mutex
	seeded []string
}

// NewLoader creates a loader for the given seed file path.
func NewLoader(dispatcher *Dispatcher, logger *observability.Logger, path string) *Loader {
	return &Loader{
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "subscription_loader"),
		path:       path,
	}
}

// Load reads the seed file and registers its subscriptions, replacing any
// subscriptions registered by a previous Load.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read subscriptions file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse subscriptions file: %w", err)
	}

	subs := make([]*Subscription, 0, len(seed.Subscriptions))
	for i, entry := range seed.Subscriptions {
		policy, err := entry.Retry.toPolicy()
		if err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
		sub := &Subscription{
			URL:         entry.URL,
			Secret:      entry.Secret,
			EventTypes:  entry.EventTypes,
			Filter:      entry.Filter,
			Retry:       policy,
			Description: entry.Description,
		}
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
		subs = append(subs, sub)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.seeded {
		if err := l.dispatcher.Unregister(id); err != nil {
			l.logger.WithField("subscription_id", id).Debug("seeded subscription already removed")
		}
	}
	l.seeded = l.seeded[:0]

	for _, sub := range subs {
		if err := l.dispatcher.Register(sub); err != nil {
			return err
		}
		l.seeded = append(l.seeded, sub.ID)
	}

	l.logger.WithFields(map[string]interface{}{
		"path":  l.path,
		"count": len(subs),
	}).Info("subscriptions loaded")
	return nil
}

// Watch reloads the seed file whenever it changes, until ctx is cancelled.
// A reload that fails to parse keeps the previously loaded subscriptions.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files by rename
	// and a watch on the old inode would go stale.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				// Editors fire bursts of events per save.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := l.Load(); err != nil {
					l.logger.WithError(err).Error("subscription reload failed, keeping previous subscriptions")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.WithError(err).Warn("subscription file watcher error")
			}
		}
	}()
	return nil
}
