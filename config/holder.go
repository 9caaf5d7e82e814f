package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleDelay coalesces the burst of events an editor produces for one save.
const settleDelay = 100 * time.Millisecond

// Holder keeps the current configuration of a long-running command and
// replaces it when the file changes. Readers call Get for every unit of work,
// so reloadable settings apply without a restart.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		path:    absPath,
		logger:  logger,
		current: cfg,
		stopCh:  make(chan struct{}),
	}, nil
}

// Get returns the current configuration. The returned value must not be
// modified.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn to run after every reload that changed something.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload reads the file again. An invalid file is reported and the current
// configuration is kept. A file whose content is unchanged notifies nobody.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	if reflect.DeepEqual(prev, next) {
		h.mu.Unlock()
		h.logger.Debug().Str("path", h.path).Msg("config unchanged")
		return nil
	}
	h.current = next
	callbacks := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(prev, next)
	for _, fn := range callbacks {
		fn(next)
	}
	return nil
}

// WatchFile reloads whenever the file is written or replaced.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Editors that save atomically replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP received")
				_ = h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	name := filepath.Base(h.path)
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("op", event.Op.String()).Msg("config file event")
			settle.Reset(settleDelay)

		case <-settle.C:
			_ = h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(prev, next *Config) {
	event := h.logger.Info().
		Str("log_level", next.Logging.Level).
		Dur("poll_interval", next.Polling.Interval).
		Dur("poll_max_interval", next.Polling.MaxInterval).
		Float64("poll_multiplier", next.Polling.Multiplier).
		Dur("poll_max_wait", next.Polling.MaxWait)
	event.Msg("configuration reloaded")

	if fields := restartRequired(prev, next); len(fields) > 0 {
		h.logger.Warn().Strs("fields", fields).Msg("changed settings take effect after a restart")
	}
}

// restartRequired lists the non-reloadable fields that differ.
func restartRequired(prev, next *Config) []string {
	values := func(c *Config) []any {
		return []any{
			c.API.BaseURL, c.API.Token, c.API.Timeout,
			c.Relay.Brokers, c.Relay.Topic, c.Relay.GroupID, c.Relay.DeadLetterTopic,
			c.Metrics.Addr,
		}
	}

	names := NonReloadableFields()
	a, b := values(prev), values(next)
	var changed []string
	for i := range names {
		if !reflect.DeepEqual(a[i], b[i]) {
			changed = append(changed, names[i])
		}
	}
	return changed
}

// ReloadableFields returns the fields a reload applies.
func ReloadableFields() []string {
	return []string{
		"polling.interval",
		"polling.max_interval",
		"polling.multiplier",
		"polling.max_wait",
		"logging.level",
	}
}

// NonReloadableFields returns the fields that need a restart, in the order
// restartRequired compares them.
func NonReloadableFields() []string {
	return []string{
		"api.base_url",
		"api.token",
		"api.timeout",
		"relay.brokers",
		"relay.topic",
		"relay.group_id",
		"relay.dead_letter_topic",
		"metrics.addr",
	}
}
