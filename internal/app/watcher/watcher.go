// Package watcher feeds image files dropped into an inbox folder through the
// shell and writes the compressed results to an outbox folder.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"imgshrink/internal/app/services"
	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/utils"
)

const (
	defaultDebounce = 500 * time.Millisecond
	defaultRetry    = 2 * time.Second
)

var acceptedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".avif": {},
}

// Shell is the part of the shell controller the watcher drives.
type Shell interface {
	Submit(ctx context.Context, files []services.FileInput, settings image.Settings) ([]string, error)
	Busy() bool
	Subscribe(fn func(pipeline.Message)) func()
	Export(ctx context.Context, id string) (services.Export, error)
	Defaults() image.Settings
}

// Config configures a Watcher.
type Config struct {
	Inbox         string
	Outbox        string
	Debounce      time.Duration
	RetryInterval time.Duration
	// RemoveSource deletes inbox files once their output is written.
	RemoveSource bool
	// Settings overrides the shell defaults when non-nil.
	Settings *image.Settings
}

// Watcher submits inbox files one per batch whenever the shell is idle.
type Watcher struct {
	cfg    Config
	shell  Shell
	bus    *eventbus.Bus
	logger *utils.Logger

	fs    *fsnotify.Watcher
	ready chan string
	kick  chan struct{}

	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	owned    map[string]string // image id -> source path
	debounce map[string]*time.Timer
}

// New validates cfg and prepares the folders.
func New(cfg Config, shell Shell, bus *eventbus.Bus, logger *utils.Logger) (*Watcher, error) {
	if cfg.Inbox == "" || cfg.Outbox == "" {
		return nil, fmt.Errorf("watcher requires inbox and outbox folders")
	}
	if filepath.Clean(cfg.Inbox) == filepath.Clean(cfg.Outbox) {
		return nil, fmt.Errorf("inbox and outbox must differ")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetry
	}
	for _, dir := range []string{cfg.Inbox, cfg.Outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create folder %s: %w", dir, err)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(cfg.Inbox); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch folder %s: %w", cfg.Inbox, err)
	}

	return &Watcher{
		cfg:      cfg,
		shell:    shell,
		bus:      bus,
		logger:   logger,
		fs:       fsWatcher,
		ready:    make(chan string, 100),
		kick:     make(chan struct{}, 1),
		queued:   make(map[string]struct{}),
		owned:    make(map[string]string),
		debounce: make(map[string]*time.Timer),
	}, nil
}

// Run watches the inbox until ctx ends. Files already present are queued
// first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	unsubscribe := w.shell.Subscribe(w.onMessage)
	defer unsubscribe()

	w.scanExisting()
	w.logger.InfoTag("Inbox", "watching %s, writing to %s", w.cfg.Inbox, w.cfg.Outbox)

	ticker := time.NewTicker(w.cfg.RetryInterval)
	defer ticker.Stop()

	w.trySubmit(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !accepted(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnTag("Inbox", "watcher error: %v", err)

		case path := <-w.ready:
			w.enqueue(path)
			w.trySubmit(ctx)

		case <-w.kick:
			w.trySubmit(ctx)

		case <-ticker.C:
			w.trySubmit(ctx)
		}
	}
}

func accepted(path string) bool {
	base := filepath.Base(path)
	if base == "" || base[0] == '.' {
		return false
	}
	_, ok := acceptedExtensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Inbox)
	if err != nil {
		w.logger.WarnTag("Inbox", "failed to scan %s: %v", w.cfg.Inbox, err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && accepted(e.Name()) {
			w.enqueue(filepath.Join(w.cfg.Inbox, e.Name()))
		}
	}
}

// schedule waits for the file to settle before queueing it.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.debounce[path]; exists {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.queued[path]; dup {
		return
	}
	w.queued[path] = struct{}{}
	w.pending = append(w.pending, path)
}

func (w *Watcher) trySubmit(ctx context.Context) {
	for {
		if w.shell.Busy() {
			return
		}
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		path := w.pending[0]
		w.pending = w.pending[1:]
		delete(w.queued, path)
		w.mu.Unlock()

		submitted, retry := w.submit(ctx, path)
		if retry {
			w.mu.Lock()
			w.pending = append([]string{path}, w.pending...)
			w.queued[path] = struct{}{}
			w.mu.Unlock()
			return
		}
		if submitted {
			return
		}
	}
}

// submit reports whether a batch was started and whether path should be
// tried again later.
func (w *Watcher) submit(ctx context.Context, path string) (submitted, retry bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.WarnTag("Inbox", "failed to read %s: %v", path, err)
		}
		return false, false
	}

	settings := w.shell.Defaults()
	if w.cfg.Settings != nil {
		settings = *w.cfg.Settings
	}
	// Ownership is recorded before Submit: the pump may deliver the result
	// before Submit returns.
	id := uuid.NewString()
	w.mu.Lock()
	w.owned[id] = path
	w.mu.Unlock()

	file := services.FileInput{
		ID:   id,
		Name: filepath.Base(path),
		Size: int64(len(data)),
		Data: data,
	}
	_, err = w.shell.Submit(ctx, []services.FileInput{file}, settings)
	if err != nil {
		w.mu.Lock()
		delete(w.owned, id)
		w.mu.Unlock()
	}
	switch {
	case errors.Is(err, services.ErrBatchInProgress):
		return false, true
	case err != nil:
		w.logger.WarnTag("Inbox", "skipping %s: %v", path, err)
		return false, false
	}

	w.bus.Publish(eventbus.EventInboxQueued, eventbus.InboxEventData{Path: path, ImageID: id})
	w.logger.InfoTag("Inbox", "queued %s", path)
	return true, false
}

// onMessage runs on the shell pump after the store has been updated.
func (w *Watcher) onMessage(msg pipeline.Message) {
	for _, r := range msg.Results() {
		w.mu.Lock()
		path, ok := w.owned[r.ID]
		delete(w.owned, r.ID)
		w.mu.Unlock()
		if !ok {
			continue
		}
		if !r.Success {
			w.logger.WarnTag("Inbox", "%s failed: %s", path, r.Error)
			continue
		}
		w.writeOutput(r.ID, path)
	}

	if msg.Type == pipeline.TypeBatchCompleted || msg.Type == pipeline.TypeError {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) writeOutput(id, source string) {
	export, err := w.shell.Export(context.Background(), id)
	if err != nil {
		w.logger.WarnTag("Inbox", "failed to export %s: %v", source, err)
		return
	}
	target := filepath.Join(w.cfg.Outbox, export.Name)
	tmp := target + ".part"
	if err := os.WriteFile(tmp, export.Data, 0o644); err != nil {
		w.logger.ErrorTag("Inbox", "failed to write %s: %v", target, err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		w.logger.ErrorTag("Inbox", "failed to finalise %s: %v", target, err)
		return
	}
	if w.cfg.RemoveSource {
		if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.WarnTag("Inbox", "failed to remove %s: %v", source, err)
		}
	}
	w.bus.Publish(eventbus.EventInboxStored, eventbus.InboxEventData{Path: target, ImageID: id})
	w.logger.InfoTag("Inbox", "stored %s", target)
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, timer := range w.debounce {
		timer.Stop()
		delete(w.debounce, path)
	}
	w.mu.Unlock()
	if err := w.fs.Close(); err != nil {
		w.logger.WarnTag("Inbox", "failed to close watcher: %v", err)
	}
}
