// Package inbox watches a drop directory and feeds every new receipt file
// through a Handler. Handled files move to processed/, rejected ones to
// failed/.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"expense-intake/pkg/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	processedDir    = "processed"
	failedDir       = "failed"
	defaultSettle   = 500 * time.Millisecond
	defaultMaxBytes = 10 * 1024 * 1024
	defaultWorkers  = 2
)

var watchedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff", ".pdf", ".txt"}

// Handler ingests one dropped file.
type Handler func(ctx context.Context, name string, data []byte) error

type Watcher struct {
	dir      string
	handle   Handler
	settle   time.Duration
	maxBytes int64
	workers  int
	logger   *zap.Logger
}

func NewWatcher(cfg *config.InboxConfig, maxBytes int64, handle Handler, logger *zap.Logger) *Watcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Watcher{
		dir:      cfg.Dir,
		handle:   handle,
		settle:   defaultSettle,
		maxBytes: maxBytes,
		workers:  workers,
		logger:   logger,
	}
}

// Run blocks until ctx is done. Files already in the directory are handled
// first. Writes to a file restart its settle timer so half-copied files are
// not picked up. Settled files are handled by a pool of workers while the
// event loop keeps draining notifications; Run returns after in-flight files
// finish.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	ready := make(chan string, 100)
	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(w.settle)
			return
		}
		timers[path] = time.AfterFunc(w.settle, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case path := <-ready:
					w.process(ctx, path)
				}
			}
		}()
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	for _, e := range entries {
		if path := filepath.Join(w.dir, e.Name()); !e.IsDir() && w.watched(path) {
			schedule(path)
		}
	}

	w.logger.Info("Inbox watcher started", zap.String("dir", w.dir), zap.Int("workers", w.workers))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox watcher stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.watched(event.Name) {
				schedule(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Inbox watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	if info.Size() > w.maxBytes {
		w.logger.Warn("Inbox file too large", zap.String("file", name), zap.Int64("size", info.Size()))
		w.move(path, failedDir)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("Failed to read inbox file", zap.String("file", name), zap.Error(err))
		return
	}

	if err := w.handle(ctx, name, data); err != nil {
		if ctx.Err() != nil {
			w.logger.Info("Inbox file left for next run", zap.String("file", name))
			return
		}
		w.logger.Warn("Inbox file rejected", zap.String("file", name), zap.Error(err))
		w.move(path, failedDir)
		return
	}

	w.logger.Info("Inbox file ingested", zap.String("file", name))
	w.move(path, processedDir)
}

func (w *Watcher) move(path, sub string) {
	target := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(target, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, target); err != nil {
		w.logger.Warn("Failed to move inbox file", zap.String("file", path), zap.Error(err))
	}
}

func (w *Watcher) watched(path string) bool {
	if filepath.Dir(path) != filepath.Clean(w.dir) {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range watchedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
