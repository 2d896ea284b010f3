// Package definitions loads setting definitions from a watched directory and
// serves them to settings containers.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

var ErrDuplicateDefinition = errors.New("duplicate setting definition")

type entry struct {
	def         *settings.Definition
	file        string
	fingerprint string
}

// Catalog is the definition source for containers. It reports itself as
// loading until the first Load completes and then fires OnLoaded callbacks
// exactly once.
type Catalog struct {
	dir     string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	entries  map[settings.Identity]*entry
	loading  bool
	waiters  []func()
	onAdded  []func([]*settings.Definition)
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	watchMu sync.Mutex
	// settle delays reloads so that editors finish writing first.
	settle time.Duration
}

// NewCatalog creates a catalog over dir, creating the directory if needed.
func NewCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("definitions directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create definitions directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Catalog{
		dir:     dir,
		logger:  logger,
		watcher: watcher,
		entries: make(map[settings.Identity]*entry),
		loading: true,
		stopCh:  make(chan struct{}),
		settle:  50 * time.Millisecond,
	}, nil
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string { return c.dir }

// Start watches the directory for new definitions. If Load has not run yet
// the initial load happens in the background.
func (c *Catalog) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	loading := c.loading
	c.mu.Unlock()

	if err := c.watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch definitions directory: %w", err)
	}

	go c.watchLoop(ctx)
	if loading {
		go func() {
			if err := c.Load(); err != nil {
				c.logger.Warn("Definition catalog loaded with errors", zap.Error(err))
			}
		}()
	}

	c.logger.Info("Definition catalog started", zap.String("dir", c.dir), zap.Bool("async_load", loading))
	return nil
}

// Stop ends the watch loop and releases the watcher.
func (c *Catalog) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		err = c.watcher.Close()
	})
	return err
}

// Load reads every definition file. Invalid files and definitions are skipped
// and reported in the returned error; the valid remainder is still published.
// The first call completes the loading phase.
func (c *Catalog) Load() error {
	start := time.Now()
	paths, err := c.definitionFiles()
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		c.finishLoading()
		return err
	}

	var errs []error
	var added []*settings.Definition
	for _, path := range paths {
		defs, err := c.loadFile(path)
		if err != nil {
			errs = append(errs, err)
		}
		added = append(added, defs...)
	}

	status := "success"
	if len(errs) > 0 {
		status = "partial"
	}
	metrics.CatalogReloads.WithLabelValues(status).Inc()
	c.logger.Info("Definition catalog loaded",
		zap.Int("files", len(paths)),
		zap.Int("definitions", len(added)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)),
	)

	if !c.finishLoading() {
		c.publish(added)
	}
	return errors.Join(errs...)
}

// finishLoading ends the loading phase. It reports whether this call did so.
func (c *Catalog) finishLoading() bool {
	c.mu.Lock()
	if !c.loading {
		c.mu.Unlock()
		return false
	}
	c.loading = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
	return true
}

func (c *Catalog) definitionFiles() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := detectFormat(e.Name()); ok {
			paths = append(paths, filepath.Join(c.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFile parses one file and registers its unseen definitions, returning them.
func (c *Catalog) loadFile(path string) ([]*settings.Definition, error) {
	name := filepath.Base(path)
	format, ok := detectFormat(name)
	if !ok {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", name, err)
	}
	doc, err := parseDocument(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var errs []error
	var added []*settings.Definition
	seen := make(map[settings.Identity]bool, len(doc.Settings))

	c.mu.Lock()
	for _, raw := range doc.Settings {
		id := settings.Identity(raw.ID)
		fp := raw.fingerprint()
		seen[id] = true

		if existing, ok := c.entries[id]; ok {
			switch {
			case existing.file != name:
				errs = append(errs, fmt.Errorf("%w: %s in %s already defined in %s", ErrDuplicateDefinition, id, name, existing.file))
			case existing.fingerprint != fp:
				c.logger.Warn("Ignoring change to registered setting definition",
					zap.String("setting", string(id)),
					zap.String("file", name),
				)
			}
			continue
		}

		def, err := raw.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		c.entries[id] = &entry{def: def, file: name, fingerprint: fp}
		added = append(added, def)
	}
	for id, e := range c.entries {
		if e.file == name && !seen[id] {
			c.logger.Warn("Registered setting definition missing from file",
				zap.String("setting", string(id)),
				zap.String("file", name),
			)
		}
	}
	total := len(c.entries)
	c.mu.Unlock()

	metrics.DefinitionsLoaded.Set(float64(total))
	if len(added) > 0 {
		c.logger.Debug("Definitions registered", zap.String("file", name), zap.Int("count", len(added)))
	}
	return added, errors.Join(errs...)
}

func (c *Catalog) publish(defs []*settings.Definition) {
	if len(defs) == 0 {
		return
	}
	c.mu.RLock()
	handlers := make([]func([]*settings.Definition), len(c.onAdded))
	copy(handlers, c.onAdded)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(defs)
	}
}

// IsLoading reports whether the initial load is still in progress.
func (c *Catalog) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// OnLoaded queues fn until loading completes, or runs it immediately when it
// already has.
func (c *Catalog) OnLoaded(fn func()) {
	c.mu.Lock()
	if c.loading {
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// OnAdded subscribes to definitions registered after the initial load.
func (c *Catalog) OnAdded(fn func([]*settings.Definition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAdded = append(c.onAdded, fn)
}

// Definitions returns the definitions of the given scope sorted by identity.
func (c *Catalog) Definitions(scope settings.Scope) []*settings.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*settings.Definition, 0, len(c.entries))
	for _, e := range c.entries {
		if e.def.Scope == scope {
			out = append(out, e.def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Definition looks a definition up by identity across scopes.
func (c *Catalog) Definition(id settings.Identity) *settings.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[id]; ok {
		return e.def
	}
	return nil
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Catalog) watchLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Definition watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleWatchEvent(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("Definition watcher error", zap.Error(err))
		}
	}
}

func (c *Catalog) handleWatchEvent(event fsnotify.Event) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	name := filepath.Base(event.Name)
	if _, ok := detectFormat(name); !ok {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		c.logger.Warn("Definition file removed; registered definitions are kept", zap.String("file", name))
		return
	case event.Op&(fsnotify.Create|fsnotify.Write) == 0:
		return
	}

	if c.IsLoading() {
		return
	}
	time.Sleep(c.settle)

	added, err := c.loadFile(event.Name)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		c.logger.Error("Failed to reload definition file", zap.String("file", name), zap.Error(err))
	} else {
		metrics.CatalogReloads.WithLabelValues("success").Inc()
	}
	if len(added) > 0 {
		c.logger.Info("New setting definitions available", zap.String("file", name), zap.Int("count", len(added)))
		c.publish(added)
	}
}
