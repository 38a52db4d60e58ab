package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/sources"
)

// Subscription binds a set of source globs to the tasks that rebuild when
// one of them changes. A subscription without tasks only reloads the
// preview.
type Subscription struct {
	Name    string
	Sources *sources.Spec
	Tasks   []string
	Reload  reload.Kind
}

// ReloadOnly reports whether the subscription triggers no build.
func (s Subscription) ReloadOnly() bool { return len(s.Tasks) == 0 }

// Trigger is one debounced batch of changes for a subscription.
type Trigger struct {
	Subscription string
	Tasks        []string
	Reload       reload.Kind
	// Paths are the changed files, root-relative with forward slashes.
	Paths []string
}

// Label returns a short description of the change for status lines.
func (t Trigger) Label() string {
	switch len(t.Paths) {
	case 0:
		return t.Subscription
	case 1:
		return t.Paths[0]
	default:
		return fmt.Sprintf("%s (+%d more)", t.Paths[0], len(t.Paths)-1)
	}
}

// Watcher delivers debounced triggers for file changes under Root.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	subs   []*watchedSub
	logger *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type watchedSub struct {
	sub       Subscription
	debouncer *Debouncer
}

// Start watches the base directories of every subscription and calls
// onTrigger once per debounced batch. A base directory that does not exist
// yet is covered by watching its nearest existing ancestor.
func Start(opts Options, onTrigger func(Trigger)) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if len(opts.Subscriptions) == 0 {
		return nil, errors.New("no watch subscriptions")
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", opts.Root, err)
	}

	if info, statErr := os.Stat(root); statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("watching root %q: not a directory", opts.Root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		root:   root,
		fsw:    fsw,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}

	watched := make(map[string]bool)

	for _, sub := range opts.Subscriptions {
		if sub.Sources == nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("subscription %q has no sources", sub.Name)
		}

		for _, base := range sub.Sources.Bases() {
			dir := nearestExisting(root, filepath.Join(root, filepath.FromSlash(base)))
			if watched[dir] {
				continue
			}

			if err := addRecursive(fsw, dir); err != nil {
				_ = fsw.Close()
				return nil, fmt.Errorf("watching %s: %w", dir, err)
			}

			watched[dir] = true
		}

		ws := &watchedSub{sub: sub}
		ws.debouncer = NewDebouncer(opts.Debounce, func(paths []string) {
			onTrigger(Trigger{
				Subscription: sub.Name,
				Tasks:        append([]string(nil), sub.Tasks...),
				Reload:       sub.Reload,
				Paths:        paths,
			})
		})

		w.subs = append(w.subs, ws)
	}

	w.wg.Add(1)

	go w.loop()

	return w, nil
}

// Stop ends the watch and cancels pending triggers. It is safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
		w.wg.Wait()

		for _, ws := range w.subs {
			ws.debouncer.Stop()
		}
	})
}

// WatchList returns the watched directories.
func (w *Watcher) WatchList() []string { return w.fsw.WatchList() }

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(event)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !isRelevant(event) {
		return
	}

	// New directories are watched too, and files already inside them count
	// as changes.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(w.fsw, event.Name); err != nil {
				w.logger.Warn("watching new directory failed", slog.String("dir", event.Name), slog.Any("error", err))
			}

			w.dispatchTree(event.Name)

			return
		}
	}

	w.dispatch(event.Name)
}

func (w *Watcher) dispatchTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != dir {
				return filepath.SkipDir
			}

			return nil
		}

		w.dispatch(p)

		return nil
	})
}

func (w *Watcher) dispatch(abs string) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}

	rel = filepath.ToSlash(rel)

	for _, ws := range w.subs {
		if ws.sub.Sources.Match(rel) {
			w.logger.Debug("change detected", slog.String("path", rel), slog.String("subscription", ws.sub.Name))
			ws.debouncer.Trigger(rel)
		}
	}
}

// nearestExisting returns dir, or the closest ancestor of dir that exists,
// never leaving root.
func nearestExisting(root, dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}

		parent := filepath.Dir(dir)
		if dir == root || parent == dir || !strings.HasPrefix(parent, root) {
			return root
		}

		dir = parent
	}
}

// addRecursive walks root and adds all directories to the watcher.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git).
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return watcher.Add(path)
		}

		return nil
	})
}

// isRelevant filters out chmod-only events and editor scratch files.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	// Ignore editor temporary files and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
