// Package watch reports changes made to a share root by anyone: the
// server itself, the CLI, or a user working in the directory directly.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/t7a/lanshare/share"
)

// Change is one observed filesystem event.  Path is slash-separated
// and relative to the watched root.
type Change struct {
	Path string `json:"path" msgpack:"path"`
	Op   string `json:"op" msgpack:"op"`
}

// Callback is called for every change, from the Run goroutine.
type Callback func(Change)

// Watcher watches a directory tree.  fsnotify only watches single
// directories, so every subdirectory gets its own watch, added as the
// directory appears.
type Watcher struct {
	Root      string
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	callbacks []Callback
}

func New(root string) (w *Watcher, err error) {
	defer Return(&err)

	root, err = filepath.Abs(root)
	Ck(err)
	root, err = filepath.EvalSymlinks(root)
	Ck(err)

	w = &Watcher{Root: root}
	w.watcher, err = fsnotify.NewWatcher()
	Ck(err)

	err = w.addTree(root)
	if err != nil {
		w.watcher.Close()
		return nil, err
	}
	return
}

// Register records callback as a function which Run will call for
// each change.
func (w *Watcher) Register(callback Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) dispatch(change Change) {
	w.mu.Lock()
	callbacks := w.callbacks
	w.mu.Unlock()
	for _, callback := range callbacks {
		callback(change)
	}
}

// addTree watches dir and every directory below it, except the
// share's staging dir, whose churn nobody needs to see.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == share.StagingDir {
			return filepath.SkipDir
		}
		err = w.watcher.Add(path)
		if err != nil {
			return errors.Wrapf(err, "watch %s", path)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (rel string, ok bool) {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == share.StagingDir || strings.HasPrefix(rel, share.StagingDir+"/") {
		return "", false
	}
	return rel, true
}

func opName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	}
	return ""
}

// Run delivers changes to the registered callbacks until ctx ends or
// the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			op := opName(event.Op)
			if op == "" {
				// chmod only
				continue
			}
			rel, ok := w.rel(event.Name)
			if !ok {
				continue
			}
			if op == "create" {
				// new directories need their own watch
				err := w.addTree(event.Name)
				if err != nil {
					log.Warnf("watch: %v", err)
				}
			}
			log.WithFields(log.Fields{"path": rel, "op": op}).Debug("change")
			w.dispatch(Change{Path: rel, Op: op})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
