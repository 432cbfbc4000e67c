package repo

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// Watch follows revisions committed to the same on-disk repository by other
// processes (for example `deltaserve import` while a server is running) and
// raises the youngest revision as they appear. onCommit, if non-nil, is called
// with every newly observed revision. Watch blocks until ctx is done.
//
// Only repositories on the real filesystem can be watched.
func (r *FileRepository) Watch(ctx context.Context, onCommit func(rev int64)) error {
	root := r.fs.Root()
	if root == "" || root == "/" {
		return fmt.Errorf("repository at %q is not on a watchable filesystem", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create revision watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Join(root, revsDir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	glog.V(1).Infof("watching %s for new revisions", dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			rev, ok := parseRevFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			if rev <= r.youngest.Load() {
				continue
			}
			r.noteRevision(rev)
			glog.Infof("observed r%d committed by another process", rev)
			if onCommit != nil {
				onCommit(rev)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			glog.Warningf("revision watcher error: %v", err)
		}
	}
}
