package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
)

// DefaultSettleTime is how long a watcher waits after a change before reloading, so that an
// editor's write sequence results in a single reload.
const DefaultSettleTime = 250 * time.Millisecond

// ReloadFunc reloads a calibration document.
type ReloadFunc func(ctx context.Context) error

// Watcher calls a reload function whenever a calibration document is written or replaced.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	workers *goutils.StoppableWorkers
	logger  logging.Logger
}

// NewWatcher watches path. The document's directory is watched rather than the file so that
// documents replaced by rename are still seen.
func NewWatcher(path string, settle time.Duration, reload ReloadFunc, logger logging.Logger) (*Watcher, error) {
	path = filepath.Clean(path)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		goutils.UncheckedError(fw.Close())
		return nil, errors.Wrapf(err, "cannot watch %s", path)
	}
	w := &Watcher{
		path:    path,
		watcher: fw,
		workers: goutils.NewBackgroundStoppableWorkers(),
		logger:  logger,
	}
	w.workers.Add(func(ctx context.Context) {
		w.run(ctx, settle, reload)
	})
	return w, nil
}

func (w *Watcher) run(ctx context.Context, settle time.Duration, reload ReloadFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("file watcher error", "path", w.path, "error", err)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if !goutils.SelectContextOrWait(ctx, settle) {
				return
			}
			w.drain()
			w.logger.Infow("calibration document changed", "path", w.path)
			if err := reload(ctx); err != nil {
				w.logger.Errorw("reload failed", "path", w.path, "error", err)
			}
		}
	}
}

// drain discards events queued while settling.
func (w *Watcher) drain() {
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.watcher.Close()
}

// WatchDocument reloads name into every driver of p when the document changes.
func (p *Pipeline) WatchDocument(paths *calibration.RepositoryPaths, name string, settle time.Duration) (*Watcher, error) {
	return NewWatcher(paths.Resolve(name), settle, func(ctx context.Context) error {
		return p.LoadDocument(ctx, name)
	}, p.logger.Sublogger("watcher"))
}
