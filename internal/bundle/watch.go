package bundle

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/resilience"
)

// ReloadFunc swaps in the bundle stored at path.
type ReloadFunc func(ctx context.Context, path string) error

// Watcher reloads a bundle file whenever it changes on disk.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	retry    resilience.RetryConfig
}

// NewWatcher watches path and calls reload after each settled change.
func NewWatcher(path string, reload ReloadFunc) *Watcher {
	retry := resilience.ReloadRetryConfig()
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger("bundle", "reload")
	return &Watcher{
		path:     filepath.Clean(path),
		reload:   reload,
		debounce: 500 * time.Millisecond,
		retry:    retry,
	}
}

// WithDebounce sets how long the file must be quiet before reloading.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// WithRetry replaces the reload retry policy.
func (w *Watcher) WithRetry(cfg resilience.RetryConfig) *Watcher {
	w.retry = cfg
	return w
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file so that atomic replace-by-rename is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "bundle: create watcher")
	}
	defer fw.Close() //nolint:errcheck

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return eris.Wrapf(err, "bundle: watch %s", dir)
	}
	zap.L().Info("bundle: watching for changes", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("bundle: watcher error", zap.Error(err))

		case <-timer.C:
			w.reloadNow(ctx)
		}
	}
}

func (w *Watcher) reloadNow(ctx context.Context) {
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.reload(ctx, w.path)
	})
	if err != nil {
		zap.L().Error("bundle: reload after change failed, keeping active bundle",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("bundle: reloaded after change", zap.String("path", w.path))
}
