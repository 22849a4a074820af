package subscribers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 200 * time.Millisecond

/* Watcher reloads a Loader when its subscribers file changes on disk
 * The parent directory is watched so editors that replace the file by
 * rename are picked up too
 */
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	reloaded chan error
}

// NewWatcher starts watching the directory that holds path
func NewWatcher(loader *Loader, path string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolving subscribers path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("adding watch for %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		loader:   loader,
		path:     abs,
		debounce: defaultDebounce,
		logger:   logger,
		watcher:  fw,
		reloaded: make(chan error, 1),
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Reloaded receives the result of every reload attempt. Sends are dropped
// when nobody is reading.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloaded
}

// Run processes file events until ctx is cancelled, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("subscribers watcher error")
		}
	}
}

func (w *Watcher) reload() {
	err := w.loader.Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", w.path).Msg("reloading subscribers")
	} else {
		w.logger.Info().Int("subscribers", len(w.loader.List())).Str("file", w.path).Msg("subscribers reloaded")
	}

	select {
	case w.reloaded <- err:
	default:
	}
}
