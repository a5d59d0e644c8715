package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"

	logx "sesmailer/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the config file on change until ctx is canceled. The parent
// directory is watched so editors that replace the file by rename are seen.
// A watcher that breaks is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w := &fileWatch{
		m:    m,
		dir:  filepath.Dir(m.path),
		file: filepath.Base(m.path),
	}
	defer w.stopTimer()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reloadDebounce
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0.25

	for ctx.Err() == nil {
		err := w.run(ctx, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}
		d := bo.NextBackOff()
		m.log.Warn("config watcher restarting", logx.String("dir", w.dir), logx.Duration("backoff", d), logx.Err(err))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	return nil
}

type fileWatch struct {
	m    *ConfigManager
	dir  string
	file string

	mu    sync.Mutex
	timer *time.Timer
}

// run watches until the watcher breaks or ctx ends. started is called once
// the watch is established.
func (w *fileWatch) run(ctx context.Context, started func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	started()
	w.m.log.Debug("config watcher started", logx.String("dir", w.dir), logx.String("file", w.file))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), w.file) && ev.Op&relevant != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errWatcherClosed
			}
			if err == nil {
				continue
			}
			// Missed events: reload once and keep watching.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.schedule(ctx)
				continue
			}
			w.m.log.Warn("config watch error", logx.String("dir", w.dir), logx.Err(err))
		}
	}
}

// schedule debounces bursts of events (editors write several times).
func (w *fileWatch) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() { w.m.reload(ctx) })
}

func (w *fileWatch) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
