package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "caseobserver/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// errWatcherClosed is returned by Watch when fsnotify closes its channels;
// the caller is expected to restart Watch.
var errWatcherClosed = errors.New("config watcher closed")

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever its file changes, until ctx is done.
// It watches the parent directory so editors that replace the file are
// seen too. Bursts of events within the debounce window cause one reload.
// A broken watcher makes Watch return an error; run it under a restarting
// loop.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watcher: add %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	d := &debouncer{wait: m.debounce, fire: func() { m.reload(ctx) }}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				d.poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watcher overflowed; reloading", logx.String("dir", dir))
				d.poke()
			case err != nil:
				m.log.Warn("config watcher error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// debouncer runs fire once, wait after the last poke.
type debouncer struct {
	wait time.Duration
	fire func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
