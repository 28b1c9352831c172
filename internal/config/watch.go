package config

import (
	"context"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "gqrxsched/pkg/logx"
)

const (
	watchDebounce      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher reports content changes of one file. It watches the parent
// directory so editors that replace the file via rename are handled.
type Watcher struct {
	path     string
	log      logx.Logger
	onChange func(path string)
	debounce time.Duration

	mu       sync.Mutex
	lastHash uint64
}

func NewWatcher(path string, log logx.Logger, onChange func(path string)) *Watcher {
	w := &Watcher{path: path, log: log, onChange: onChange, debounce: watchDebounce}
	if b, err := os.ReadFile(path); err == nil {
		w.lastHash = hashBytes(b)
	}
	return w
}

// check reads the file and fires onChange when its content differs from the
// last seen version.
func (w *Watcher) check() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		if !w.log.IsZero() {
			w.log.Warn("schedule file unreadable", logx.String("path", w.path), logx.Err(err))
		}
		return
	}
	h := hashBytes(b)
	w.mu.Lock()
	unchanged := h == w.lastHash
	w.lastHash = h
	w.mu.Unlock()
	if unchanged {
		if !w.log.IsZero() {
			w.log.Debug("schedule file unchanged; skipping", logx.String("path", w.path))
		}
		return
	}
	if w.onChange != nil {
		w.onChange(w.path)
	}
}

// Watch blocks until ctx is done. When fsnotify gets into a bad state the
// watcher is recreated with a jittered exponential backoff.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.check)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			if !w.log.IsZero() {
				w.log.Warn("schedule watch init failed", logx.Err(err), logx.String("dir", dir))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = restartBackoffBase
		if !w.log.IsZero() {
			w.log.Debug("schedule watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if !w.log.IsZero() {
					w.log.Warn("schedule watch error", logx.Err(err), logx.String("dir", dir))
				}
				// Overflow means events were lost; re-check once.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					debounce()
				}
			}
		}

		_ = fw.Close()
		wait := nextWait()
		if !w.log.IsZero() {
			w.log.Warn("schedule watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
