package transcript

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle batches the bursts of writes the CLI makes while streaming.
const watchSettle = 500 * time.Millisecond

// Watch invalidates the listing cache whenever the projects tree changes
// and calls onChange once per settled burst. It returns after starting the
// watch goroutine; the goroutine stops when ctx is done.
func (r *Reader) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.projectsDir); err != nil {
		watcher.Close()
		return err
	}
	// fsnotify is not recursive; each project directory needs its own watch.
	if entries, err := os.ReadDir(r.projectsDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(r.projectsDir, entry.Name()))
			}
		}
	}
	go r.watchLoop(ctx, watcher, onChange)
	r.log.Debug("transcript watch started")
	return nil
}

func (r *Reader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer watcher.Close()
	var settle *time.Timer
	fire := func() {
		r.Invalidate()
		if onChange != nil {
			onChange()
		}
	}
	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(watchSettle, fire)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug("transcript watch error", "err", err)
		}
	}
}
