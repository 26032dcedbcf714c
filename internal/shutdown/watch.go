package shutdown

import (
	"github.com/fsnotify/fsnotify"

	"forge/internal/logging"
)

// WatchSnapshot tails dir/PIPELINE_STATE.json, invoking onChange whenever
// it is rewritten. No CLI command calls it; it is not part of the
// ShutdownSignal contract itself. Grounded on the original
// tree-watcher's fsnotify usage.
func WatchSnapshot(dir string, onChange func(), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryShutdown).Warn("watch error: %v", err)
		case <-stop:
			return nil
		}
	}
}
