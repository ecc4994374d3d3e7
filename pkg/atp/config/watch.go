package config

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/datawire/dlib/dlog"
)

// WatchScenarioFile watches path for changes and invokes onChange with the
// reparsed Scenario whenever it is rewritten. It blocks until ctx is done.
// Reads go through fs so the reload path is testable against an in-memory
// filesystem; the watch itself is always against the real OS directory,
// since fsnotify has no in-memory mode.
func WatchScenarioFile(ctx context.Context, fs afero.Fs, path string, onChange func(context.Context, Scenario) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	reload := func() {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			dlog.Errorf(ctx, "config: reading %s: %v", path, err)
			return
		}
		scenario, err := ParseScenarioYAML(data)
		if err != nil {
			dlog.Errorf(ctx, "config: parsing %s: %v", path, err)
			return
		}
		if err := onChange(ctx, scenario); err != nil {
			dlog.Errorf(ctx, "config: applying reloaded scenario: %v", err)
		}
	}

	// The directory, not the file, is watched: editors typically save by
	// renaming a temp file over the original, which a file-descriptor-based
	// watch would miss. The delay timer debounces the burst of events that
	// produces.
	delay := time.AfterFunc(time.Duration(math.MaxInt64), reload)
	defer delay.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil || eventPath != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				delay.Reset(50 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			dlog.Errorf(ctx, "config: watcher error: %v", err)
		}
	}
}
