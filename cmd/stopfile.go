package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/airframesio/data-differ/cmd/engine"
)

// stoppable is the part of a run the stop file controls
type stoppable interface {
	RequestFinishEarly() error
	RequestCancel()
}

// GetStopFilePath returns the default stop file path
func GetStopFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".data-differ", "stop")
}

// watchStopFile requests finish early when path appears, falling back to cancel for
// runs that cannot finish early. It returns when ctx is done or after the first stop.
func watchStopFile(ctx context.Context, path string, target stoppable) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stop file directory: %w", err)
	}
	// A stop file left over from an earlier run must not stop this one
	_ = os.Remove(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create stop file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			_ = os.Remove(path)
			requestStop(target)
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Debug(fmt.Sprintf("Stop file watcher error: %v", err))
		}
	}
}

func requestStop(target stoppable) {
	err := target.RequestFinishEarly()
	if errors.Is(err, engine.ErrFinishEarlyUnsupported) {
		logger.Info("🛑 Stop file found, cancelling (this algorithm cannot finish early)")
		target.RequestCancel()
		return
	}
	logger.Info("🛑 Stop file found, finishing the current bucket and keeping partial results")
}
