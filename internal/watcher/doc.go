// Package watcher keeps the restore catalog in step with the backup tree.
//
// A Watcher subscribes to fsnotify events under the apps and media roots.
// Archive writes, removals and new date directories arm a debounce timer;
// when the tree has been quiet for the debounce interval the rebuild
// callback runs once. Stop flushes a pending rebuild before returning.
//
// Example usage:
//
//	w, err := watcher.New([]string{cfg.AppsRoot(), cfg.MediaRoot()}, rebuild, logger)
//	if err != nil {
//		return err
//	}
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
//
// The daemon helpers run the same loop in a detached child process
// tracked by a PID file.
package watcher
