// Package watcher notices new corpus generations.
//
// Every successful load rewrites <data_dir>/generation last. The watcher
// follows that file with fsnotify, coalesces the burst of events a rename
// produces, and emits the new generation number once. Where fsnotify cannot
// start (network mounts, some container volumes) it polls instead.
//
// Usage:
//
//	w := watcher.New(dataDir, watcher.DefaultOptions(), logger)
//	go func() { _ = w.Start(ctx) }()
//	for gen := range w.Events() {
//	    // reopen the runtime
//	}
package watcher
