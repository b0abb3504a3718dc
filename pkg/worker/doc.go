// Package worker implements the offline cache manager: a per-origin process
// that serves requests cache-first from two cache generations and reacts to
// lifecycle and background events.
//
// # Lifecycle
//
// A Manager moves through uninstalled, installing, waiting, activating and
// active. Install precaches the manifest into the static generation, all or
// nothing. Activate removes every generation except the static and dynamic
// ones, claims open pages and starts interception. A Registration sequences
// versions: it installs a new Manager, activates it when allowed and retires
// the previous one.
//
// # Events
//
// Every event handler returns a *Task. The host keeps the event alive until
// Task.Wait returns. Background work started by a handler, such as a dynamic
// cache write after a miss, is tracked by the manager; Settle waits for it
// and Close cancels whatever is left at the deadline.
//
//	reg := worker.NewRegistration(client)
//	m, _ := worker.New(cfg)
//	if err := reg.Update(ctx, m); err != nil {
//	    // previous version keeps serving
//	}
//	resp, err := reg.Fetch(ctx, req)
//
// Fetch is synchronous: it returns the response to hand to the page, tagged
// with its Source (hit, miss, fallback or bypass).
//
// # Metrics
//
//   - offline_worker_state_transitions_total{state}
//   - offline_worker_tasks_total{event,result}
//   - offline_worker_fetch_total{source}
//   - offline_worker_dynamic_writes_total{result}
//   - offline_worker_install_failures_total
//   - offline_worker_stale_cache_deletes_total{result}
//   - offline_worker_push_ignored_total{reason}
//   - offline_worker_messages_total{type}
//   - offline_worker_sync_total{result}
package worker
