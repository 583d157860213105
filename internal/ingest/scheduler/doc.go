// Package scheduler arms one clock timer per enabled job, owns the retry
// delay queue and exposes the administrative surface (trigger, toggle,
// update, history).
//
// Lock order is Service.mu before the registry lock. Registry hooks run after
// the registry lock is released, so they may take Service.mu.
package scheduler
