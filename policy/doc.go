// Package policy defines the declarative migration rules the work-stealing
// balancer enforces before moving a process between cores: the migration cap,
// the per-process cooldown, the load-imbalance threshold and an optional veto
// hook for embedders that need per-process control.
package policy
