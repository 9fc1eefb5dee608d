// Package balancer implements cross-core work stealing: weighted load
// measurement, pluggable victim selection (random, load-based,
// locality-aware) and the migration policy checks that decide whether a
// candidate process may move between cores.  Steals only ever touch the top
// end of the per-core rings, so local FIFO dispatch order is never disturbed.
package balancer
