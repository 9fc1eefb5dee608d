package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Since returns the elapsed time relative to NowFunc, so that migration
// cooldown arithmetic stays deterministic under a stubbed clock.
func Since(t time.Time) time.Duration { return Now().Sub(t) }
