// Package lwproc provides a lightweight process runtime: per-core schedulers
// with four priority run queues, reduction-counted cooperative preemption and
// a work-stealing load balancer.
//
// Processes are plain Go functions driven one reduction at a time.  Each
// spawned process gets a process control block with its own stack and heap
// regions, a mailbox and a migration history consulted by the balancer.
//
// The engine is designed to be embedded in host applications.  End-users
// typically interact with it via the high-level Service façade exposed by
// the root package:
//
//	srv, _ := lwproc.New(lwproc.WithCores(4))
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	p, _ := rt.Spawn(ctx, work, process.PriorityNormal)
//	...
//	_ = rt.Shutdown(ctx)
//
// For more details see the individual sub-packages.
package lwproc
