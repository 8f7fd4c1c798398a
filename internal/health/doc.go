// Package health holds the liveness and readiness probes served on the ops
// listener.
//
// Probes compose with [All]. [Ping] adapts a dependency with a Ping method
// (the Redis session store) into a probe bounded by a timeout.
//
// [ShutdownGate] fails readiness as soon as shutdown begins, so the load
// balancer stops routing visitors here while in-flight downloads drain.
package health
