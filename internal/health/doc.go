// Package health provides composable probes and the liveness and readiness
// handlers served on both listeners.
//
// [ShutdownGate] fails readiness as soon as a drain starts so load
// balancers stop routing webhooks before in-flight dispatches finish.
package health
