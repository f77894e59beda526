// Package health provides liveness and readiness probes.
//
// Liveness answers as long as the process serves HTTP. Readiness runs the
// registered checks, typically a ping of the limits database, and answers
// 503 when any of them fails so load balancers stop routing traffic that
// would be denied as unavailable anyway.
package health
