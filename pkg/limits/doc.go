// Package limits meters access to scarce backend operations.
//
// # Overview
//
// Two mechanisms gate every metered call:
//
//   - ratelimit: per-category request quotas over fixed windows, with
//     optional escalating blocks
//   - credits: a pre-paid balance debited per operation and refunded when
//     the operation fails downstream
//
// The Gateway composes them. Authorize checks the rate limit first and only
// then debits credits, so a rate-limited request never touches the ledger.
// An admitted operation must be settled exactly once; Guard does this
// automatically with a deadline.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - storage: window and ledger persistence (memory, SQLite, PostgreSQL, MySQL)
//   - ratelimit: category resolution and fixed-window admission
//   - credits: balances and the transaction ledger
//   - pricing: operation cost table
//   - housekeeping: scheduled purge of expired windows
//
// # Failure Policy
//
// When storage is unreachable the rate limiter fails open by default (an
// under-counted quota is an acceptable trade-off) while the ledger fails
// closed: the request is denied with ReasonUnavailable rather than risk an
// overdraft.
package limits
