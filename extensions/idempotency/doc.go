// Package idempotency guards the purchase completion sequence against
// resubmission.
//
// # Overview
//
// The completion sequence sends two independent transactions: the payment and
// the completion call. A caller that retries CompletePurchase after a timeout
// or a crash must never pay twice for the same request. This package wraps a
// medchain.Sequencer so that, per uniqueID:
//   - a successful result is cached and returned to repeated calls
//   - concurrent calls wait for the one in flight instead of racing it
//   - a confirmed payment whose completion failed is remembered, and the next
//     call resumes at the completion step instead of paying again
//
// # Usage
//
//	seq := medchain.NewSequencer(ledger, transfer, tracker)
//	guarded := idempotency.Wrap(seq, idempotency.WithTTL(30*time.Minute))
//	result, err := guarded.CompletePurchase(ctx, amount, uniqueID)
//
// # Implementing Custom Stores
//
// The default InMemoryStore only protects a single process. For several
// instances sharing one paying account, implement CompletionStore with a
// shared backend. Recorded payments must survive restarts for resumption to
// work across them.
//
// Failed sequences are NOT cached, allowing legitimate retries.
package idempotency
