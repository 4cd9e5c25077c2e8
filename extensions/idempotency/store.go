package idempotency

import (
	"context"

	medchain "github.com/firasabs/medSmartContract"
)

// CompletionStatus represents the result of checking the store.
type CompletionStatus int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound CompletionStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another request is currently completing this purchase.
	StatusInFlight
)

// CompletionStore defines the interface for completion idempotency storage.
// Implementations must be safe for concurrent use.
type CompletionStore interface {
	// CheckAndMark atomically checks the store and marks the key as in-flight if needed.
	//
	// Returns:
	//   - StatusCached + result + nil: A cached result exists, return it immediately
	//   - StatusInFlight + nil + done: Another request is processing, wait on done channel
	//   - StatusNotFound + nil + done: This request should proceed (now marked in-flight)
	CheckAndMark(key string) (CompletionStatus, *medchain.CompletionResult, chan struct{})

	// WaitForResult waits for an in-flight request to complete, respecting context cancellation.
	// A nil result means the in-flight request failed and the caller should retry.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*medchain.CompletionResult, error)

	// Complete caches the result, drops any recorded payment for the key and
	// signals waiters.
	Complete(key string, result *medchain.CompletionResult, done chan struct{})

	// Fail removes the in-flight marker without caching a result.
	Fail(key string, done chan struct{})

	// RecordPayment remembers a confirmed payment whose completion is outstanding.
	// Recorded payments do not expire.
	RecordPayment(key string, payment *medchain.TransactionReceipt)

	// Payment returns the recorded payment for key, or nil
	Payment(key string) *medchain.TransactionReceipt
}

// KeyGenerator derives the deduplication key for a purchase
type KeyGenerator func(uniqueID medchain.PurchaseID) string

// DefaultKeyGenerator keys on the purchase identifier itself
func DefaultKeyGenerator(uniqueID medchain.PurchaseID) string {
	return uniqueID.Hex()
}
