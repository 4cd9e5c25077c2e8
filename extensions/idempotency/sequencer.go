package idempotency

import (
	"context"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/log"
)

// Completer is the completion surface of *medchain.Sequencer
type Completer interface {
	CompletePurchase(ctx context.Context, requestedAmount uint64, uniqueID medchain.PurchaseID) (*medchain.CompletionResult, error)
	ResumeCompletion(ctx context.Context, uniqueID medchain.PurchaseID, payment *medchain.TransactionReceipt) (*medchain.CompletionResult, error)
}

// IdempotentSequencer wraps a sequencer with per-purchase idempotency.
//
// It intercepts CompletePurchase and ResumeCompletion to check for cached
// results, in-flight calls and recorded payments before any transaction is sent.
type IdempotentSequencer struct {
	inner        Completer
	store        CompletionStore
	keyGenerator KeyGenerator
}

// Wrap creates an IdempotentSequencer that wraps the given sequencer.
//
// Default configuration:
//   - InMemoryStore with 10-minute TTL
//   - keys are the purchase identifier
func Wrap(inner Completer, opts ...Option) *IdempotentSequencer {
	cfg := &config{
		ttl:          DefaultTTL,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentSequencer{
		inner:        inner,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// CompletePurchase runs the completion sequence at most once per uniqueID.
//
// If an earlier call confirmed the payment but failed to record the
// completion, this call resumes at the completion step and pays nothing.
func (s *IdempotentSequencer) CompletePurchase(ctx context.Context, requestedAmount uint64, uniqueID medchain.PurchaseID) (*medchain.CompletionResult, error) {
	return s.guard(ctx, uniqueID, func(recorded *medchain.TransactionReceipt) (*medchain.CompletionResult, error) {
		if recorded != nil {
			log.L(ctx).Infof("Payment %s already confirmed for %s, resuming at completion", recorded.TxHash, uniqueID)
			return s.inner.ResumeCompletion(ctx, uniqueID, recorded)
		}
		return s.inner.CompletePurchase(ctx, requestedAmount, uniqueID)
	})
}

// ResumeCompletion resumes at the completion step. A nil payment falls back to
// the payment recorded by an earlier failed call.
func (s *IdempotentSequencer) ResumeCompletion(ctx context.Context, uniqueID medchain.PurchaseID, payment *medchain.TransactionReceipt) (*medchain.CompletionResult, error) {
	return s.guard(ctx, uniqueID, func(recorded *medchain.TransactionReceipt) (*medchain.CompletionResult, error) {
		if payment == nil {
			payment = recorded
		}
		return s.inner.ResumeCompletion(ctx, uniqueID, payment)
	})
}

// PendingPayment returns the confirmed payment still waiting for its completion, or nil
func (s *IdempotentSequencer) PendingPayment(uniqueID medchain.PurchaseID) *medchain.TransactionReceipt {
	return s.store.Payment(s.keyGenerator(uniqueID))
}

// Inner returns the wrapped sequencer
func (s *IdempotentSequencer) Inner() Completer {
	return s.inner
}

func (s *IdempotentSequencer) guard(ctx context.Context, uniqueID medchain.PurchaseID, do func(recorded *medchain.TransactionReceipt) (*medchain.CompletionResult, error)) (*medchain.CompletionResult, error) {
	key := s.keyGenerator(uniqueID)

	status, result, done := s.store.CheckAndMark(key)
	switch status {
	case StatusCached:
		log.L(ctx).Debugf("Returning cached completion for %s", uniqueID)
		return result, nil

	case StatusInFlight:
		result, err := s.store.WaitForResult(ctx, key, done)
		if err != nil {
			return nil, medchain.NewWorkflowError(medchain.ErrCodeSequenceAborted, "cancelled while waiting for an in-flight completion", err)
		}
		if result != nil {
			return result, nil
		}
		// in-flight call failed, take a new slot
		return s.guard(ctx, uniqueID, do)

	case StatusNotFound:
		// this call owns the in-flight slot
	}

	result, err := do(s.store.Payment(key))
	if err != nil {
		if result != nil && result.Payment.Succeeded() {
			s.store.RecordPayment(key, result.Payment)
		}
		s.store.Fail(key, done)
		return result, err
	}

	s.store.Complete(key, result, done)
	return result, nil
}
