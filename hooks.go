package medchain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Sequencer Hook Context Types
// ============================================================================

// PurchaseContext contains information passed to every sequencer hook
type PurchaseContext struct {
	Ctx             context.Context
	UniqueID        PurchaseID
	RequestedAmount uint64
	Payer           common.Address
	Beneficiary     common.Address
	TotalCost       *big.Int
	Timestamp       time.Time
}

// PaymentResultContext is passed after the value transfer is confirmed
type PaymentResultContext struct {
	PurchaseContext
	Payment  *TransactionReceipt
	Duration time.Duration
}

// CompletionResultContext is passed after the whole sequence succeeded
type CompletionResultContext struct {
	PurchaseContext
	Result   *CompletionResult
	Duration time.Duration
}

// PurchaseFailureContext is passed when the sequence fails at any step
type PurchaseFailureContext struct {
	PurchaseContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Sequencer Hook Result Types
// ============================================================================

// BeforePaymentHookResult represents the result of a before-payment hook.
// If Abort is true, no value is transferred and the sequence fails with Reason.
type BeforePaymentHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Sequencer Hook Function Types
// ============================================================================

// BeforePaymentHook runs after the beneficiary and cost are resolved and before
// any transaction is sent
type BeforePaymentHook func(PurchaseContext) (*BeforePaymentHookResult, error)

// AfterPaymentHook runs once the value transfer is confirmed
type AfterPaymentHook func(PaymentResultContext)

// AfterCompletionHook runs once the completion call is confirmed
type AfterCompletionHook func(CompletionResultContext)

// PurchaseFailureHook observes failures. Hooks cannot turn a failure into a success.
type PurchaseFailureHook func(PurchaseFailureContext)
