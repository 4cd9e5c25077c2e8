package medchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/firasabs/medSmartContract/log"
	"github.com/firasabs/medSmartContract/retry"
)

// DefaultConfirmationTimeout bounds each wait for a transaction to be mined
const DefaultConfirmationTimeout = 2 * time.Minute

// Sequencer drives the two-phase purchase completion: pay the beneficiary,
// then record the completion on the ledger.
//
// The two transactions are independent. The sequencer guarantees the
// completion call is only ever sent after the payment of the same call (or a
// payment verified on the network, see ResumeCompletion) was confirmed.
type Sequencer struct {
	ledger              LedgerClient
	transfer            ValueTransferClient
	tracker             *Tracker
	pricePerUnit        *big.Int
	confirmationTimeout time.Duration
	completionRetry     *retry.Retry

	beforePaymentHooks   []BeforePaymentHook
	afterPaymentHooks    []AfterPaymentHook
	afterCompletionHooks []AfterCompletionHook
	onFailureHooks       []PurchaseFailureHook
}

// SequencerOption configures a Sequencer
type SequencerOption func(*Sequencer)

// WithPricePerUnit sets the per-unit price in wei.
// Default: 0.02 ether
func WithPricePerUnit(wei *big.Int) SequencerOption {
	return func(s *Sequencer) {
		s.pricePerUnit = new(big.Int).Set(wei)
	}
}

// WithConfirmationTimeout bounds each confirmation wait.
// Default: 2 minutes
func WithConfirmationTimeout(timeout time.Duration) SequencerOption {
	return func(s *Sequencer) {
		s.confirmationTimeout = timeout
	}
}

// WithCompletionRetry configures the bounded retry of the completion call.
// The value transfer is never retried.
func WithCompletionRetry(conf retry.Config) SequencerOption {
	return func(s *Sequencer) {
		s.completionRetry = retry.New(conf)
	}
}

// NewSequencer creates a completion sequencer. If tracker is nil a tracker
// without a renderer is created over ledger.
func NewSequencer(ledger LedgerClient, transfer ValueTransferClient, tracker *Tracker, opts ...SequencerOption) *Sequencer {
	defaultPrice, err := ParseEther(DefaultPricePerUnit)
	if err != nil {
		panic(err)
	}
	if tracker == nil {
		tracker = NewTracker(ledger, nil)
	}
	s := &Sequencer{
		ledger:              ledger,
		transfer:            transfer,
		tracker:             tracker,
		pricePerUnit:        defaultPrice,
		confirmationTimeout: DefaultConfirmationTimeout,
		completionRetry:     retry.New(retry.Defaults),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (s *Sequencer) OnBeforePayment(hook BeforePaymentHook) *Sequencer {
	s.beforePaymentHooks = append(s.beforePaymentHooks, hook)
	return s
}

func (s *Sequencer) OnAfterPayment(hook AfterPaymentHook) *Sequencer {
	s.afterPaymentHooks = append(s.afterPaymentHooks, hook)
	return s
}

func (s *Sequencer) OnAfterCompletion(hook AfterCompletionHook) *Sequencer {
	s.afterCompletionHooks = append(s.afterCompletionHooks, hook)
	return s
}

func (s *Sequencer) OnFailure(hook PurchaseFailureHook) *Sequencer {
	s.onFailureHooks = append(s.onFailureHooks, hook)
	return s
}

// PricePerUnit returns a copy of the configured per-unit price in wei
func (s *Sequencer) PricePerUnit() *big.Int {
	return new(big.Int).Set(s.pricePerUnit)
}

// ============================================================================
// Completion
// ============================================================================

// CompletePurchase pays for an approved request and marks it completed.
//
// Steps, strictly in order:
//  1. totalCost = pricePerUnit * requestedAmount
//  2. resolve the beneficiary from the ledger owner (never cached)
//  3. send totalCost to the beneficiary and wait for confirmation
//  4. submit the completion for uniqueID and wait for confirmation
//  5. re-read the payer's requests
//
// Before anything is paid the payer's request for uniqueID is re-read from the
// ledger. It must be approved, not completed, and for exactly requestedAmount;
// otherwise the error wraps ErrInvalidRequest and nothing is sent.
//
// If step 3 fails the error wraps ErrSequenceAborted and no completion is sent.
// If step 4 fails the error wraps ErrCompletionPending and the returned result
// carries the confirmed payment for ResumeCompletion.
//
// Cancelling ctx after the payment was submitted does not interrupt the sequence.
func (s *Sequencer) CompletePurchase(ctx context.Context, requestedAmount uint64, uniqueID PurchaseID) (*CompletionResult, error) {
	start := time.Now()
	if requestedAmount == 0 {
		return nil, NewWorkflowError(ErrCodeInvalidRequest, "requested amount must be positive", nil)
	}
	if uniqueID.IsZero() {
		return nil, NewWorkflowError(ErrCodeInvalidRequest, "unique id is required", nil)
	}
	ctx = log.WithLogField(ctx, "purchase", uniqueID.Hex())

	totalCost := TotalCost(s.pricePerUnit, requestedAmount)
	pc := PurchaseContext{
		Ctx:             ctx,
		UniqueID:        uniqueID,
		RequestedAmount: requestedAmount,
		Payer:           s.transfer.Address(),
		TotalCost:       totalCost,
		Timestamp:       start,
	}

	req, werr := s.findRequest(ctx, pc.Payer, uniqueID)
	if werr != nil {
		return nil, s.fail(pc, start, werr)
	}
	if !req.CanComplete() {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeInvalidRequest,
			fmt.Sprintf("request %s is %s and cannot be completed", uniqueID, req.Status()), nil))
	}
	if req.RequestedAmount != requestedAmount {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeInvalidRequest,
			fmt.Sprintf("request %s is for %d units, not %d", uniqueID, req.RequestedAmount, requestedAmount), nil))
	}

	owner, err := s.ledger.GetOwner(ctx)
	if err != nil {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, "failed to resolve beneficiary",
			asWorkflowError(err, ErrCodeLedgerReadFailure, "failed to read contract owner")))
	}
	pc.Beneficiary = owner

	for _, hook := range s.beforePaymentHooks {
		result, err := hook(pc)
		if err != nil {
			return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, "before-payment hook failed", err))
		}
		if result != nil && result.Abort {
			return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, result.Reason, nil))
		}
	}

	result := &CompletionResult{
		UniqueID:     uniqueID,
		Beneficiary:  owner,
		TotalCostWei: totalCost.String(),
	}

	log.L(ctx).Infof("Paying %s ether for %d units to %s", FormatEther(totalCost), requestedAmount, owner.Hex())
	tx, err := s.transfer.SendValue(ctx, owner, totalCost)
	if err != nil {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, "payment failed",
			asWorkflowError(err, ErrCodeTransactionRejected, "payment transaction rejected")))
	}

	// The payment is out of our hands now, so run to completion or failure
	// regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	pc.Ctx = ctx

	log.L(ctx).Infof("Payment submitted (tx=%s), waiting for confirmation", tx.Hash())
	payment, err := s.await(ctx, tx)
	if err != nil {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, "payment not confirmed",
			asWorkflowError(err, ErrCodeTransactionUnconfirmed, "payment transaction not confirmed")).
			WithDetail("paymentTx", tx.Hash()))
	}
	result.Payment = payment

	paid := PaymentResultContext{PurchaseContext: pc, Payment: payment, Duration: time.Since(start)}
	for _, hook := range s.afterPaymentHooks {
		hook(paid)
	}

	return s.complete(pc, start, result, false)
}

// ResumeCompletion runs only the completion and refresh steps for a request whose
// payment is already confirmed.
//
// The receipt is only used for its hash. The transfer is read back from the
// network and must have succeeded, come from the connected account, and paid
// the current owner at least the request's total cost. Anything else wraps
// ErrInvalidRequest and no completion is sent.
func (s *Sequencer) ResumeCompletion(ctx context.Context, uniqueID PurchaseID, payment *TransactionReceipt) (*CompletionResult, error) {
	start := time.Now()
	if uniqueID.IsZero() {
		return nil, NewWorkflowError(ErrCodeInvalidRequest, "unique id is required", nil)
	}
	if !payment.Succeeded() || payment.TxHash == "" {
		return nil, NewWorkflowError(ErrCodeInvalidRequest, "a confirmed payment is required to resume completion", nil)
	}
	ctx = context.WithoutCancel(log.WithLogField(ctx, "purchase", uniqueID.Hex()))

	pc := PurchaseContext{
		Ctx:       ctx,
		UniqueID:  uniqueID,
		Payer:     s.transfer.Address(),
		Timestamp: start,
	}

	req, werr := s.findRequest(ctx, pc.Payer, uniqueID)
	if werr != nil {
		return nil, s.fail(pc, start, werr)
	}
	if !req.Approved || req.Rejected {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeInvalidRequest,
			fmt.Sprintf("request %s is %s and cannot be completed", uniqueID, req.Status()), nil))
	}
	pc.RequestedAmount = req.RequestedAmount
	pc.TotalCost = TotalCost(s.pricePerUnit, req.RequestedAmount)

	owner, err := s.ledger.GetOwner(ctx)
	if err != nil {
		return nil, s.fail(pc, start, NewWorkflowError(ErrCodeSequenceAborted, "failed to resolve beneficiary",
			asWorkflowError(err, ErrCodeLedgerReadFailure, "failed to read contract owner")))
	}
	pc.Beneficiary = owner

	verified, werr := s.verifyPayment(ctx, pc, payment.TxHash)
	if werr != nil {
		return nil, s.fail(pc, start, werr)
	}

	log.L(ctx).Infof("Resuming completion after confirmed payment %s", verified.TxHash)
	result := &CompletionResult{
		UniqueID:     uniqueID,
		Beneficiary:  owner,
		TotalCostWei: pc.TotalCost.String(),
		Payment:      verified,
	}
	return s.complete(pc, start, result, req.Completed)
}

// verifyPayment reads the transfer back from the network and checks it pays for pc
func (s *Sequencer) verifyPayment(ctx context.Context, pc PurchaseContext, txHash string) (*TransactionReceipt, *WorkflowError) {
	invalid := func(format string, args ...interface{}) *WorkflowError {
		return NewWorkflowError(ErrCodeInvalidRequest, fmt.Sprintf(format, args...), nil).WithDetail("paymentTx", txHash)
	}

	transfer, err := s.transfer.LookupTransfer(ctx, txHash)
	if err != nil {
		return nil, asWorkflowError(err, ErrCodeInvalidRequest, fmt.Sprintf("payment %s not found", txHash)).
			WithDetail("paymentTx", txHash)
	}
	switch {
	case !transfer.Receipt.Succeeded():
		return nil, invalid("payment %s did not succeed", txHash)
	case transfer.From != pc.Payer:
		return nil, invalid("payment %s was sent by %s, not %s", txHash, transfer.From.Hex(), pc.Payer.Hex())
	case transfer.To != pc.Beneficiary:
		return nil, invalid("payment %s was sent to %s, not the owner %s", txHash, transfer.To.Hex(), pc.Beneficiary.Hex())
	case transfer.Value == nil || transfer.Value.Cmp(pc.TotalCost) < 0:
		return nil, invalid("payment %s is below the total cost %s ether", txHash, FormatEther(pc.TotalCost))
	}
	return transfer.Receipt, nil
}

func (s *Sequencer) complete(pc PurchaseContext, start time.Time, result *CompletionResult, completed bool) (*CompletionResult, error) {
	ctx := pc.Ctx

	var err error
	if completed {
		log.L(ctx).Infof("Request already completed on the ledger, not submitting")
		result.AlreadyCompleted = true
	} else {
		err = s.completionRetry.Do(ctx, func(attempt int) (bool, error) {
			if attempt > 1 && s.alreadyCompleted(ctx, pc.Payer, pc.UniqueID) {
				log.L(ctx).Infof("Request already completed on the ledger, not resubmitting")
				result.AlreadyCompleted = true
				return false, nil
			}
			tx, err := s.ledger.SubmitCompletion(ctx, pc.UniqueID)
			if err != nil {
				return true, asWorkflowError(err, ErrCodeTransactionRejected, "completion transaction rejected")
			}
			log.L(ctx).Infof("Completion submitted (tx=%s), waiting for confirmation", tx.Hash())
			receipt, err := s.await(ctx, tx)
			if errors.Is(err, ErrTransactionRejected) {
				// a revert is deterministic; it only means success if an earlier
				// attempt got there first
				if s.alreadyCompleted(ctx, pc.Payer, pc.UniqueID) {
					result.AlreadyCompleted = true
					return false, nil
				}
				return false, err
			}
			if err != nil {
				return true, asWorkflowError(err, ErrCodeTransactionUnconfirmed, "completion transaction not confirmed")
			}
			result.Completion = receipt
			return false, nil
		})
	}
	if err != nil {
		pending := NewWorkflowError(ErrCodeCompletionPending,
			fmt.Sprintf("payment %s confirmed but completion failed", result.Payment.TxHash),
			err).WithDetail("paymentTx", result.Payment.TxHash)
		return result, s.fail(pc, start, pending)
	}

	requests, err := s.tracker.ListRequestsByBuyer(ctx, pc.Payer)
	if err != nil {
		log.L(ctx).Warnf("Purchase completed but refreshing requests failed: %s", err)
	} else {
		result.Requests = requests
	}

	log.L(ctx).Infof("Purchase completed")
	done := CompletionResultContext{PurchaseContext: pc, Result: result, Duration: time.Since(start)}
	for _, hook := range s.afterCompletionHooks {
		hook(done)
	}
	return result, nil
}

// findRequest re-reads the payer's request for uniqueID from the ledger
func (s *Sequencer) findRequest(ctx context.Context, payer common.Address, uniqueID PurchaseID) (PurchaseRequest, *WorkflowError) {
	requests, err := s.ledger.GetRequestsByBuyer(ctx, payer)
	if err != nil {
		return PurchaseRequest{}, NewWorkflowError(ErrCodeSequenceAborted, "failed to read the request",
			asWorkflowError(err, ErrCodeLedgerReadFailure, fmt.Sprintf("failed to read requests of %s", payer.Hex())))
	}
	for _, r := range requests {
		if r.UniqueID == uniqueID {
			if err := r.Validate(); err != nil {
				return PurchaseRequest{}, NewWorkflowError(ErrCodeSequenceAborted, "failed to read the request",
					NewWorkflowError(ErrCodeLedgerReadFailure, "invalid request record", err))
			}
			return r, nil
		}
	}
	return PurchaseRequest{}, NewWorkflowError(ErrCodeInvalidRequest,
		fmt.Sprintf("no request %s for buyer %s", uniqueID, payer.Hex()), nil)
}

// alreadyCompleted re-reads the ledger so a retried completion whose earlier
// attempt was mined late is not resubmitted
func (s *Sequencer) alreadyCompleted(ctx context.Context, payer common.Address, uniqueID PurchaseID) bool {
	req, err := s.findRequest(ctx, payer, uniqueID)
	if err != nil {
		log.L(ctx).Warnf("Could not check completion state: %s", err)
		return false
	}
	return req.Completed
}

func (s *Sequencer) await(ctx context.Context, tx TxHandle) (*TransactionReceipt, error) {
	if s.confirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.confirmationTimeout)
		defer cancel()
	}
	receipt, err := tx.AwaitConfirmation(ctx)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		return nil, NewWorkflowError(ErrCodeTransactionRejected, fmt.Sprintf("transaction %s reverted", tx.Hash()), nil)
	}
	return receipt, nil
}

func (s *Sequencer) fail(pc PurchaseContext, start time.Time, err *WorkflowError) error {
	log.L(pc.Ctx).Errorf("Purchase failed: %s", err)
	failed := PurchaseFailureContext{PurchaseContext: pc, Error: err, Duration: time.Since(start)}
	for _, hook := range s.onFailureHooks {
		hook(failed)
	}
	return err
}
