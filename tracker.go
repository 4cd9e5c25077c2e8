package medchain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/firasabs/medSmartContract/log"
)

// Tracker reconciles the request view against the ledger. It keeps no copy of
// any record between calls: every listing re-reads the ledger.
type Tracker struct {
	ledger   LedgerClient
	renderer Renderer
}

// NewTracker creates a tracker over the given ledger. renderer may be nil.
func NewTracker(ledger LedgerClient, renderer Renderer) *Tracker {
	return &Tracker{
		ledger:   ledger,
		renderer: renderer,
	}
}

// ListActionableRequests returns every pending request paired with its ledger index.
//
// A failure to read one index is logged and that index skipped. A failure to read
// the count aborts the listing with ErrLedgerCountFailure.
func (t *Tracker) ListActionableRequests(ctx context.Context) ([]IndexedRequest, error) {
	count, err := t.ledger.GetRequestCount(ctx)
	if err != nil {
		return []IndexedRequest{}, NewWorkflowError(ErrCodeLedgerCountFailure, "failed to read request count", err)
	}

	actionable := []IndexedRequest{}
	for i := uint64(0); i < count; i++ {
		req, err := t.ledger.GetRequestByIndex(ctx, i)
		if err == nil {
			err = req.Validate()
		}
		if err != nil {
			log.L(ctx).Warnf("Skipping request %d: %s", i, NewWorkflowError(ErrCodeLedgerReadFailure, fmt.Sprintf("failed to read request %d", i), err))
			continue
		}
		if !req.IsPending() {
			continue
		}
		actionable = append(actionable, IndexedRequest{Index: i, Request: req})
	}

	log.L(ctx).Debugf("Listed %d actionable requests out of %d", len(actionable), count)
	if t.renderer != nil {
		t.renderer.RenderActionable(ctx, actionable)
	}
	return actionable, nil
}

// ListRequestsByBuyer returns every request of one buyer in any state.
// Records that fail validation are logged and dropped.
func (t *Tracker) ListRequestsByBuyer(ctx context.Context, buyer common.Address) ([]PurchaseRequest, error) {
	all, err := t.ledger.GetRequestsByBuyer(ctx, buyer)
	if err != nil {
		return nil, NewWorkflowError(ErrCodeLedgerReadFailure, fmt.Sprintf("failed to read requests of %s", buyer.Hex()), err)
	}

	requests := make([]PurchaseRequest, 0, len(all))
	for i, req := range all {
		if err := req.Validate(); err != nil {
			log.L(ctx).Warnf("Skipping request %d of buyer %s: %s", i, buyer.Hex(), err)
			continue
		}
		requests = append(requests, req)
	}

	if t.renderer != nil {
		t.renderer.RenderBuyerRequests(ctx, buyer, requests)
	}
	return requests, nil
}

// Moderator approves and rejects requests, re-listing the actionable set after
// every confirmed action.
type Moderator struct {
	moderator RequestModerator
	tracker   *Tracker
}

// NewModerator creates a moderator
func NewModerator(moderator RequestModerator, tracker *Tracker) *Moderator {
	return &Moderator{
		moderator: moderator,
		tracker:   tracker,
	}
}

// Approve approves the request at a ledger position and returns the refreshed actionable list
func (m *Moderator) Approve(ctx context.Context, index uint64) ([]IndexedRequest, error) {
	return m.moderate(ctx, "approve", index, m.moderator.ApproveRequest)
}

// Reject rejects the request at a ledger position and returns the refreshed actionable list
func (m *Moderator) Reject(ctx context.Context, index uint64) ([]IndexedRequest, error) {
	return m.moderate(ctx, "reject", index, m.moderator.RejectRequest)
}

func (m *Moderator) moderate(ctx context.Context, action string, index uint64, submit func(context.Context, uint64) (TxHandle, error)) ([]IndexedRequest, error) {
	tx, err := submit(ctx, index)
	if err != nil {
		return nil, asWorkflowError(err, ErrCodeTransactionRejected, fmt.Sprintf("failed to %s request %d", action, index))
	}
	receipt, err := tx.AwaitConfirmation(ctx)
	if err != nil {
		return nil, asWorkflowError(err, ErrCodeTransactionUnconfirmed, fmt.Sprintf("%s of request %d not confirmed", action, index))
	}
	if !receipt.Succeeded() {
		return nil, NewWorkflowError(ErrCodeTransactionRejected, fmt.Sprintf("%s of request %d reverted", action, index), nil).
			WithDetail("tx", tx.Hash())
	}
	log.L(ctx).Infof("Request %d %s confirmed in block %d (tx=%s)", index, action, receipt.BlockNumber, receipt.TxHash)
	return m.tracker.ListActionableRequests(ctx)
}

// SubmitBuyRequest creates a new purchase request with a freshly generated
// identifier and waits for it to be confirmed.
func SubmitBuyRequest(ctx context.Context, submitter BuyRequestSubmitter, gen IdentityGenerator, medicineID string, amount uint64) (PurchaseID, error) {
	if medicineID == "" {
		return PurchaseID{}, NewWorkflowError(ErrCodeInvalidRequest, "medicine id is required", nil)
	}
	if amount == 0 {
		return PurchaseID{}, NewWorkflowError(ErrCodeInvalidRequest, "requested amount must be positive", nil)
	}

	uniqueID := gen.Generate(medicineID)
	ctx = log.WithLogField(ctx, "purchase", uniqueID.Hex())

	tx, err := submitter.RequestBuyMedicine(ctx, medicineID, amount, uniqueID)
	if err != nil {
		return PurchaseID{}, asWorkflowError(err, ErrCodeTransactionRejected, "failed to submit buy request")
	}
	log.L(ctx).Infof("Buy request submitted (tx=%s), waiting for confirmation", tx.Hash())
	receipt, err := tx.AwaitConfirmation(ctx)
	if err != nil {
		return PurchaseID{}, asWorkflowError(err, ErrCodeTransactionUnconfirmed, "buy request not confirmed")
	}
	if !receipt.Succeeded() {
		return PurchaseID{}, NewWorkflowError(ErrCodeTransactionRejected, "buy request reverted", nil).WithDetail("tx", tx.Hash())
	}
	return uniqueID, nil
}

// asWorkflowError keeps an existing WorkflowError or wraps err with the given code
func asWorkflowError(err error, code, message string) *WorkflowError {
	if we, ok := err.(*WorkflowError); ok {
		return we
	}
	return NewWorkflowError(code, message, err)
}
