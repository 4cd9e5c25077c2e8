package medchain

import (
	"context"
	"fmt"

	"github.com/firasabs/medSmartContract/log"
)

// CheckAvailability reads a medicine and reports whether any stock is left
func CheckAvailability(ctx context.Context, inv Inventory, medicineID string) (Availability, error) {
	if medicineID == "" {
		return Availability{}, NewWorkflowError(ErrCodeInvalidRequest, "medicine id is required", nil)
	}
	m, err := inv.GetMedicine(ctx, medicineID)
	if err != nil {
		return Availability{}, asWorkflowError(err, ErrCodeLedgerReadFailure, fmt.Sprintf("failed to read medicine %s", medicineID))
	}
	return AvailabilityOf(m), nil
}

// Confirm waits for a transaction returned by a submit call (tx, err) and
// turns a missing or reverted receipt into a WorkflowError. action names the
// operation in errors and logs.
func Confirm(ctx context.Context, action string, tx TxHandle, err error) (*TransactionReceipt, error) {
	if err != nil {
		return nil, asWorkflowError(err, ErrCodeTransactionRejected, fmt.Sprintf("%s rejected", action))
	}
	receipt, err := tx.AwaitConfirmation(ctx)
	if err != nil {
		return nil, asWorkflowError(err, ErrCodeTransactionUnconfirmed, fmt.Sprintf("%s not confirmed", action))
	}
	if !receipt.Succeeded() {
		return nil, NewWorkflowError(ErrCodeTransactionRejected, fmt.Sprintf("%s reverted", action), nil).
			WithDetail("tx", tx.Hash())
	}
	log.L(ctx).Infof("%s confirmed in block %d (tx=%s)", action, receipt.BlockNumber, receipt.TxHash)
	return receipt, nil
}
