package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	medchain "github.com/firasabs/medSmartContract"
)

// txHandle is a submitted transaction awaiting its receipt
type txHandle struct {
	signer ContractSigner
	hash   common.Hash
}

func (t *txHandle) Hash() string {
	return t.hash.Hex()
}

// AwaitConfirmation maps the receipt onto workflow errors: a wait failure is
// ErrTransactionUnconfirmed and a reverted receipt is ErrTransactionRejected.
func (t *txHandle) AwaitConfirmation(ctx context.Context) (*medchain.TransactionReceipt, error) {
	receipt, err := t.signer.WaitForTransactionReceipt(ctx, t.hash)
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeTransactionUnconfirmed,
			fmt.Sprintf("transaction %s not confirmed", t.hash.Hex()), err).WithDetail("tx", t.hash.Hex())
	}
	if !receipt.Succeeded() {
		return receipt, medchain.NewWorkflowError(medchain.ErrCodeTransactionRejected,
			fmt.Sprintf("transaction %s reverted in block %d", t.hash.Hex(), receipt.BlockNumber), nil).WithDetail("tx", t.hash.Hex())
	}
	return receipt, nil
}
