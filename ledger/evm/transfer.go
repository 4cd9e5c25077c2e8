package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	medchain "github.com/firasabs/medSmartContract"
)

// ValueTransfer implements medchain.ValueTransferClient over the connected account
type ValueTransfer struct {
	signer ContractSigner
}

// NewValueTransfer creates a value transfer client
func NewValueTransfer(signer ContractSigner) *ValueTransfer {
	return &ValueTransfer{signer: signer}
}

func (v *ValueTransfer) Address() common.Address {
	return v.signer.Address()
}

func (v *ValueTransfer) SendValue(ctx context.Context, to common.Address, amount *big.Int) (medchain.TxHandle, error) {
	hash, err := v.signer.SendValue(ctx, to, amount)
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeTransactionRejected, "value transfer rejected", err)
	}
	return &txHandle{signer: v.signer, hash: hash}, nil
}

// LookupTransfer reads the transfer with the given hash back from the network
func (v *ValueTransfer) LookupTransfer(ctx context.Context, txHash string) (*medchain.Transfer, error) {
	b, err := hexutil.Decode(txHash)
	if err != nil || len(b) != common.HashLength {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, fmt.Sprintf("invalid transaction hash %q", txHash), err)
	}
	transfer, err := v.signer.TransferByHash(ctx, common.BytesToHash(b))
	if errors.Is(err, ethereum.NotFound) {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, fmt.Sprintf("transaction %s not found", txHash), err)
	}
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure, fmt.Sprintf("failed to read transaction %s", txHash), err)
	}
	return transfer, nil
}
