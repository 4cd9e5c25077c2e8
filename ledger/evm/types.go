package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	medchain "github.com/firasabs/medSmartContract"
)

// ContractSigner is the connection context used by the binding.
// *signers/evm.Signer implements it.
type ContractSigner interface {
	// Address returns the connected account
	Address() common.Address

	// ReadContract calls a view function and returns its unpacked outputs
	ReadContract(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error)

	// WriteContract sends a state-changing call and returns the transaction hash
	WriteContract(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...interface{}) (common.Hash, error)

	// SendValue transfers native value and returns the transaction hash
	SendValue(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)

	// WaitForTransactionReceipt blocks until the transaction is mined
	WaitForTransactionReceipt(ctx context.Context, txHash common.Hash) (*medchain.TransactionReceipt, error)

	// TransferByHash reads a mined transaction back from the network
	TransferByHash(ctx context.Context, txHash common.Hash) (*medchain.Transfer, error)
}

// rawPurchaseRequest mirrors the request tuple returned by the contract.
// Field order and names follow the ABI components.
type rawPurchaseRequest struct {
	MedicineId      string
	Buyer           common.Address
	RequestedAmount *big.Int
	UniqueId        [32]byte
	Approved        bool
	Rejected        bool
	Completed       bool
}

// toPurchaseRequest converts and validates a raw record
func (r rawPurchaseRequest) toPurchaseRequest() (medchain.PurchaseRequest, error) {
	amount, err := toUint64("requestedAmount", r.RequestedAmount)
	if err != nil {
		return medchain.PurchaseRequest{}, err
	}
	req := medchain.PurchaseRequest{
		MedicineID:      r.MedicineId,
		Buyer:           r.Buyer,
		RequestedAmount: amount,
		UniqueID:        medchain.PurchaseID(r.UniqueId),
		Approved:        r.Approved,
		Rejected:        r.Rejected,
		Completed:       r.Completed,
	}
	if err := req.Validate(); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	return req, nil
}

func toUint64(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s is missing", field)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s %s does not fit in uint64", field, v)
	}
	return v.Uint64(), nil
}
