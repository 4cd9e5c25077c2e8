package medchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxHandle is a submitted transaction that has not necessarily been mined
type TxHandle interface {
	// Hash returns the transaction hash (hex)
	Hash() string

	// AwaitConfirmation blocks until the transaction is mined.
	// A mined-but-reverted transaction is an error, never a success.
	AwaitConfirmation(ctx context.Context) (*TransactionReceipt, error)
}

// LedgerClient is the read and completion surface of the contract used by the
// purchase workflow
type LedgerClient interface {
	// GetRequestCount returns the total number of purchase requests
	GetRequestCount(ctx context.Context) (uint64, error)

	// GetRequestByIndex returns the request at a ledger position
	GetRequestByIndex(ctx context.Context, index uint64) (PurchaseRequest, error)

	// GetRequestsByBuyer returns every request of one buyer, in any state
	GetRequestsByBuyer(ctx context.Context, buyer common.Address) ([]PurchaseRequest, error)

	// GetOwner returns the current contract owner (the payment beneficiary)
	GetOwner(ctx context.Context) (common.Address, error)

	// SubmitCompletion marks the request with uniqueID as completed
	SubmitCompletion(ctx context.Context, uniqueID PurchaseID) (TxHandle, error)
}

// ValueTransferClient sends native value from the connected account
type ValueTransferClient interface {
	// Address returns the paying account
	Address() common.Address

	// SendValue transfers amount wei to the given address
	SendValue(ctx context.Context, to common.Address, amount *big.Int) (TxHandle, error)

	// LookupTransfer reads a mined transfer back from the network by hash
	LookupTransfer(ctx context.Context, txHash string) (*Transfer, error)
}

// RequestModerator approves or rejects requests by ledger position
type RequestModerator interface {
	ApproveRequest(ctx context.Context, index uint64) (TxHandle, error)
	RejectRequest(ctx context.Context, index uint64) (TxHandle, error)
}

// BuyRequestSubmitter creates new purchase requests
type BuyRequestSubmitter interface {
	RequestBuyMedicine(ctx context.Context, medicineID string, amount uint64, uniqueID PurchaseID) (TxHandle, error)
}

// Inventory is the medicine surface of the contract
type Inventory interface {
	GetMedicine(ctx context.Context, id string) (Medicine, error)
	GetAllMedicineIDs(ctx context.Context) ([]string, error)
	AddMedicine(ctx context.Context, medicine Medicine) (TxHandle, error)
	RemoveMedicine(ctx context.Context, id string) (TxHandle, error)
	SubtractMedicineAmount(ctx context.Context, id string, amount uint64) (TxHandle, error)
}

// AdminRegistry manages the accounts allowed to moderate the inventory
type AdminRegistry interface {
	IsAdmin(ctx context.Context, account common.Address) (bool, error)
	AddAdmin(ctx context.Context, account common.Address) (TxHandle, error)
	RemoveAdmin(ctx context.Context, account common.Address) (TxHandle, error)
}

// Renderer consumes listings after every reconciliation pass
type Renderer interface {
	RenderActionable(ctx context.Context, requests []IndexedRequest)
	RenderBuyerRequests(ctx context.Context, buyer common.Address, requests []PurchaseRequest)
}
