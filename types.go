package medchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus is the display status of a purchase request
type RequestStatus string

const (
	StatusPending   RequestStatus = "Pending"
	StatusApproved  RequestStatus = "Approved"
	StatusRejected  RequestStatus = "Rejected"
	StatusCompleted RequestStatus = "Completed"
)

// PurchaseRequest is one buyer's request for a quantity of a medicine.
// The ledger owns the record; values of this type are read-only projections
// used for a single listing or render pass.
type PurchaseRequest struct {
	MedicineID      string         `json:"medicineId"`
	Buyer           common.Address `json:"buyer"`
	RequestedAmount uint64         `json:"requestedAmount"`
	UniqueID        PurchaseID     `json:"uniqueId"`
	Approved        bool           `json:"approved"`
	Rejected        bool           `json:"rejected"`
	Completed       bool           `json:"completed"`
}

// Status derives the display status. Rejection wins over everything else.
func (r PurchaseRequest) Status() RequestStatus {
	switch {
	case r.Rejected:
		return StatusRejected
	case r.Approved && r.Completed:
		return StatusCompleted
	case r.Approved:
		return StatusApproved
	default:
		return StatusPending
	}
}

// IsPending reports whether the request is neither approved nor rejected
func (r PurchaseRequest) IsPending() bool {
	return !r.Approved && !r.Rejected
}

// CanComplete reports whether the buyer may run the completion sequence
func (r PurchaseRequest) CanComplete() bool {
	return r.Approved && !r.Rejected && !r.Completed
}

// Validate checks the record invariants. Records read from the ledger are
// validated before they are handed to any caller.
func (r PurchaseRequest) Validate() error {
	if r.MedicineID == "" {
		return fmt.Errorf("medicine id is empty")
	}
	if r.RequestedAmount == 0 {
		return fmt.Errorf("requested amount must be positive")
	}
	if r.UniqueID.IsZero() {
		return fmt.Errorf("unique id is zero")
	}
	if r.Approved && r.Rejected {
		return fmt.Errorf("request %s is both approved and rejected", r.UniqueID)
	}
	if r.Completed && !r.Approved {
		return fmt.Errorf("request %s is completed but not approved", r.UniqueID)
	}
	return nil
}

// IndexedRequest pairs a request with its position in the ledger.
// Index is the ledger position, never the position in a filtered list.
type IndexedRequest struct {
	Index   uint64          `json:"index"`
	Request PurchaseRequest `json:"request"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// Receipt status values
const (
	TxStatusFailed  uint64 = 0
	TxStatusSuccess uint64 = 1
)

// Succeeded reports whether the transaction executed successfully
func (r *TransactionReceipt) Succeeded() bool {
	return r != nil && r.Status == TxStatusSuccess
}

// CompletionResult is the outcome of a completion sequence.
// Payment is set as soon as the value transfer is confirmed, so a failed
// completion still tells the caller which payment needs a matching completion.
type CompletionResult struct {
	UniqueID     PurchaseID          `json:"uniqueId"`
	Beneficiary  common.Address      `json:"beneficiary"`
	TotalCostWei string              `json:"totalCostWei"`
	Payment      *TransactionReceipt `json:"payment,omitempty"`
	Completion   *TransactionReceipt `json:"completion,omitempty"`
	// AlreadyCompleted is set when the ledger already showed the request as
	// completed, so no completion transaction of this call was confirmed
	AlreadyCompleted bool              `json:"alreadyCompleted,omitempty"`
	Requests         []PurchaseRequest `json:"requests,omitempty"`
}

// Transfer is a mined value transfer as read back from the network
type Transfer struct {
	From    common.Address
	To      common.Address
	Value   *big.Int
	Receipt *TransactionReceipt
}

// Medicine is an inventory item as stored on the ledger
type Medicine struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Amount     uint64 `json:"amount"`
	ExpiryDate string `json:"expiryDate"`
	IPFSHash   string `json:"ipfsHash,omitempty"`
}

// DocumentGateway is the public gateway used to link supporting documents
const DocumentGateway = "https://ipfs.io/ipfs/"

// DocumentURL returns the gateway link for the medicine's supporting document,
// or an empty string when none was pinned.
func (m Medicine) DocumentURL() string {
	if m.IPFSHash == "" {
		return ""
	}
	return DocumentGateway + m.IPFSHash
}

// Availability is the stock view of a medicine
type Availability struct {
	MedicineID string `json:"medicineId"`
	Available  bool   `json:"available"`
	Remaining  uint64 `json:"remaining"`
	Message    string `json:"message"`
}

// AvailabilityOf builds the stock view for a medicine
func AvailabilityOf(m Medicine) Availability {
	if m.Amount > 0 {
		return Availability{
			MedicineID: m.ID,
			Available:  true,
			Remaining:  m.Amount,
			Message:    fmt.Sprintf("Medicine is available, Amount left: %d", m.Amount),
		}
	}
	return Availability{
		MedicineID: m.ID,
		Message:    "Medicine is out of stock.",
	}
}
