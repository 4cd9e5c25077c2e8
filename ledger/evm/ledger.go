package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/log"
)

// Ledger is the binding to the inventory contract. Every record read from the
// contract is converted and validated here, so callers only ever see typed
// values.
type Ledger struct {
	signer   ContractSigner
	contract common.Address
	abi      *abi.ABI
}

// NewLedger creates a binding for the contract at address
func NewLedger(signer ContractSigner, address common.Address) (*Ledger, error) {
	parsed, err := abi.JSON(bytes.NewReader(MedicineContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	return &Ledger{
		signer:   signer,
		contract: address,
		abi:      &parsed,
	}, nil
}

// Address returns the contract address
func (l *Ledger) Address() common.Address {
	return l.contract
}

func (l *Ledger) read(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	out, err := l.signer.ReadContract(ctx, l.contract, l.abi, method, args...)
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure, fmt.Sprintf("%s failed", method), err)
	}
	expected := len(l.abi.Methods[method].Outputs)
	if len(out) != expected {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure,
			fmt.Sprintf("%s returned %d values, expected %d", method, len(out), expected), nil)
	}
	return out, nil
}

func (l *Ledger) write(ctx context.Context, method string, args ...interface{}) (medchain.TxHandle, error) {
	hash, err := l.signer.WriteContract(ctx, l.contract, l.abi, method, args...)
	if err != nil {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeTransactionRejected, fmt.Sprintf("%s rejected", method), err)
	}
	log.L(ctx).Debugf("Submitted %s (tx=%s)", method, hash.Hex())
	return &txHandle{signer: l.signer, hash: hash}, nil
}

// convert decodes one output value, turning a type mismatch into an error
// instead of a panic
func convert[T any](method string, value interface{}) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure,
				fmt.Sprintf("%s returned unexpected %T", method, value), fmt.Errorf("%v", r))
		}
	}()
	return *abi.ConvertType(value, new(T)).(*T), nil
}

func readFailure(method string, err error) error {
	return medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure, fmt.Sprintf("%s returned an invalid record", method), err)
}

// ============================================================================
// medchain.LedgerClient
// ============================================================================

func (l *Ledger) GetRequestCount(ctx context.Context) (uint64, error) {
	out, err := l.read(ctx, FunctionGetBuyRequestCount)
	if err != nil {
		return 0, err
	}
	count, err := convert[*big.Int](FunctionGetBuyRequestCount, out[0])
	if err != nil {
		return 0, err
	}
	n, err := toUint64("count", count)
	if err != nil {
		return 0, readFailure(FunctionGetBuyRequestCount, err)
	}
	return n, nil
}

func (l *Ledger) GetRequestByIndex(ctx context.Context, index uint64) (medchain.PurchaseRequest, error) {
	out, err := l.read(ctx, FunctionGetBuyRequest, new(big.Int).SetUint64(index))
	if err != nil {
		return medchain.PurchaseRequest{}, err
	}

	var raw rawPurchaseRequest
	if raw.MedicineId, err = convert[string](FunctionGetBuyRequest, out[0]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.Buyer, err = convert[common.Address](FunctionGetBuyRequest, out[1]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.RequestedAmount, err = convert[*big.Int](FunctionGetBuyRequest, out[2]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.UniqueId, err = convert[[32]byte](FunctionGetBuyRequest, out[3]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.Approved, err = convert[bool](FunctionGetBuyRequest, out[4]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.Rejected, err = convert[bool](FunctionGetBuyRequest, out[5]); err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if raw.Completed, err = convert[bool](FunctionGetBuyRequest, out[6]); err != nil {
		return medchain.PurchaseRequest{}, err
	}

	req, err := raw.toPurchaseRequest()
	if err != nil {
		return medchain.PurchaseRequest{}, readFailure(FunctionGetBuyRequest, err)
	}
	return req, nil
}

func (l *Ledger) GetRequestsByBuyer(ctx context.Context, buyer common.Address) ([]medchain.PurchaseRequest, error) {
	out, err := l.read(ctx, FunctionGetAllRequestsByBuyer, buyer)
	if err != nil {
		return nil, err
	}
	raws, err := convert[[]rawPurchaseRequest](FunctionGetAllRequestsByBuyer, out[0])
	if err != nil {
		return nil, err
	}

	requests := make([]medchain.PurchaseRequest, 0, len(raws))
	for i, raw := range raws {
		req, err := raw.toPurchaseRequest()
		if err != nil {
			log.L(ctx).Warnf("Dropping request %d of buyer %s: %s", i, buyer.Hex(), err)
			continue
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (l *Ledger) GetOwner(ctx context.Context) (common.Address, error) {
	out, err := l.read(ctx, FunctionOwner)
	if err != nil {
		return common.Address{}, err
	}
	owner, err := convert[common.Address](FunctionOwner, out[0])
	if err != nil {
		return common.Address{}, err
	}
	if owner == (common.Address{}) {
		return common.Address{}, readFailure(FunctionOwner, fmt.Errorf("contract has no owner"))
	}
	return owner, nil
}

func (l *Ledger) SubmitCompletion(ctx context.Context, uniqueID medchain.PurchaseID) (medchain.TxHandle, error) {
	if uniqueID.IsZero() {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, "unique id is required", nil)
	}
	return l.write(ctx, FunctionCompleteBuyRequest, [32]byte(uniqueID))
}

// ============================================================================
// medchain.RequestModerator / medchain.BuyRequestSubmitter
// ============================================================================

func (l *Ledger) ApproveRequest(ctx context.Context, index uint64) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionApproveBuyRequest, new(big.Int).SetUint64(index))
}

func (l *Ledger) RejectRequest(ctx context.Context, index uint64) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionRejectBuyRequest, new(big.Int).SetUint64(index))
}

func (l *Ledger) RequestBuyMedicine(ctx context.Context, medicineID string, amount uint64, uniqueID medchain.PurchaseID) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionRequestBuyMedicine, medicineID, new(big.Int).SetUint64(amount), [32]byte(uniqueID))
}

// ============================================================================
// medchain.Inventory
// ============================================================================

func (l *Ledger) GetMedicine(ctx context.Context, id string) (medchain.Medicine, error) {
	out, err := l.read(ctx, FunctionGetMedicine, id)
	if err != nil {
		return medchain.Medicine{}, err
	}

	m := medchain.Medicine{ID: id}
	if m.Name, err = convert[string](FunctionGetMedicine, out[0]); err != nil {
		return medchain.Medicine{}, err
	}
	amount, err := convert[*big.Int](FunctionGetMedicine, out[1])
	if err != nil {
		return medchain.Medicine{}, err
	}
	if m.Amount, err = toUint64("medicineAmount", amount); err != nil {
		return medchain.Medicine{}, readFailure(FunctionGetMedicine, err)
	}
	if m.ExpiryDate, err = convert[string](FunctionGetMedicine, out[2]); err != nil {
		return medchain.Medicine{}, err
	}
	if m.IPFSHash, err = convert[string](FunctionGetMedicine, out[3]); err != nil {
		return medchain.Medicine{}, err
	}
	return m, nil
}

func (l *Ledger) GetAllMedicineIDs(ctx context.Context) ([]string, error) {
	out, err := l.read(ctx, FunctionGetAllMedicineIDs)
	if err != nil {
		return nil, err
	}
	return convert[[]string](FunctionGetAllMedicineIDs, out[0])
}

func (l *Ledger) AddMedicine(ctx context.Context, m medchain.Medicine) (medchain.TxHandle, error) {
	if m.ID == "" || m.Name == "" {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, "medicine id and name are required", nil)
	}
	return l.write(ctx, FunctionAddMedicine, m.ID, m.Name, new(big.Int).SetUint64(m.Amount), m.ExpiryDate, m.IPFSHash)
}

func (l *Ledger) RemoveMedicine(ctx context.Context, id string) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionRemoveMedicine, id)
}

func (l *Ledger) SubtractMedicineAmount(ctx context.Context, id string, amount uint64) (medchain.TxHandle, error) {
	if amount == 0 {
		return nil, medchain.NewWorkflowError(medchain.ErrCodeInvalidRequest, "amount must be positive", nil)
	}
	return l.write(ctx, FunctionSubtractMedicineAmount, id, new(big.Int).SetUint64(amount))
}

// ============================================================================
// medchain.AdminRegistry
// ============================================================================

func (l *Ledger) IsAdmin(ctx context.Context, account common.Address) (bool, error) {
	out, err := l.read(ctx, FunctionAdmins, account)
	if err != nil {
		return false, err
	}
	return convert[bool](FunctionAdmins, out[0])
}

func (l *Ledger) AddAdmin(ctx context.Context, account common.Address) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionAddAdmin, account)
}

func (l *Ledger) RemoveAdmin(ctx context.Context, account common.Address) (medchain.TxHandle, error) {
	return l.write(ctx, FunctionRemoveAdmin, account)
}
