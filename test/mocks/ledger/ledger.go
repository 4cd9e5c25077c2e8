package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	medchain "github.com/firasabs/medSmartContract"
)

// ============================================================================
// In-memory ledger
// ============================================================================

// Payment is a value transfer seen by the fake ledger
type Payment struct {
	To     common.Address
	Amount *big.Int
	Hash   string
}

// Ledger is an in-memory stand-in for the contract and the paying account.
// Every call is appended to Calls so tests can assert ordering. Failures are
// injected through the exported error fields.
type Ledger struct {
	mu sync.Mutex

	Owner     common.Address
	Payer     common.Address
	Requests  []medchain.PurchaseRequest
	Medicines map[string]medchain.Medicine
	Admins    map[common.Address]bool

	Calls    []string
	Payments []Payment
	// Transfers holds every mined value transfer by hash, reverted ones included
	Transfers map[string]medchain.Transfer

	CountErr          error
	IndexErrs         map[uint64]error
	BuyerErr          error
	OwnerErr          error
	SendErr           error
	PaymentConfirmErr error
	PaymentReverted   bool
	// CompletionSubmitErrs and CompletionConfirmErrs are consumed one per attempt
	CompletionSubmitErrs  []error
	CompletionConfirmErrs []error
	// CompletionMinedLate applies a completion even when its confirmation wait fails
	CompletionMinedLate bool
	// CompletionReverted mines every completion as reverted
	CompletionReverted bool
	ModerationErr      error

	nextTx int
}

// New creates an empty ledger owned by owner, paying from payer
func New(owner, payer common.Address) *Ledger {
	return &Ledger{
		Owner:     owner,
		Payer:     payer,
		IndexErrs: make(map[uint64]error),
		Medicines: make(map[string]medchain.Medicine),
		Admins:    make(map[common.Address]bool),
		Transfers: make(map[string]medchain.Transfer),
	}
}

// AddRequest appends a request and returns its ledger index
func (l *Ledger) AddRequest(r medchain.PurchaseRequest) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Requests = append(l.Requests, r)
	return uint64(len(l.Requests) - 1)
}

// Request returns a copy of the request at index
func (l *Ledger) Request(index uint64) medchain.PurchaseRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Requests[index]
}

// CallLog returns a copy of the recorded calls
func (l *Ledger) CallLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.Calls...)
}

// CountCalls returns how many times name was called
func (l *Ledger) CountCalls(name string) int {
	n := 0
	for _, c := range l.CallLog() {
		if c == name {
			n++
		}
	}
	return n
}

func (l *Ledger) record(call string) {
	l.Calls = append(l.Calls, call)
}

func (l *Ledger) newTx(confirm func(ctx context.Context) (*medchain.TransactionReceipt, error)) *Tx {
	l.nextTx++
	return &Tx{
		hash:    fmt.Sprintf("0x%064x", l.nextTx),
		block:   uint64(100 + l.nextTx),
		confirm: confirm,
	}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// ============================================================================
// medchain.LedgerClient
// ============================================================================

func (l *Ledger) GetRequestCount(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getRequestCount")
	if l.CountErr != nil {
		return 0, l.CountErr
	}
	return uint64(len(l.Requests)), nil
}

func (l *Ledger) GetRequestByIndex(ctx context.Context, index uint64) (medchain.PurchaseRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(fmt.Sprintf("getRequestByIndex(%d)", index))
	if err := l.IndexErrs[index]; err != nil {
		return medchain.PurchaseRequest{}, err
	}
	if index >= uint64(len(l.Requests)) {
		return medchain.PurchaseRequest{}, fmt.Errorf("index %d out of range", index)
	}
	return l.Requests[index], nil
}

func (l *Ledger) GetRequestsByBuyer(ctx context.Context, buyer common.Address) ([]medchain.PurchaseRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getRequestsByBuyer")
	if l.BuyerErr != nil {
		return nil, l.BuyerErr
	}
	var out []medchain.PurchaseRequest
	for _, r := range l.Requests {
		if r.Buyer == buyer {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) GetOwner(ctx context.Context) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getOwner")
	if l.OwnerErr != nil {
		return common.Address{}, l.OwnerErr
	}
	return l.Owner, nil
}

func (l *Ledger) SubmitCompletion(ctx context.Context, uniqueID medchain.PurchaseID) (medchain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("submitCompletion")
	if err := popErr(&l.CompletionSubmitErrs); err != nil {
		return nil, err
	}
	return l.newTx(func(ctx context.Context) (*medchain.TransactionReceipt, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.record("awaitCompletion")
		if err := popErr(&l.CompletionConfirmErrs); err != nil {
			if l.CompletionMinedLate {
				l.markCompleted(uniqueID)
			}
			return nil, err
		}
		if l.CompletionReverted {
			return &medchain.TransactionReceipt{Status: medchain.TxStatusFailed}, nil
		}
		for i := range l.Requests {
			if l.Requests[i].UniqueID == uniqueID {
				if !l.Requests[i].Approved || l.Requests[i].Completed {
					return &medchain.TransactionReceipt{Status: medchain.TxStatusFailed}, nil
				}
				l.Requests[i].Completed = true
				return &medchain.TransactionReceipt{Status: medchain.TxStatusSuccess}, nil
			}
		}
		return &medchain.TransactionReceipt{Status: medchain.TxStatusFailed}, nil
	}), nil
}

func (l *Ledger) markCompleted(uniqueID medchain.PurchaseID) {
	for i := range l.Requests {
		if l.Requests[i].UniqueID == uniqueID && l.Requests[i].Approved {
			l.Requests[i].Completed = true
		}
	}
}

// ============================================================================
// medchain.ValueTransferClient
// ============================================================================

func (l *Ledger) Address() common.Address {
	return l.Payer
}

func (l *Ledger) SendValue(ctx context.Context, to common.Address, amount *big.Int) (medchain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("sendValue")
	if l.SendErr != nil {
		return nil, l.SendErr
	}
	amount = new(big.Int).Set(amount)
	tx := l.newTx(nil)
	tx.confirm = func(ctx context.Context) (*medchain.TransactionReceipt, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.record("awaitPayment")
		if l.PaymentConfirmErr != nil {
			return nil, l.PaymentConfirmErr
		}
		status := medchain.TxStatusSuccess
		if l.PaymentReverted {
			status = medchain.TxStatusFailed
		} else {
			l.Payments = append(l.Payments, Payment{To: to, Amount: amount, Hash: tx.hash})
		}
		l.Transfers[tx.hash] = medchain.Transfer{
			From:    l.Payer,
			To:      to,
			Value:   amount,
			Receipt: &medchain.TransactionReceipt{Status: status, BlockNumber: tx.block, TxHash: tx.hash},
		}
		return &medchain.TransactionReceipt{Status: status}, nil
	}
	return tx, nil
}

// AddTransfer records a mined transfer that did not go through SendValue and
// returns its hash
func (l *Ledger) AddTransfer(from, to common.Address, amount *big.Int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.newTx(nil)
	l.Transfers[tx.hash] = medchain.Transfer{
		From:    from,
		To:      to,
		Value:   new(big.Int).Set(amount),
		Receipt: &medchain.TransactionReceipt{Status: medchain.TxStatusSuccess, BlockNumber: tx.block, TxHash: tx.hash},
	}
	return tx.hash
}

func (l *Ledger) LookupTransfer(ctx context.Context, txHash string) (*medchain.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("lookupTransfer")
	t, ok := l.Transfers[txHash]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txHash)
	}
	receipt := *t.Receipt
	t.Value = new(big.Int).Set(t.Value)
	t.Receipt = &receipt
	return &t, nil
}

// ============================================================================
// medchain.RequestModerator / medchain.BuyRequestSubmitter
// ============================================================================

func (l *Ledger) ApproveRequest(ctx context.Context, index uint64) (medchain.TxHandle, error) {
	return l.moderate("approveRequest", index, func(r *medchain.PurchaseRequest) { r.Approved = true })
}

func (l *Ledger) RejectRequest(ctx context.Context, index uint64) (medchain.TxHandle, error) {
	return l.moderate("rejectRequest", index, func(r *medchain.PurchaseRequest) { r.Rejected = true })
}

func (l *Ledger) moderate(call string, index uint64, apply func(*medchain.PurchaseRequest)) (medchain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(fmt.Sprintf("%s(%d)", call, index))
	if l.ModerationErr != nil {
		return nil, l.ModerationErr
	}
	return l.newTx(func(ctx context.Context) (*medchain.TransactionReceipt, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if index >= uint64(len(l.Requests)) || !l.Requests[index].IsPending() {
			return &medchain.TransactionReceipt{Status: medchain.TxStatusFailed}, nil
		}
		apply(&l.Requests[index])
		return &medchain.TransactionReceipt{Status: medchain.TxStatusSuccess}, nil
	}), nil
}

func (l *Ledger) RequestBuyMedicine(ctx context.Context, medicineID string, amount uint64, uniqueID medchain.PurchaseID) (medchain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("requestBuyMedicine")
	return l.newTx(func(ctx context.Context) (*medchain.TransactionReceipt, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.Requests = append(l.Requests, medchain.PurchaseRequest{
			MedicineID:      medicineID,
			Buyer:           l.Payer,
			RequestedAmount: amount,
			UniqueID:        uniqueID,
		})
		return &medchain.TransactionReceipt{Status: medchain.TxStatusSuccess}, nil
	}), nil
}

// ============================================================================
// medchain.Inventory
// ============================================================================

// AddMedicineNow stores a medicine without a transaction
func (l *Ledger) AddMedicineNow(m medchain.Medicine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Medicines[m.ID] = m
}

func (l *Ledger) GetMedicine(ctx context.Context, id string) (medchain.Medicine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getMedicine")
	m, ok := l.Medicines[id]
	if !ok {
		return medchain.Medicine{}, fmt.Errorf("execution reverted: medicine %s not found", id)
	}
	return m, nil
}

func (l *Ledger) GetAllMedicineIDs(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("getAllMedicineIds")
	ids := make([]string, 0, len(l.Medicines))
	for id := range l.Medicines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *Ledger) AddMedicine(ctx context.Context, m medchain.Medicine) (medchain.TxHandle, error) {
	return l.inventoryWrite("addMedicine", func() bool {
		if _, exists := l.Medicines[m.ID]; exists {
			return false
		}
		l.Medicines[m.ID] = m
		return true
	})
}

func (l *Ledger) RemoveMedicine(ctx context.Context, id string) (medchain.TxHandle, error) {
	return l.inventoryWrite("removeMedicine", func() bool {
		if _, exists := l.Medicines[id]; !exists {
			return false
		}
		delete(l.Medicines, id)
		return true
	})
}

func (l *Ledger) SubtractMedicineAmount(ctx context.Context, id string, amount uint64) (medchain.TxHandle, error) {
	return l.inventoryWrite("subtractMedicineAmount", func() bool {
		m, exists := l.Medicines[id]
		if !exists || m.Amount < amount {
			return false
		}
		m.Amount -= amount
		l.Medicines[id] = m
		return true
	})
}

// ============================================================================
// medchain.AdminRegistry
// ============================================================================

func (l *Ledger) IsAdmin(ctx context.Context, account common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("isAdmin")
	return l.Admins[account], nil
}

func (l *Ledger) AddAdmin(ctx context.Context, account common.Address) (medchain.TxHandle, error) {
	return l.inventoryWrite("addAdmin", func() bool {
		l.Admins[account] = true
		return true
	})
}

func (l *Ledger) RemoveAdmin(ctx context.Context, account common.Address) (medchain.TxHandle, error) {
	return l.inventoryWrite("removeAdmin", func() bool {
		delete(l.Admins, account)
		return true
	})
}

// inventoryWrite applies change on confirmation; a false return reverts
func (l *Ledger) inventoryWrite(call string, change func() bool) (medchain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(call)
	return l.newTx(func(ctx context.Context) (*medchain.TransactionReceipt, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !change() {
			return &medchain.TransactionReceipt{Status: medchain.TxStatusFailed}, nil
		}
		return &medchain.TransactionReceipt{Status: medchain.TxStatusSuccess}, nil
	}), nil
}

// ============================================================================
// Transaction handle
// ============================================================================

// Tx implements medchain.TxHandle
type Tx struct {
	hash    string
	block   uint64
	confirm func(ctx context.Context) (*medchain.TransactionReceipt, error)
}

func (t *Tx) Hash() string {
	return t.hash
}

func (t *Tx) AwaitConfirmation(ctx context.Context) (*medchain.TransactionReceipt, error) {
	receipt, err := t.confirm(ctx)
	if err != nil {
		return nil, err
	}
	receipt.TxHash = t.hash
	receipt.BlockNumber = t.block
	return receipt, nil
}

// ============================================================================
// Renderer
// ============================================================================

// Renderer records every listing handed to it
type Renderer struct {
	mu         sync.Mutex
	Actionable [][]medchain.IndexedRequest
	ByBuyer    [][]medchain.PurchaseRequest
}

func (r *Renderer) RenderActionable(ctx context.Context, requests []medchain.IndexedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Actionable = append(r.Actionable, requests)
}

func (r *Renderer) RenderBuyerRequests(ctx context.Context, buyer common.Address, requests []medchain.PurchaseRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ByBuyer = append(r.ByBuyer, requests)
}
