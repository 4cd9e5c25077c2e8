package idempotency

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/retry"
	"github.com/firasabs/medSmartContract/test/mocks/ledger"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payerAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newLedgerWithApproved(t *testing.T) (*ledger.Ledger, medchain.PurchaseID) {
	t.Helper()
	l := ledger.New(ownerAddr, payerAddr)
	id := medchain.GeneratePurchaseID("med-1", big.NewInt(time.Now().UnixNano()))
	l.AddRequest(medchain.PurchaseRequest{
		MedicineID:      "med-1",
		Buyer:           payerAddr,
		RequestedAmount: 2,
		UniqueID:        id,
		Approved:        true,
	})
	return l, id
}

func newSequencer(l *ledger.Ledger) *medchain.Sequencer {
	return medchain.NewSequencer(l, l, nil, medchain.WithCompletionRetry(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Factor:       1,
		MaxAttempts:  2,
	}))
}

func TestWrap_DefaultOptions(t *testing.T) {
	l, _ := newLedgerWithApproved(t)
	seq := newSequencer(l)
	wrapped := Wrap(seq)

	if wrapped.Inner() != seq {
		t.Error("Expected inner to be the base sequencer")
	}
	if wrapped.store == nil {
		t.Error("Expected store to be initialized")
	}
	if wrapped.keyGenerator == nil {
		t.Error("Expected keyGenerator to be initialized")
	}
}

func TestWrap_WithStore(t *testing.T) {
	l, _ := newLedgerWithApproved(t)
	store := NewInMemoryStore(time.Minute)
	wrapped := Wrap(newSequencer(l), WithStore(store), WithTTL(time.Hour))

	if wrapped.store != store {
		t.Error("Expected custom store to be used")
	}
}

func TestCompletePurchase_CachesSuccess(t *testing.T) {
	l, id := newLedgerWithApproved(t)
	wrapped := Wrap(newSequencer(l))

	first, err := wrapped.CompletePurchase(context.Background(), 2, id)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := wrapped.CompletePurchase(context.Background(), 2, id)
	if err != nil {
		t.Fatalf("Unexpected error on repeat: %v", err)
	}

	if first != second {
		t.Error("Expected cached result on repeat")
	}
	if n := l.CountCalls("sendValue"); n != 1 {
		t.Errorf("Expected exactly 1 payment, got %d", n)
	}
}

func TestCompletePurchase_ResumesAfterPendingCompletion(t *testing.T) {
	l, id := newLedgerWithApproved(t)
	boom := errors.New("replacement transaction underpriced")
	l.CompletionSubmitErrs = []error{boom, boom}
	wrapped := Wrap(newSequencer(l))

	result, err := wrapped.CompletePurchase(context.Background(), 2, id)
	if !errors.Is(err, medchain.ErrCompletionPending) {
		t.Fatalf("Expected completion pending, got %v", err)
	}
	if wrapped.PendingPayment(id) != result.Payment {
		t.Fatal("Expected confirmed payment to be recorded")
	}

	result, err = wrapped.CompletePurchase(context.Background(), 2, id)
	if err != nil {
		t.Fatalf("Unexpected error on retry: %v", err)
	}
	if !result.Completion.Succeeded() {
		t.Error("Expected completion to be confirmed")
	}
	if n := l.CountCalls("sendValue"); n != 1 {
		t.Errorf("Expected no second payment, got %d payments", n)
	}
	if wrapped.PendingPayment(id) != nil {
		t.Error("Expected recorded payment to be cleared")
	}
}

func TestCompletePurchase_PaymentFailureNotCached(t *testing.T) {
	l, id := newLedgerWithApproved(t)
	l.SendErr = errors.New("insufficient funds")
	wrapped := Wrap(newSequencer(l))

	if _, err := wrapped.CompletePurchase(context.Background(), 2, id); !errors.Is(err, medchain.ErrSequenceAborted) {
		t.Fatalf("Expected aborted sequence, got %v", err)
	}
	if wrapped.PendingPayment(id) != nil {
		t.Error("Expected no recorded payment after aborted sequence")
	}

	l.SendErr = nil
	if _, err := wrapped.CompletePurchase(context.Background(), 2, id); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if n := l.CountCalls("sendValue"); n != 2 {
		t.Errorf("Expected 2 payment attempts, got %d", n)
	}
}

func TestResumeCompletion_UsesRecordedPayment(t *testing.T) {
	l, id := newLedgerWithApproved(t)
	boom := errors.New("nonce too low")
	l.CompletionSubmitErrs = []error{boom, boom}
	wrapped := Wrap(newSequencer(l))

	if _, err := wrapped.CompletePurchase(context.Background(), 2, id); err == nil {
		t.Fatal("Expected completion pending")
	}

	result, err := wrapped.ResumeCompletion(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Completion.Succeeded() {
		t.Error("Expected completion to be confirmed")
	}
}

func TestResumeCompletion_WithoutPayment(t *testing.T) {
	l, id := newLedgerWithApproved(t)
	wrapped := Wrap(newSequencer(l))

	_, err := wrapped.ResumeCompletion(context.Background(), id, nil)
	if !errors.Is(err, medchain.ErrInvalidRequest) {
		t.Fatalf("Expected invalid request, got %v", err)
	}
	if n := l.CountCalls("submitCompletion"); n != 0 {
		t.Errorf("Expected no completion call, got %d", n)
	}
}

// blockingCompleter holds every call until released
type blockingCompleter struct {
	calls   atomic.Int32
	release chan struct{}
	result  *medchain.CompletionResult
	err     error
}

func (b *blockingCompleter) CompletePurchase(ctx context.Context, requestedAmount uint64, uniqueID medchain.PurchaseID) (*medchain.CompletionResult, error) {
	b.calls.Add(1)
	<-b.release
	return b.result, b.err
}

func (b *blockingCompleter) ResumeCompletion(ctx context.Context, uniqueID medchain.PurchaseID, payment *medchain.TransactionReceipt) (*medchain.CompletionResult, error) {
	return b.CompletePurchase(ctx, 0, uniqueID)
}

func TestCompletePurchase_ConcurrentCallsShareResult(t *testing.T) {
	inner := &blockingCompleter{
		release: make(chan struct{}),
		result:  &medchain.CompletionResult{TotalCostWei: "40000000000000000"},
	}
	wrapped := Wrap(inner)
	id := medchain.GeneratePurchaseID("med-1", big.NewInt(1))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*medchain.CompletionResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = wrapped.CompletePurchase(context.Background(), 2, id)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	if n := inner.calls.Load(); n != 1 {
		t.Errorf("Expected 1 inner call, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != inner.result {
			t.Errorf("Caller %d: expected shared result", i)
		}
	}
}

func TestCompletePurchase_WaiterCancelled(t *testing.T) {
	inner := &blockingCompleter{release: make(chan struct{}), result: &medchain.CompletionResult{}}
	wrapped := Wrap(inner)
	id := medchain.GeneratePurchaseID("med-1", big.NewInt(1))

	go func() {
		_, _ = wrapped.CompletePurchase(context.Background(), 2, id)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := wrapped.CompletePurchase(ctx, 2, id)
	if !errors.Is(err, medchain.ErrSequenceAborted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected aborted wait, got %v", err)
	}

	close(inner.release)
}
