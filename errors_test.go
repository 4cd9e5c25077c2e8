package medchain_test

import (
	"errors"
	"fmt"
	"testing"

	medchain "github.com/firasabs/medSmartContract"
)

func TestWorkflowErrorMatchesByCode(t *testing.T) {
	cause := errors.New("connection refused")
	err := medchain.NewWorkflowError(medchain.ErrCodeNetworkUnavailable, "dial failed", cause)

	if !errors.Is(err, medchain.ErrNetworkUnavailable) {
		t.Fatal("expected match on code")
	}
	if errors.Is(err, medchain.ErrLedgerReadFailure) {
		t.Fatal("unexpected match on a different code")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be unwrapped")
	}
}

func TestWorkflowErrorNested(t *testing.T) {
	inner := medchain.NewWorkflowError(medchain.ErrCodeTransactionRejected, "payment rejected", nil)
	outer := medchain.NewWorkflowError(medchain.ErrCodeSequenceAborted, "payment failed", inner)
	wrapped := fmt.Errorf("purchase: %w", outer)

	if !errors.Is(wrapped, medchain.ErrSequenceAborted) || !errors.Is(wrapped, medchain.ErrTransactionRejected) {
		t.Fatalf("expected both codes to match: %v", wrapped)
	}
	if code := medchain.ErrorCode(wrapped); code != medchain.ErrCodeSequenceAborted {
		t.Fatalf("expected outermost code, got %q", code)
	}
	if code := medchain.ErrorCode(errors.New("plain")); code != "" {
		t.Fatalf("expected no code, got %q", code)
	}
}

func TestWorkflowErrorMessage(t *testing.T) {
	err := medchain.NewWorkflowError(medchain.ErrCodeCompletionPending, "completion failed", errors.New("nonce too low")).
		WithDetail("paymentTx", "0xabc")

	want := "completion_pending: completion failed: nonce too low"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if err.Details["paymentTx"] != "0xabc" {
		t.Fatalf("expected detail to be set, got %v", err.Details)
	}
}
