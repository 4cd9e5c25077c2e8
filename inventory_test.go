package medchain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/test/mocks/ledger"
)

func TestCheckAvailability(t *testing.T) {
	l := ledger.New(ownerAddr, payerAddr)
	l.AddMedicineNow(medchain.Medicine{ID: "med-1", Name: "Aspirin", Amount: 7})
	l.AddMedicineNow(medchain.Medicine{ID: "med-2", Name: "Ibuprofen"})

	got, err := medchain.CheckAvailability(context.Background(), l, "med-1")
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, uint64(7), got.Remaining)
	assert.Equal(t, "Medicine is available, Amount left: 7", got.Message)

	got, err = medchain.CheckAvailability(context.Background(), l, "med-2")
	require.NoError(t, err)
	assert.False(t, got.Available)
	assert.Equal(t, "Medicine is out of stock.", got.Message)
}

func TestCheckAvailabilityErrors(t *testing.T) {
	l := ledger.New(ownerAddr, payerAddr)

	_, err := medchain.CheckAvailability(context.Background(), l, "")
	assert.True(t, errors.Is(err, medchain.ErrInvalidRequest))

	_, err = medchain.CheckAvailability(context.Background(), l, "missing")
	assert.True(t, errors.Is(err, medchain.ErrLedgerReadFailure))
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ownerAddr, payerAddr)

	tx, err := l.AddMedicine(ctx, medchain.Medicine{ID: "med-1", Name: "Aspirin", Amount: 3})
	receipt, err := medchain.Confirm(ctx, "add medicine", tx, err)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, tx.Hash(), receipt.TxHash)

	// second add of the same id reverts
	tx, err = l.AddMedicine(ctx, medchain.Medicine{ID: "med-1", Name: "Aspirin"})
	_, err = medchain.Confirm(ctx, "add medicine", tx, err)
	require.Error(t, err)
	assert.True(t, errors.Is(err, medchain.ErrTransactionRejected))
	assert.Equal(t, tx.Hash(), err.(*medchain.WorkflowError).Details["tx"])

	_, err = medchain.Confirm(ctx, "remove medicine", nil, errors.New("not an admin"))
	assert.True(t, errors.Is(err, medchain.ErrTransactionRejected))
}
