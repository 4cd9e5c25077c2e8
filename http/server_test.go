package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/extensions/idempotency"
	"github.com/firasabs/medSmartContract/retry"
	"github.com/firasabs/medSmartContract/test/mocks/ledger"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payerAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	ledger *ledger.Ledger
	server *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	l := ledger.New(ownerAddr, payerAddr)
	tracker := medchain.NewTracker(l, nil)
	seq := medchain.NewSequencer(l, l, tracker, medchain.WithCompletionRetry(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Factor:       1,
		MaxAttempts:  2,
	}))

	all := append([]Option{
		WithInventory(l),
		WithAdminRegistry(l),
		WithBuyRequestSubmitter(l, medchain.IdentityGenerator{}),
		WithAccount(payerAddr),
		WithPricePerUnit(seq.PricePerUnit()),
	}, opts...)
	return &fixture{
		ledger: l,
		server: NewServer(tracker, medchain.NewModerator(l, tracker), idempotency.Wrap(seq), all...),
	}
}

func (f *fixture) addRequest(medicineID string, amount uint64, seed int64, approved bool) (uint64, medchain.PurchaseID) {
	id := medchain.GeneratePurchaseID(medicineID, big.NewInt(seed))
	index := f.ledger.AddRequest(medchain.PurchaseRequest{
		MedicineID:      medicineID,
		Buyer:           payerAddr,
		RequestedAmount: amount,
		UniqueID:        id,
		Approved:        approved,
	})
	return index, id
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error body, got %s", w.Body.String())
	return e["code"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "0.02", body["pricePerUnit"])
	assert.Equal(t, "20000000000000000", body["pricePerUnitWei"])
	assert.Equal(t, payerAddr.Hex(), body["account"])
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestListActionable(t *testing.T) {
	f := newFixture(t)
	f.addRequest("med-1", 1, 1, false)
	f.addRequest("med-2", 2, 2, true)
	f.addRequest("med-3", 3, 3, false)

	w := f.do(t, http.MethodGet, "/requests/actionable", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Requests []medchain.IndexedRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Requests, 2)
	assert.Equal(t, uint64(0), body.Requests[0].Index)
	assert.Equal(t, uint64(2), body.Requests[1].Index)
	assert.Equal(t, "med-3", body.Requests[1].Request.MedicineID)
}

func TestListActionableCountFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.CountErr = errors.New("connection refused")

	w := f.do(t, http.MethodGet, "/requests/actionable", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, medchain.ErrCodeLedgerCountFailure, errorCode(t, w))
}

func TestModeration(t *testing.T) {
	f := newFixture(t)
	f.addRequest("med-1", 1, 1, false)
	f.addRequest("med-2", 2, 2, false)

	w := f.do(t, http.MethodPost, "/requests/0/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Requests []medchain.IndexedRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Requests, 1)
	assert.Equal(t, uint64(1), body.Requests[0].Index)
	assert.True(t, f.ledger.Request(0).Approved)

	w = f.do(t, http.MethodPost, "/requests/1/reject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.ledger.Request(1).Rejected)

	// already moderated
	w = f.do(t, http.MethodPost, "/requests/0/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, medchain.ErrCodeTransactionRejected, errorCode(t, w))

	w = f.do(t, http.MethodPost, "/requests/first/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, medchain.ErrCodeInvalidRequest, errorCode(t, w))
}

func TestListByBuyer(t *testing.T) {
	f := newFixture(t)
	f.addRequest("med-1", 1, 1, false)
	f.addRequest("med-2", 2, 2, true)

	w := f.do(t, http.MethodGet, "/buyers/"+payerAddr.Hex()+"/requests", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Requests []struct {
			MedicineID  string `json:"medicineId"`
			Status      string `json:"status"`
			CanComplete bool   `json:"canComplete"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Requests, 2)
	assert.Equal(t, "Pending", body.Requests[0].Status)
	assert.False(t, body.Requests[0].CanComplete)
	assert.Equal(t, "Approved", body.Requests[1].Status)
	assert.True(t, body.Requests[1].CanComplete)

	w = f.do(t, http.MethodGet, "/buyers/not-an-address/requests", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBuyRequest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/requests", gin.H{"medicineId": "med-9", "amount": 4})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)

	id, err := medchain.ParsePurchaseID(body["uniqueId"].(string))
	require.NoError(t, err)
	stored := f.ledger.Request(0)
	assert.Equal(t, id, stored.UniqueID)
	assert.Equal(t, "med-9", stored.MedicineID)
	assert.Equal(t, uint64(4), stored.RequestedAmount)

	w = f.do(t, http.MethodPost, "/requests", gin.H{"medicineId": "med-9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletePurchase(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)

	w := f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/complete", gin.H{"requestedAmount": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result medchain.CompletionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "100000000000000000", result.TotalCostWei)
	assert.Equal(t, ownerAddr, result.Beneficiary)
	assert.True(t, result.Payment.Succeeded())
	assert.True(t, result.Completion.Succeeded())
	assert.True(t, f.ledger.Request(0).Completed)

	// repeat is served from the idempotency cache
	w = f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/complete", gin.H{"requestedAmount": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.ledger.CountCalls("sendValue"))
}

func TestCompletePurchaseInvalidInput(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)

	w := f.do(t, http.MethodPost, "/purchases/0x1234/complete", gin.H{"requestedAmount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/complete", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.ledger.CountCalls("sendValue"))
}

func TestCompletePurchaseRequiresPayableRequest(t *testing.T) {
	f := newFixture(t)
	_, approvedID := f.addRequest("med-1", 5, 1, true)
	_, pendingID := f.addRequest("med-2", 5, 2, false)
	rejectedID := medchain.GeneratePurchaseID("med-3", big.NewInt(3))
	f.ledger.AddRequest(medchain.PurchaseRequest{
		MedicineID:      "med-3",
		Buyer:           payerAddr,
		RequestedAmount: 5,
		UniqueID:        rejectedID,
		Rejected:        true,
	})
	completedID := medchain.GeneratePurchaseID("med-4", big.NewInt(4))
	f.ledger.AddRequest(medchain.PurchaseRequest{
		MedicineID:      "med-4",
		Buyer:           payerAddr,
		RequestedAmount: 5,
		UniqueID:        completedID,
		Approved:        true,
		Completed:       true,
	})

	tests := []struct {
		name   string
		id     medchain.PurchaseID
		amount uint64
	}{
		{"rejected", rejectedID, 5},
		{"pending", pendingID, 5},
		{"completed", completedID, 5},
		{"unknown", medchain.GeneratePurchaseID("med-9", big.NewInt(9)), 5},
		{"amount mismatch", approvedID, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/purchases/"+tt.id.Hex()+"/complete", gin.H{"requestedAmount": tt.amount})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, medchain.ErrCodeInvalidRequest, errorCode(t, w))
		})
	}
	assert.Equal(t, 0, f.ledger.CountCalls("sendValue"))
	assert.Empty(t, f.ledger.Payments)
	assert.False(t, f.ledger.Request(0).Completed)
}

func TestCompletePurchasePaymentFailure(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)
	f.ledger.SendErr = errors.New("insufficient funds")

	w := f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/complete", gin.H{"requestedAmount": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, medchain.ErrCodeSequenceAborted, errorCode(t, w))
	assert.Equal(t, 0, f.ledger.CountCalls("submitCompletion"))
}

func TestCompletionPendingAndResume(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)
	boom := errors.New("nonce too low")
	f.ledger.CompletionSubmitErrs = []error{boom, boom}

	w := f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/complete", gin.H{"requestedAmount": 5})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, medchain.ErrCodeCompletionPending, body["error"].(map[string]interface{})["code"])
	result := body["result"].(map[string]interface{})
	assert.NotNil(t, result["payment"])

	w = f.do(t, http.MethodGet, "/purchases/"+id.Hex()+"/payment", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, f.ledger.Request(0).Completed)
	assert.Equal(t, 1, f.ledger.CountCalls("sendValue"))

	w = f.do(t, http.MethodGet, "/purchases/"+id.Hex()+"/payment", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResumeWithoutPayment(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)

	w := f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/resume", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.ledger.CountCalls("submitCompletion"))
}

func TestResumeRefusesSuppliedPayment(t *testing.T) {
	f := newFixture(t)
	_, id := f.addRequest("med-1", 5, 1, true)

	w := f.do(t, http.MethodPost, "/purchases/"+id.Hex()+"/resume", gin.H{
		"payment": gin.H{"status": 1, "transactionHash": "0xforged"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, medchain.ErrCodeInvalidRequest, errorCode(t, w))
	assert.Equal(t, 0, f.ledger.CountCalls("submitCompletion"))
	assert.False(t, f.ledger.Request(0).Completed)
	assert.Empty(t, f.ledger.Payments)
}

func TestMedicines(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/medicines", gin.H{
		"id":         "med-1",
		"name":       "Aspirin",
		"amount":     10,
		"expiryDate": "2027-01-01",
		"ipfsHash":   "QmHash",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/medicines/med-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Aspirin", body["name"])
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash", body["documentUrl"])

	w = f.do(t, http.MethodPost, "/medicines/med-1/subtract", gin.H{"amount": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/medicines/med-1/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "Medicine is available, Amount left: 6", body["message"])

	w = f.do(t, http.MethodGet, "/medicines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"med-1"}, decode(t, w)["medicines"])

	// more than in stock reverts
	w = f.do(t, http.MethodPost, "/medicines/med-1/subtract", gin.H{"amount": 7})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/medicines/med-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/medicines/med-1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, medchain.ErrCodeLedgerReadFailure, errorCode(t, w))

	w = f.do(t, http.MethodPost, "/medicines", gin.H{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmins(t *testing.T) {
	f := newFixture(t)
	admin := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	w := f.do(t, http.MethodPut, "/admins/"+admin.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/admins/"+admin.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["admin"])

	w = f.do(t, http.MethodDelete, "/admins/"+admin.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/admins/"+admin.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["admin"])

	w = f.do(t, http.MethodGet, "/admins/0x12", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotConfigured(t *testing.T) {
	l := ledger.New(ownerAddr, payerAddr)
	tracker := medchain.NewTracker(l, nil)
	s := NewServer(tracker, medchain.NewModerator(l, tracker), medchain.NewSequencer(l, l, tracker))
	f := &fixture{ledger: l, server: s}

	for _, tt := range []struct {
		method, path string
	}{
		{http.MethodGet, "/medicines"},
		{http.MethodGet, "/admins/" + payerAddr.Hex()},
		{http.MethodPost, "/requests"},
		{http.MethodGet, "/purchases/" + medchain.GeneratePurchaseID("med-1", big.NewInt(1)).Hex() + "/payment"},
	} {
		w := f.do(t, tt.method, tt.path, nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code, tt.path)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{medchain.ErrInvalidRequest, http.StatusBadRequest},
		{medchain.ErrCompletionPending, http.StatusAccepted},
		{medchain.ErrTransactionRejected, http.StatusConflict},
		{medchain.ErrSequenceAborted, http.StatusConflict},
		{medchain.ErrTransactionUnconfirmed, http.StatusGatewayTimeout},
		{medchain.ErrNetworkUnavailable, http.StatusServiceUnavailable},
		{medchain.ErrLedgerReadFailure, http.StatusBadGateway},
		{medchain.ErrLedgerCountFailure, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
