package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	medchain "github.com/firasabs/medSmartContract"
)

// ============================================================================
// Requests
// ============================================================================

// requestView is a purchase request as shown to its buyer
type requestView struct {
	medchain.PurchaseRequest
	Status      medchain.RequestStatus `json:"status"`
	CanComplete bool                   `json:"canComplete"`
}

func newRequestViews(requests []medchain.PurchaseRequest) []requestView {
	views := make([]requestView, 0, len(requests))
	for _, r := range requests {
		views = append(views, requestView{
			PurchaseRequest: r,
			Status:          r.Status(),
			CanComplete:     r.CanComplete(),
		})
	}
	return views
}

type buyRequestBody struct {
	MedicineID string `json:"medicineId" binding:"required"`
	Amount     uint64 `json:"amount" binding:"required"`
}

func (s *Server) listActionable(c *gin.Context) {
	requests, err := s.tracker.ListActionableRequests(c.Request.Context())
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) submitBuyRequest(c *gin.Context) {
	var body buyRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "medicineId and a positive amount are required", err)
		return
	}

	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	uniqueID, err := medchain.SubmitBuyRequest(ctx, s.submitter, s.identity, body.MedicineID, body.Amount)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"uniqueId":   uniqueID,
		"medicineId": body.MedicineID,
		"amount":     body.Amount,
	})
}

func (s *Server) approve(c *gin.Context) {
	s.moderate(c, s.moderator.Approve)
}

func (s *Server) reject(c *gin.Context) {
	s.moderate(c, s.moderator.Reject)
}

func (s *Server) moderate(c *gin.Context, action func(ctx context.Context, index uint64) ([]medchain.IndexedRequest, error)) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid request index %q", c.Param("index")), err)
		return
	}

	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	requests, err := action(ctx, index)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) listByBuyer(c *gin.Context) {
	buyer, ok := addressParam(c)
	if !ok {
		return
	}
	requests, err := s.tracker.ListRequestsByBuyer(c.Request.Context(), buyer)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"buyer":    buyer,
		"requests": newRequestViews(requests),
	})
}

// ============================================================================
// Purchases
// ============================================================================

type completeBody struct {
	RequestedAmount uint64 `json:"requestedAmount" binding:"required"`
}

func (s *Server) completePurchase(c *gin.Context) {
	uniqueID, ok := purchaseIDParam(c)
	if !ok {
		return
	}
	var body completeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "a positive requestedAmount is required", err)
		return
	}

	result, err := s.purchases.CompletePurchase(c.Request.Context(), body.RequestedAmount, uniqueID)
	writeCompletion(c, result, err)
}

// resumeCompletion resumes with the payment recorded by an earlier failed
// completion of this server. Receipts supplied by the caller are refused.
func (s *Server) resumeCompletion(c *gin.Context) {
	uniqueID, ok := purchaseIDParam(c)
	if !ok {
		return
	}
	if c.Request.ContentLength > 0 {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid resume body", err)
			return
		}
		if _, ok := body["payment"]; ok {
			badRequest(c, "resume uses the payment recorded by this server, a payment cannot be supplied", nil)
			return
		}
	}

	result, err := s.purchases.ResumeCompletion(c.Request.Context(), uniqueID, nil)
	writeCompletion(c, result, err)
}

// pendingPayments is implemented by sequencers that remember confirmed
// payments still waiting for their completion
type pendingPayments interface {
	PendingPayment(uniqueID medchain.PurchaseID) *medchain.TransactionReceipt
}

func (s *Server) pendingPayment(c *gin.Context) {
	uniqueID, ok := purchaseIDParam(c)
	if !ok {
		return
	}
	pending, ok := s.purchases.(pendingPayments)
	if !ok {
		notConfigured(c, "payment tracking")
		return
	}
	payment := pending.PendingPayment(uniqueID)
	if payment == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": "not_found", "message": "no pending payment for " + uniqueID.Hex()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uniqueId": uniqueID, "payment": payment})
}

func writeCompletion(c *gin.Context, result *medchain.CompletionResult, err error) {
	if err != nil {
		if result != nil {
			abortWithError(c, err, result)
		} else {
			abortWithError(c, err, nil)
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// Medicines
// ============================================================================

// medicineView adds the document link to a medicine
type medicineView struct {
	medchain.Medicine
	DocumentURL string `json:"documentUrl,omitempty"`
}

type addMedicineBody struct {
	ID         string `json:"id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Amount     uint64 `json:"amount"`
	ExpiryDate string `json:"expiryDate"`
	IPFSHash   string `json:"ipfsHash"`
}

type subtractBody struct {
	Amount uint64 `json:"amount" binding:"required"`
}

func (s *Server) listMedicines(c *gin.Context) {
	ids, err := s.inventory.GetAllMedicineIDs(c.Request.Context())
	if err != nil {
		abortWithError(c, readFailure(err, "failed to list medicines"), nil)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"medicines": ids})
}

func (s *Server) getMedicine(c *gin.Context) {
	m, err := s.inventory.GetMedicine(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, readFailure(err, fmt.Sprintf("failed to read medicine %s", c.Param("id"))), nil)
		return
	}
	c.JSON(http.StatusOK, medicineView{Medicine: m, DocumentURL: m.DocumentURL()})
}

func (s *Server) availability(c *gin.Context) {
	availability, err := medchain.CheckAvailability(c.Request.Context(), s.inventory, c.Param("id"))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, availability)
}

func (s *Server) addMedicine(c *gin.Context) {
	var body addMedicineBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "medicine id and name are required", err)
		return
	}
	m := medchain.Medicine{
		ID:         body.ID,
		Name:       body.Name,
		Amount:     body.Amount,
		ExpiryDate: body.ExpiryDate,
		IPFSHash:   body.IPFSHash,
	}

	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	tx, err := s.inventory.AddMedicine(ctx, m)
	receipt, err := medchain.Confirm(ctx, "add medicine "+m.ID, tx, err)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"medicine": medicineView{Medicine: m, DocumentURL: m.DocumentURL()}, "tx": receipt})
}

func (s *Server) removeMedicine(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	tx, err := s.inventory.RemoveMedicine(ctx, id)
	receipt, err := medchain.Confirm(ctx, "remove medicine "+id, tx, err)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx": receipt})
}

func (s *Server) subtractMedicine(c *gin.Context) {
	id := c.Param("id")
	var body subtractBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "a positive amount is required", err)
		return
	}

	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	tx, err := s.inventory.SubtractMedicineAmount(ctx, id, body.Amount)
	receipt, err := medchain.Confirm(ctx, fmt.Sprintf("subtract %d of medicine %s", body.Amount, id), tx, err)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx": receipt})
}

// ============================================================================
// Admins
// ============================================================================

func (s *Server) isAdmin(c *gin.Context) {
	account, ok := addressParam(c)
	if !ok {
		return
	}
	admin, err := s.admins.IsAdmin(c.Request.Context(), account)
	if err != nil {
		abortWithError(c, readFailure(err, "failed to read admin registry"), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": account, "admin": admin})
}

func (s *Server) addAdmin(c *gin.Context) {
	s.changeAdmin(c, "add admin", s.admins.AddAdmin)
}

func (s *Server) removeAdmin(c *gin.Context) {
	s.changeAdmin(c, "remove admin", s.admins.RemoveAdmin)
}

func (s *Server) changeAdmin(c *gin.Context, action string, submit func(ctx context.Context, account common.Address) (medchain.TxHandle, error)) {
	account, ok := addressParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.withConfirmationTimeout(c.Request.Context())
	defer cancel()
	tx, err := submit(ctx, account)
	receipt, err := medchain.Confirm(ctx, action+" "+account.Hex(), tx, err)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": account, "tx": receipt})
}

// ============================================================================
// Parameters
// ============================================================================

func addressParam(c *gin.Context) (common.Address, bool) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		badRequest(c, fmt.Sprintf("invalid address %q", raw), nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func purchaseIDParam(c *gin.Context) (medchain.PurchaseID, bool) {
	id, err := medchain.ParsePurchaseID(c.Param("uniqueId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid unique id %q", c.Param("uniqueId")), err)
		return medchain.PurchaseID{}, false
	}
	return id, true
}

func readFailure(err error, message string) error {
	if medchain.ErrorCode(err) != "" {
		return err
	}
	return medchain.NewWorkflowError(medchain.ErrCodeLedgerReadFailure, message, err)
}
