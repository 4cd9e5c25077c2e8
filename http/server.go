package http

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	medchain "github.com/firasabs/medSmartContract"
	"github.com/firasabs/medSmartContract/extensions/idempotency"
	"github.com/firasabs/medSmartContract/log"
)

// RequestIDHeader carries the request identifier in and out of the API
const RequestIDHeader = "X-Request-ID"

// Server is the JSON surface over the purchase workflow and the inventory
type Server struct {
	tracker   *medchain.Tracker
	moderator *medchain.Moderator
	purchases idempotency.Completer

	inventory medchain.Inventory
	admins    medchain.AdminRegistry
	submitter medchain.BuyRequestSubmitter
	identity  medchain.IdentityGenerator

	account             common.Address
	pricePerUnit        *big.Int
	confirmationTimeout time.Duration

	engine *gin.Engine
}

// Option configures the Server
type Option func(*Server)

// WithInventory enables the /medicines routes
func WithInventory(inventory medchain.Inventory) Option {
	return func(s *Server) {
		s.inventory = inventory
	}
}

// WithAdminRegistry enables the /admins routes
func WithAdminRegistry(admins medchain.AdminRegistry) Option {
	return func(s *Server) {
		s.admins = admins
	}
}

// WithBuyRequestSubmitter enables POST /requests. gen supplies the unique id
// of every new request.
func WithBuyRequestSubmitter(submitter medchain.BuyRequestSubmitter, gen medchain.IdentityGenerator) Option {
	return func(s *Server) {
		s.submitter = submitter
		s.identity = gen
	}
}

// WithAccount sets the connected account reported by /healthz
func WithAccount(account common.Address) Option {
	return func(s *Server) {
		s.account = account
	}
}

// WithPricePerUnit sets the unit price reported by /healthz
func WithPricePerUnit(wei *big.Int) Option {
	return func(s *Server) {
		s.pricePerUnit = new(big.Int).Set(wei)
	}
}

// WithConfirmationTimeout bounds the wait for inventory, admin and buy request
// transactions
func WithConfirmationTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.confirmationTimeout = timeout
	}
}

// NewServer creates the API. purchases is usually an *idempotency.IdempotentSequencer.
func NewServer(tracker *medchain.Tracker, moderator *medchain.Moderator, purchases idempotency.Completer, opts ...Option) *Server {
	s := &Server{
		tracker:             tracker,
		moderator:           moderator,
		purchases:           purchases,
		confirmationTimeout: medchain.DefaultConfirmationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.GET("/healthz", s.health)

	r.GET("/requests/actionable", s.listActionable)
	r.POST("/requests", s.requiresSubmitter, s.submitBuyRequest)
	r.POST("/requests/:index/approve", s.approve)
	r.POST("/requests/:index/reject", s.reject)
	r.GET("/buyers/:address/requests", s.listByBuyer)

	r.POST("/purchases/:uniqueId/complete", s.completePurchase)
	r.POST("/purchases/:uniqueId/resume", s.resumeCompletion)
	r.GET("/purchases/:uniqueId/payment", s.pendingPayment)

	medicines := r.Group("/medicines", s.requiresInventory)
	medicines.GET("", s.listMedicines)
	medicines.POST("", s.addMedicine)
	medicines.GET("/:id", s.getMedicine)
	medicines.DELETE("/:id", s.removeMedicine)
	medicines.GET("/:id/availability", s.availability)
	medicines.POST("/:id/subtract", s.subtractMedicine)

	admins := r.Group("/admins", s.requiresAdmins)
	admins.GET("/:address", s.isAdmin)
	admins.PUT("/:address", s.addAdmin)
	admins.DELETE("/:address", s.removeAdmin)

	s.engine = r
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"account": s.account.Hex(),
	}
	if s.pricePerUnit != nil {
		body["pricePerUnit"] = medchain.FormatEther(s.pricePerUnit)
		body["pricePerUnitWei"] = s.pricePerUnit.String()
	}
	c.JSON(http.StatusOK, body)
}

// withConfirmationTimeout bounds transaction waits of a single handler
func (s *Server) withConfirmationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.confirmationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.confirmationTimeout)
}

func (s *Server) requiresInventory(c *gin.Context) {
	if s.inventory == nil {
		notConfigured(c, "inventory")
	}
}

func (s *Server) requiresAdmins(c *gin.Context) {
	if s.admins == nil {
		notConfigured(c, "admin registry")
	}
}

func (s *Server) requiresSubmitter(c *gin.Context) {
	if s.submitter == nil {
		notConfigured(c, "buy request submission")
	}
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{
		"error": gin.H{"code": "not_configured", "message": what + " is not configured"},
	})
}

// requestID tags the request context with an id for every log line of the
// request, and logs the outcome
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		ctx := log.WithLogField(c.Request.Context(), "req", id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()
		log.L(ctx).Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
