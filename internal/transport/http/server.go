package http

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service"
)

// CheckoutService is the slice of the service layer the HTTP surface needs.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	CompletePurchase(ctx context.Context, sessionID string) error
	ListPendingPurchases(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error)
	CancelPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) error
	RetryPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*service.CheckoutResult, error)
	RefundEligibility(ctx context.Context, buyerID, purchaseID uuid.UUID) (service.Eligibility, error)
	InitiateRefund(ctx context.Context, buyerID, purchaseID uuid.UUID) error
}

// Server wires the checkout routes onto a gin engine.
type Server struct {
	svc    CheckoutService
	log    *slog.Logger
	router *gin.Engine
}

func NewServer(svc CheckoutService, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		svc:    svc,
		log:    log,
		router: router,
	}

	router.GET("/healthz", s.handleHealth)
	router.POST("/api/v1/webhooks/payment", s.handlePaymentWebhook)

	api := router.Group("/api/v1", s.requireUser)
	{
		api.POST("/checkout", s.handleCreateCheckout)
		api.GET("/purchases/pending", s.handleListPending)
		api.DELETE("/purchases/:id", s.handleCancelPurchase)
		api.POST("/purchases/:id/retry", s.handleRetryPurchase)
		api.GET("/purchases/:id/refund-eligibility", s.handleRefundEligibility)
		api.POST("/purchases/:id/refund", s.handleInitiateRefund)
	}

	return s
}

// Router exposes the engine as an http.Handler for the outer http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}
