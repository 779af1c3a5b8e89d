package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service/serverrors"
)

// userHeader carries the authenticated user id, set by the gateway in front
// of this service.
const userHeader = "X-User-ID"

const ctxUserID = "userID"

func (s *Server) requireUser(c *gin.Context) {
	raw := c.GetHeader(userHeader)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "missing " + userHeader + " header",
		})
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid " + userHeader + " header",
		})
		return
	}
	c.Set(ctxUserID, id)
	c.Next()
}

func userID(c *gin.Context) uuid.UUID {
	return c.MustGet(ctxUserID).(uuid.UUID)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type checkoutBody struct {
	TargetID   uuid.UUID `json:"target_id" binding:"required"`
	Type       string    `json:"type" binding:"required"`
	AsClassRep bool      `json:"as_class_rep"`
	PromoCode  string    `json:"promo_code"`
}

func (s *Server) handleCreateCheckout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	res, err := s.svc.CreateCheckout(c.Request.Context(), service.CheckoutRequest{
		BuyerID:    userID(c),
		TargetID:   body.TargetID,
		Type:       domain.PurchaseType(body.Type),
		AsClassRep: body.AsClassRep,
		PromoCode:  body.PromoCode,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"purchase":    res.Purchase,
		"session_id":  res.SessionID,
		"session_url": res.SessionURL,
		"free":        res.Free,
	})
}

func (s *Server) handleListPending(c *gin.Context) {
	purchases, err := s.svc.ListPendingPurchases(c.Request.Context(), userID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"purchases": purchases,
		"count":     len(purchases),
	})
}

func (s *Server) handleCancelPurchase(c *gin.Context) {
	id, ok := s.purchaseID(c)
	if !ok {
		return
	}
	if err := s.svc.CancelPurchase(c.Request.Context(), userID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleRetryPurchase(c *gin.Context) {
	id, ok := s.purchaseID(c)
	if !ok {
		return
	}
	res, err := s.svc.RetryPurchase(c.Request.Context(), userID(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"purchase":    res.Purchase,
		"session_id":  res.SessionID,
		"session_url": res.SessionURL,
	})
}

func (s *Server) handleRefundEligibility(c *gin.Context) {
	id, ok := s.purchaseID(c)
	if !ok {
		return
	}
	e, err := s.svc.RefundEligibility(c.Request.Context(), userID(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eligibility": e})
}

func (s *Server) handleInitiateRefund(c *gin.Context) {
	id, ok := s.purchaseID(c)
	if !ok {
		return
	}
	if err := s.svc.InitiateRefund(c.Request.Context(), userID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type webhookBody struct {
	SessionID string `json:"session_id" binding:"required"`
}

// handlePaymentWebhook completes a purchase after the provider reports its
// session paid. Signature verification is handled by the webhook gateway;
// the session state is re-verified against the provider here regardless.
func (s *Server) handlePaymentWebhook(c *gin.Context) {
	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid webhook payload"})
		return
	}
	if err := s.svc.CompletePurchase(c.Request.Context(), body.SessionID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) purchaseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid purchase id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var svcErr *serverrors.Error
	if errors.As(err, &svcErr) {
		msg = svcErr.Reason
		switch svcErr.Kind {
		case serverrors.KindValidation, serverrors.KindBusinessRule:
			status = http.StatusBadRequest
		case serverrors.KindAuthorization:
			status = http.StatusForbidden
		case serverrors.KindConcurrency:
			status = http.StatusConflict
		case serverrors.KindPricing:
			status = http.StatusInternalServerError
		case serverrors.KindProvider:
			status = http.StatusBadGateway
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
	}

	c.JSON(status, gin.H{"success": false, "error": msg})
}
