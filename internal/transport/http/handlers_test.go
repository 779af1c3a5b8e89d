package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service/serverrors"
)

// stubService implements CheckoutService with per-method funcs
type stubService struct {
	CreateCheckoutFunc       func(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	CompletePurchaseFunc     func(ctx context.Context, sessionID string) error
	ListPendingPurchasesFunc func(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error)
	CancelPurchaseFunc       func(ctx context.Context, buyerID, purchaseID uuid.UUID) error
	RetryPurchaseFunc        func(ctx context.Context, buyerID, purchaseID uuid.UUID) (*service.CheckoutResult, error)
	RefundEligibilityFunc    func(ctx context.Context, buyerID, purchaseID uuid.UUID) (service.Eligibility, error)
	InitiateRefundFunc       func(ctx context.Context, buyerID, purchaseID uuid.UUID) error
}

func (s *stubService) CreateCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	return s.CreateCheckoutFunc(ctx, req)
}

func (s *stubService) CompletePurchase(ctx context.Context, sessionID string) error {
	return s.CompletePurchaseFunc(ctx, sessionID)
}

func (s *stubService) ListPendingPurchases(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error) {
	return s.ListPendingPurchasesFunc(ctx, buyerID)
}

func (s *stubService) CancelPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) error {
	return s.CancelPurchaseFunc(ctx, buyerID, purchaseID)
}

func (s *stubService) RetryPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*service.CheckoutResult, error) {
	return s.RetryPurchaseFunc(ctx, buyerID, purchaseID)
}

func (s *stubService) RefundEligibility(ctx context.Context, buyerID, purchaseID uuid.UUID) (service.Eligibility, error) {
	return s.RefundEligibilityFunc(ctx, buyerID, purchaseID)
}

func (s *stubService) InitiateRefund(ctx context.Context, buyerID, purchaseID uuid.UUID) error {
	return s.InitiateRefundFunc(ctx, buyerID, purchaseID)
}

func newTestServer(svc *stubService) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(svc, log)
}

func doJSON(t *testing.T, s *Server, method, path string, user *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(userHeader, user.String())
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateCheckoutRoute(t *testing.T) {
	buyer := uuid.New()
	target := uuid.New()
	svc := &stubService{
		CreateCheckoutFunc: func(_ context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
			if req.BuyerID != buyer || req.TargetID != target || req.Type != domain.PurchaseTypeProgram || !req.AsClassRep {
				t.Fatalf("request not mapped: %+v", req)
			}
			return &service.CheckoutResult{
				Purchase:   &domain.Purchase{ID: uuid.New(), Status: domain.StatusPending},
				SessionID:  "cs_1",
				SessionURL: "https://pay.example/cs_1",
			}, nil
		},
	}
	s := newTestServer(svc)

	w := doJSON(t, s, http.MethodPost, "/api/v1/checkout", &buyer, map[string]any{
		"target_id":    target.String(),
		"type":         "program",
		"as_class_rep": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["session_url"] != "https://pay.example/cs_1" {
		t.Fatalf("session_url missing: %v", body)
	}
}

func TestCreateCheckoutRouteRequiresUser(t *testing.T) {
	s := newTestServer(&stubService{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/checkout", nil, map[string]any{"target_id": uuid.NewString(), "type": "program"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestErrorKindStatusMapping(t *testing.T) {
	buyer := uuid.New()
	cases := []struct {
		kind   serverrors.Kind
		status int
	}{
		{serverrors.KindValidation, http.StatusBadRequest},
		{serverrors.KindBusinessRule, http.StatusBadRequest},
		{serverrors.KindAuthorization, http.StatusForbidden},
		{serverrors.KindConcurrency, http.StatusConflict},
		{serverrors.KindPricing, http.StatusInternalServerError},
		{serverrors.KindProvider, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			svc := &stubService{
				CreateCheckoutFunc: func(context.Context, service.CheckoutRequest) (*service.CheckoutResult, error) {
					return nil, serverrors.New(tc.kind, "nope")
				},
			}
			w := doJSON(t, newTestServer(svc), http.MethodPost, "/api/v1/checkout", &buyer, map[string]any{
				"target_id": uuid.NewString(),
				"type":      "program",
			})
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			body := decodeBody(t, w)
			if body["success"] != false {
				t.Fatalf("error envelope missing: %v", body)
			}
		})
	}
}

func TestListPendingRoute(t *testing.T) {
	buyer := uuid.New()
	svc := &stubService{
		ListPendingPurchasesFunc: func(_ context.Context, id uuid.UUID) ([]domain.Purchase, error) {
			if id != buyer {
				t.Fatalf("buyer = %s, want %s", id, buyer)
			}
			return nil, nil
		},
	}

	w := doJSON(t, newTestServer(svc), http.MethodGet, "/api/v1/purchases/pending", &buyer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if _, ok := body["purchases"].([]any); !ok {
		t.Fatalf("purchases must be an empty array, not null: %s", w.Body.String())
	}
}

func TestCancelRoute(t *testing.T) {
	buyer := uuid.New()
	purchase := uuid.New()
	called := false
	svc := &stubService{
		CancelPurchaseFunc: func(_ context.Context, b, p uuid.UUID) error {
			called = true
			if b != buyer || p != purchase {
				t.Fatalf("args = %s %s", b, p)
			}
			return nil
		},
	}

	w := doJSON(t, newTestServer(svc), http.MethodDelete, "/api/v1/purchases/"+purchase.String(), &buyer, nil)
	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}

	w = doJSON(t, newTestServer(svc), http.MethodDelete, "/api/v1/purchases/not-a-uuid", &buyer, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: status = %d, want 400", w.Code)
	}
}

func TestRefundEligibilityRoute(t *testing.T) {
	buyer := uuid.New()
	purchase := uuid.New()
	svc := &stubService{
		RefundEligibilityFunc: func(context.Context, uuid.UUID, uuid.UUID) (service.Eligibility, error) {
			return service.Eligibility{Reason: service.ReasonRefundWindowOver}, nil
		},
	}

	w := doJSON(t, newTestServer(svc), http.MethodGet, "/api/v1/purchases/"+purchase.String()+"/refund-eligibility", &buyer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	e, ok := body["eligibility"].(map[string]any)
	if !ok || e["eligible"] != false || e["reason"] != service.ReasonRefundWindowOver {
		t.Fatalf("eligibility payload wrong: %v", body)
	}
}

func TestPaymentWebhookRoute(t *testing.T) {
	var completed string
	svc := &stubService{
		CompletePurchaseFunc: func(_ context.Context, sessionID string) error {
			completed = sessionID
			return nil
		},
	}
	s := newTestServer(svc)

	// webhook route needs no user header
	w := doJSON(t, s, http.MethodPost, "/api/v1/webhooks/payment", nil, map[string]any{"session_id": "cs_42"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if completed != "cs_42" {
		t.Fatalf("session = %q, want cs_42", completed)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/webhooks/payment", nil, map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty payload: status = %d, want 400", w.Code)
	}
}

func TestHealthRoute(t *testing.T) {
	w := doJSON(t, newTestServer(&stubService{}), http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
