// Package stripe adapts the Stripe API to the narrow payment-provider
// contract the checkout service consumes: session create/retrieve/expire and
// refunds. Webhook signature verification lives with the edge, not here.
package stripe

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service"
)

type Provider struct {
	api *client.API
	cfg config.Stripe
	log *slog.Logger
}

func NewProvider(cfg config.Stripe, log *slog.Logger) *Provider {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &Provider{
		api: api,
		cfg: cfg,
		log: log,
	}
}

func (p *Provider) CreateSession(ctx context.Context, req service.CreateSessionRequest) (*service.PaymentSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.OrderNumber),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.cfg.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("buyer_id", req.BuyerID.String())

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	result := &service.PaymentSession{ID: sess.ID, URL: sess.URL}
	if sess.PaymentIntent != nil {
		result.PaymentIntentID = sess.PaymentIntent.ID
	}

	p.log.Debug("stripe checkout session created",
		slog.String("session_id", sess.ID),
		slog.String("order_number", req.OrderNumber),
	)
	return result, nil
}

func (p *Provider) RetrieveSession(ctx context.Context, id string) (*service.SessionState, error) {
	sess, err := p.api.CheckoutSessions.Get(id, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	state := &service.SessionState{Status: string(sess.Status)}
	if sess.PaymentIntent != nil {
		state.PaymentIntentID = sess.PaymentIntent.ID
	}
	return state, nil
}

func (p *Provider) ExpireSession(ctx context.Context, id string) error {
	_, err := p.api.CheckoutSessions.Expire(id, &stripe.CheckoutSessionExpireParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("expire checkout session: %w", err)
	}
	return nil
}

func (p *Provider) Refund(ctx context.Context, paymentIntentID string, amountCents int64) (string, error) {
	refund, err := p.api.Refunds.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
	})
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}

	p.log.Debug("stripe refund created",
		slog.String("refund_id", refund.ID),
		slog.String("payment_intent_id", paymentIntentID),
	)
	return refund.ID, nil
}
