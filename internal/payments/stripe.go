package payments

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/payout"
	"github.com/stripe/stripe-go/v74/refund"
)

// ErrPayment wraps every failure reported by the payment provider.
var ErrPayment = errors.New("payment provider failure")

// Receipt identifies the provider-side object created by a successful call.
type Receipt struct {
	ID string `json:"id"`
}

// Disabled refuses every call. Settlement keeps reservations unresolved
// until a provider is configured.
type Disabled struct{}

func (Disabled) Payout(context.Context, int64, string, string) (Receipt, error) {
	return Receipt{}, fmt.Errorf("%w: no provider configured", ErrPayment)
}

func (Disabled) Refund(context.Context, string, string) (Receipt, error) {
	return Receipt{}, fmt.Errorf("%w: no provider configured", ErrPayment)
}

// StripeClient issues driver payouts and passenger refunds through Stripe.
// Calls carry an idempotency key derived from the caller's reference so a
// retried settlement never produces a second transfer while Stripe still
// remembers the key.
type StripeClient struct {
	payouts payout.Client
	refunds refund.Client
}

func NewStripeClient(apiKey string) *StripeClient {
	return NewStripeClientWithBackend(apiKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeClientWithBackend lets tests point the client at a fake API.
func NewStripeClientWithBackend(apiKey string, b stripe.Backend) *StripeClient {
	return &StripeClient{
		payouts: payout.Client{B: b, Key: apiKey},
		refunds: refund.Client{B: b, Key: apiKey},
	}
}

// Payout transfers amountCents in currency to the driver. reference is the
// reservation being settled.
func (s *StripeClient) Payout(ctx context.Context, amountCents int64, currency, reference string) (Receipt, error) {
	if amountCents <= 0 {
		return Receipt{}, fmt.Errorf("%w: payout amount %d must be positive", ErrPayment, amountCents)
	}
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + reference)
	params.AddMetadata("reservation_id", reference)
	po, err := s.payouts.New(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: payout for %s: %w", ErrPayment, reference, err)
	}
	return Receipt{ID: po.ID}, nil
}

// Refund returns the full amount of chargeID to the passenger.
func (s *StripeClient) Refund(ctx context.Context, chargeID, reference string) (Receipt, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(chargeID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + reference)
	params.AddMetadata("reservation_id", reference)
	re, err := s.refunds.New(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: refund of %s for %s: %w", ErrPayment, chargeID, reference, err)
	}
	return Receipt{ID: re.ID}, nil
}
