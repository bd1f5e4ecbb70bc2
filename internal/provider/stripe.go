package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
)

// intentClient is the subset of the Stripe payment intent client the adapter uses.
type intentClient interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeAdapter wraps Stripe payment intents.
type StripeAdapter struct {
	intents     intentClient
	checkoutURL string
	logger      *zap.Logger
}

// NewStripeAdapter builds an adapter with its own API client instead of the
// package-level stripe.Key.
func NewStripeAdapter(secretKey, checkoutURL string, logger *zap.Logger) *StripeAdapter {
	api := client.New(secretKey, nil)
	return newStripeAdapter(api.PaymentIntents, checkoutURL, logger)
}

func newStripeAdapter(intents intentClient, checkoutURL string, logger *zap.Logger) *StripeAdapter {
	return &StripeAdapter{intents: intents, checkoutURL: checkoutURL, logger: logger}
}

func (s *StripeAdapter) Method() models.PaymentMethod { return models.PaymentMethodStripe }

// Initiate creates a payment intent and a redirect URL to the hosted card form.
func (s *StripeAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Handle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey("initiate-" + firstNonEmpty(req.IdempotencyKey, req.Reference))
	params.AddMetadata("order_number", req.Reference)

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &Handle{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		RedirectURL:  s.redirectURL(pi),
	}, nil
}

// QueryStatus retrieves a payment intent and maps its status.
func (s *StripeAdapter) QueryStatus(ctx context.Context, paymentIntentID string) (*StatusResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.intents.Get(paymentIntentID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return mapIntentStatus(pi), nil
}

// mapIntentStatus: succeeded is paid, processing is still working, anything else failed.
func mapIntentStatus(pi *stripe.PaymentIntent) *StatusResult {
	res := &StatusResult{Code: string(pi.Status)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Outcome = OutcomeSucceeded
		res.Description = "payment succeeded"
		if pi.LatestCharge != nil {
			res.Receipt = pi.LatestCharge.ID
		}
	case stripe.PaymentIntentStatusProcessing:
		res.Outcome = OutcomeProcessing
		res.Description = "payment is processing"
	default:
		res.Outcome = OutcomeFailed
		res.Description = "payment intent status " + string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			res.Description = pi.LastPaymentError.Msg
		}
	}
	return res
}

func classifyStripeError(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return &TransientError{Provider: models.PaymentMethodStripe, Err: err}
	}
	if serr.HTTPStatusCode == 0 || serr.HTTPStatusCode == 429 || serr.HTTPStatusCode >= 500 ||
		serr.Type == stripe.ErrorTypeAPI {
		return &TransientError{Provider: models.PaymentMethodStripe, Err: err}
	}
	return &PermanentError{Provider: models.PaymentMethodStripe, Code: string(serr.Code), Message: serr.Msg}
}

func (s *StripeAdapter) redirectURL(pi *stripe.PaymentIntent) string {
	if s.checkoutURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("payment_intent", pi.ID)
	q.Set("payment_intent_client_secret", pi.ClientSecret)
	sep := "?"
	if strings.Contains(s.checkoutURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s", s.checkoutURL, sep, q.Encode())
}

// minorUnits converts a major-unit amount into cents, rounding half up.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
