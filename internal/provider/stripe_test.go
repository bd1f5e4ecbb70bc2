package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func TestStripeInitiate_BuildsRedirect(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}}
	adapter := newStripeAdapter(intents, "https://shop.example.com/pay", zap.NewNop())

	handle, err := adapter.Initiate(context.Background(), InitiateRequest{
		Amount:    decimal.RequireFromString("12.345"),
		Currency:  "USD",
		Reference: "ORD-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_1", handle.Reference)
	assert.Contains(t, handle.RedirectURL, "payment_intent=pi_1")
	assert.Equal(t, int64(1235), *intents.created.Amount)
	assert.Equal(t, "usd", *intents.created.Currency)
}

func TestStripeQueryStatus_Mapping(t *testing.T) {
	cases := []struct {
		status  stripe.PaymentIntentStatus
		outcome Outcome
	}{
		{stripe.PaymentIntentStatusSucceeded, OutcomeSucceeded},
		{stripe.PaymentIntentStatusProcessing, OutcomeProcessing},
		{stripe.PaymentIntentStatusCanceled, OutcomeFailed},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, OutcomeFailed},
	}
	for _, tc := range cases {
		intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Status: tc.status}}
		adapter := newStripeAdapter(intents, "", zap.NewNop())

		res, err := adapter.QueryStatus(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, tc.outcome, res.Outcome, string(tc.status))
	}
}

func TestStripeQueryStatus_LastPaymentErrorDescribesFailure(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:               "pi_1",
		Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
		LastPaymentError: &stripe.Error{Msg: "Your card was declined."},
	}}
	adapter := newStripeAdapter(intents, "", zap.NewNop())

	res, err := adapter.QueryStatus(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "Your card was declined.", res.Description)
}

func TestClassifyStripeError(t *testing.T) {
	assert.True(t, IsTransient(classifyStripeError(errors.New("dial tcp: i/o timeout"))))
	assert.True(t, IsTransient(classifyStripeError(&stripe.Error{HTTPStatusCode: 503})))
	assert.True(t, IsTransient(classifyStripeError(&stripe.Error{HTTPStatusCode: 429})))
	assert.True(t, IsPermanent(classifyStripeError(&stripe.Error{
		HTTPStatusCode: 404,
		Type:           stripe.ErrorTypeInvalidRequest,
		Msg:            "No such payment_intent",
	})))
}

func TestRegistry(t *testing.T) {
	adapter := newStripeAdapter(&fakeIntents{}, "", zap.NewNop())
	reg := NewRegistry(adapter, nil)

	got, ok := reg.Get(adapter.Method())
	assert.True(t, ok)
	assert.Equal(t, adapter, got)
	_, ok = reg.Get("PAYPAL")
	assert.False(t, ok)
}
