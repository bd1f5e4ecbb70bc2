package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/models"
)

// Outcome is the provider verdict after translating provider-specific codes.
type Outcome int

const (
	OutcomeProcessing Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "processing"
	}
}

// InitiateRequest describes a payment to push to a provider.
type InitiateRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	PhoneNumber string
	Description string
	// IdempotencyKey identifies one payment attempt; a retried order gets a new key.
	IdempotencyKey string
}

// Handle is what a provider returns for an accepted payment request.
type Handle struct {
	Reference         string
	MerchantRequestID string
	RedirectURL       string
	ClientSecret      string
	CustomerMessage   string
}

// StatusResult is a provider status translated into the closed Outcome set.
type StatusResult struct {
	Outcome     Outcome
	Code        string
	Description string
	Receipt     string
}

// Adapter is the uniform shape every payment provider is wrapped in.
//
// Implementations return *TransientError for failures that are safe to retry,
// *PermanentError for rejected requests, and a StatusResult otherwise.
type Adapter interface {
	Method() models.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Handle, error)
	QueryStatus(ctx context.Context, reference string) (*StatusResult, error)
}

// TransientError marks a network, timeout or upstream 5xx failure.
type TransientError struct {
	Provider models.PaymentMethod
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a request the provider rejected outright.
type PermanentError struct {
	Provider models.PaymentMethod
	Code     string
	Message  string
}

func (e *PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected request (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Message)
}

// IsTransient reports whether err is safe to retry. Unclassified errors count as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// IsPermanent reports whether the provider rejected the request.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Registry maps each payment method to its adapter.
type Registry map[models.PaymentMethod]Adapter

// NewRegistry indexes adapters by their method.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		if a != nil {
			r[a.Method()] = a
		}
	}
	return r
}

// Get returns the adapter for a method.
func (r Registry) Get(method models.PaymentMethod) (Adapter, bool) {
	a, ok := r[method]
	return a, ok
}
