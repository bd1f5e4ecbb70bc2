package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures surfaced to callers of the payment services.
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindForbidden         ErrorKind = "forbidden"
	KindNotFound          ErrorKind = "not_found"
	KindProviderTransient ErrorKind = "provider_transient"
	KindProviderPermanent ErrorKind = "provider_permanent"
	KindInternal          ErrorKind = "internal"
)

// ServiceError carries an HTTP status alongside the error kind.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func invalidRequest(msg string) *ServiceError {
	return &ServiceError{Kind: KindInvalidRequest, StatusCode: http.StatusBadRequest, Message: msg}
}

func forbidden(msg string) *ServiceError {
	return &ServiceError{Kind: KindForbidden, StatusCode: http.StatusForbidden, Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Kind: KindNotFound, StatusCode: http.StatusNotFound, Message: msg}
}

func providerTransient(msg string, err error) *ServiceError {
	return &ServiceError{Kind: KindProviderTransient, StatusCode: http.StatusBadGateway, Message: msg, Err: err}
}

func providerPermanent(msg string, err error) *ServiceError {
	return &ServiceError{Kind: KindProviderPermanent, StatusCode: http.StatusBadGateway, Message: msg, Err: err}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Kind: KindInternal, StatusCode: http.StatusInternalServerError, Message: msg, Err: err}
}

// KindOf returns the kind of a ServiceError anywhere in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
