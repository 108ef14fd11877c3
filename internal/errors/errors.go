package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrPlatform             = errors.New("platform error")
	ErrDelivery             = errors.New("delivery failed")
	ErrRecipientUnreachable = errors.New("recipient unreachable")
)

// Kind represents the category of a rejected or failed notification.
type Kind string

const (
	KindSignatureInvalid Kind = "signature_invalid"
	KindMalformedPayload Kind = "malformed_payload"
	KindInvalidRecipient Kind = "invalid_recipient"
	KindPlatform         Kind = "platform"
	KindDelivery         Kind = "delivery"
	KindUnknown          Kind = "unknown"
)

// AccessError is a structured error for the notification pipeline.
type AccessError struct {
	Kind     Kind
	Op       string // Operation that failed (e.g., "create_invite", "send_message")
	OrderRef string // Order reference from the notification, if known
	Err      error  // Underlying error
}

func (e *AccessError) Error() string {
	if e.OrderRef != "" {
		return fmt.Sprintf("%s failed for order %s: %v", e.Op, e.OrderRef, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *AccessError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrSignatureInvalid:
		return e.Kind == KindSignatureInvalid
	case ErrMalformedPayload:
		return e.Kind == KindMalformedPayload
	case ErrInvalidRecipient:
		return e.Kind == KindInvalidRecipient
	case ErrPlatform:
		return e.Kind == KindPlatform
	case ErrDelivery:
		return e.Kind == KindDelivery
	}

	return errors.Is(e.Err, target)
}

// Retryable reports whether the provider should redeliver the notification.
// Only downstream failures are worth another attempt; a bad signature or
// payload will fail the same way every time.
func (e *AccessError) Retryable() bool {
	return e.Kind == KindPlatform || e.Kind == KindDelivery
}

// New creates a new AccessError
func New(kind Kind, op, orderRef string, err error) *AccessError {
	return &AccessError{
		Kind:     kind,
		Op:       op,
		OrderRef: orderRef,
		Err:      err,
	}
}

// Helper functions

// Malformed wraps a decode failure.
func Malformed(op string, err error) error {
	return New(KindMalformedPayload, op, "", err)
}

// InvalidRecipient wraps an order reference that cannot address a chat.
func InvalidRecipient(orderRef string, err error) error {
	return New(KindInvalidRecipient, "extract_recipient", orderRef, err)
}

// Platform wraps a transient platform or ledger failure.
func Platform(op, orderRef string, err error) error {
	return New(KindPlatform, op, orderRef, err)
}

// Delivery wraps a failure to hand a minted invite to its recipient.
func Delivery(orderRef string, err error) error {
	return New(KindDelivery, "send_message", orderRef, err)
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var accErr *AccessError
	if errors.As(err, &accErr) {
		return accErr.Kind
	}
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrMalformedPayload):
		return KindMalformedPayload
	case errors.Is(err, ErrInvalidRecipient):
		return KindInvalidRecipient
	}
	return KindUnknown
}

// HTTPStatus maps an error kind to the status returned to the payment provider.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindSignatureInvalid:
		return http.StatusForbidden
	case KindMalformedPayload, KindInvalidRecipient:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryableError checks if an error should be retried by the provider
func IsRetryableError(err error) bool {
	var accErr *AccessError
	if errors.As(err, &accErr) {
		return accErr.Retryable()
	}
	return false
}
