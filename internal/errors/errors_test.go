package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessErrorIsMatchesKindSentinels(t *testing.T) {
	cause := errors.New("boom")
	err := Platform("create_invite", "42", cause)

	assert.True(t, errors.Is(err, ErrPlatform))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDelivery))
	assert.Equal(t, "create_invite failed for order 42: boom", err.Error())
}

func TestAccessErrorUnwrapsThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("handle notification: %w", Delivery("7", ErrRecipientUnreachable))

	assert.Equal(t, KindDelivery, KindOf(err))
	assert.True(t, errors.Is(err, ErrRecipientUnreachable))
	assert.True(t, IsRetryableError(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"signature", New(KindSignatureInvalid, "verify", "", ErrSignatureInvalid), KindSignatureInvalid},
		{"bare sentinel", fmt.Errorf("wrap: %w", ErrMalformedPayload), KindMalformedPayload},
		{"recipient", InvalidRecipient("abc", errors.New("not numeric")), KindInvalidRecipient},
		{"plain", errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{"", http.StatusOK},
		{KindSignatureInvalid, http.StatusForbidden},
		{KindMalformedPayload, http.StatusBadRequest},
		{KindInvalidRecipient, http.StatusBadRequest},
		{KindPlatform, http.StatusInternalServerError},
		{KindDelivery, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestRetryableOnlyForDownstreamFailures(t *testing.T) {
	assert.False(t, IsRetryableError(Malformed("decode", errors.New("x"))))
	assert.False(t, IsRetryableError(InvalidRecipient("0", errors.New("zero"))))
	assert.True(t, IsRetryableError(Platform("ledger_reserve", "1", errors.New("down"))))
	assert.False(t, IsRetryableError(errors.New("plain")))
}
