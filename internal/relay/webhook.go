package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/accessrelay/accessrelay/internal/access"
	relayerrors "github.com/accessrelay/accessrelay/internal/errors"
	"github.com/accessrelay/accessrelay/internal/logging"
	"github.com/accessrelay/accessrelay/internal/metrics"
	"github.com/accessrelay/accessrelay/internal/payload"
	"github.com/accessrelay/accessrelay/internal/signature"
	"github.com/rs/zerolog/log"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// AccessIssuer grants access for a verified notification.
type AccessIssuer interface {
	IssueAccess(ctx context.Context, n payload.Notification) (access.Result, error)
}

type webhookResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PaymentWebhookHandler handles payment provider notifications.
type PaymentWebhookHandler struct {
	verifier        *signature.Verifier
	issuer          AccessIssuer
	signatureHeader string
}

// NewPaymentWebhookHandler creates the payment notification handler.
func NewPaymentWebhookHandler(verifier *signature.Verifier, issuer AccessIssuer, signatureHeader string) *PaymentWebhookHandler {
	if signatureHeader == "" {
		signatureHeader = "Sign"
	}
	return &PaymentWebhookHandler{
		verifier:        verifier,
		issuer:          issuer,
		signatureHeader: signatureHeader,
	}
}

// ServeHTTP verifies the notification signature before the body is
// interpreted, then hands the payload to the issuer.
func (h *PaymentWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.NotificationsTotal.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
		metrics.NotificationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	logger := logging.FromContext(r.Context())

	if r.Method != http.MethodPost {
		outcome, status = "method_not_allowed", http.StatusMethodNotAllowed
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, status, webhookResponse{Status: "rejected", Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		outcome, status = string(relayerrors.KindMalformedPayload), http.StatusBadRequest
		logger.Warn().Err(err).Msg("Failed to read payment notification body")
		writeJSON(w, status, webhookResponse{Status: "rejected", Error: "failed to read request body"})
		return
	}

	if !h.verifier.Verify(rawBody, r.Header.Get(h.signatureHeader)) {
		outcome, status = string(relayerrors.KindSignatureInvalid), http.StatusForbidden
		logger.Warn().
			Str("remote", clientIP(r)).
			Int("body_bytes", len(rawBody)).
			Bool("signature_present", r.Header.Get(h.signatureHeader) != "").
			Msg("Rejected payment notification with invalid signature")
		writeJSON(w, status, webhookResponse{Status: "rejected", Error: "invalid signature"})
		return
	}

	notification, err := payload.Parse(rawBody, r.Header.Get("Content-Type"))
	if err != nil {
		err = relayerrors.Malformed("parse_notification", err)
		outcome, status = string(relayerrors.KindMalformedPayload), http.StatusBadRequest
		logger.Warn().Err(err).Msg("Rejected malformed payment notification")
		writeJSON(w, status, webhookResponse{Status: "rejected", Error: "invalid payload"})
		return
	}

	result, err := h.issuer.IssueAccess(r.Context(), notification)
	if err != nil {
		kind := relayerrors.KindOf(err)
		outcome, status = string(kind), relayerrors.HTTPStatus(kind)
		event := logger.Error()
		if status < http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.Err(err).
			Str("order_ref", notification.OrderRef).
			Str("kind", string(kind)).
			Bool("retryable", relayerrors.IsRetryableError(err)).
			Msg("Payment notification not fulfilled")
		writeJSON(w, status, webhookResponse{Status: "failed", Error: publicError(kind, err)})
		return
	}

	outcome = string(result.Outcome)
	switch result.Outcome {
	case access.OutcomeInFlight:
		status = http.StatusConflict
		writeJSON(w, status, webhookResponse{Status: outcome, Error: "another delivery for this order is in progress"})
	default:
		status = http.StatusOK
		writeJSON(w, status, webhookResponse{Status: outcome})
	}
}

// publicError is the message returned to the provider; it never carries
// upstream error text.
func publicError(kind relayerrors.Kind, err error) string {
	switch kind {
	case relayerrors.KindInvalidRecipient:
		switch {
		case errors.Is(err, payload.ErrMissingOrderRef):
			return "missing order_num"
		case errors.Is(err, payload.ErrNonNumericOrderRef):
			return "invalid order_num"
		}
		return "invalid recipient"
	case relayerrors.KindDelivery:
		return "recipient unreachable"
	case relayerrors.KindPlatform:
		return "platform error"
	}
	return "processing failed"
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("relay: encode webhook response")
	}
}
