package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/accessrelay/accessrelay/internal/access"
	"github.com/accessrelay/accessrelay/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP paths served by the relay.
const (
	PaymentWebhookPath  = "/webhook/payment"
	TelegramWebhookPath = "/webhook/telegram"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Payments    http.Handler
	Updates     http.Handler  // nil disables the chat update endpoint
	Ledger      access.Ledger // probed by /readyz when it implements access.Pinger
	RateLimiter *RateLimiter
	Version     string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", handleReadyz(deps.Ledger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", handleVersion(deps.Version))

	mux.Handle(PaymentWebhookPath, logging.Middleware(limiter.Middleware("payment", deps.Payments)))
	if deps.Updates != nil {
		mux.Handle(TelegramWebhookPath, logging.Middleware(deps.Updates))
	}
}

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
	}
}

// handleReadyz checks ledger connectivity (readiness probe).
func handleReadyz(ledger access.Ledger) http.HandlerFunc {
	pinger, _ := ledger.(access.Pinger)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				logger := logging.FromContext(ctx)
				logger.Warn().Err(err).Msg("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
