// Package metrics defines the relay's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsTotal counts payment notifications by terminal outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessrelay_notifications_total",
			Help: "Total payment notifications by outcome and HTTP status",
		},
		[]string{"outcome", "status"}, // issued, status_ignored, signature_invalid, ...
	)

	// NotificationDuration tracks end-to-end webhook handling latency.
	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessrelay_notification_duration_seconds",
			Help:    "Payment notification handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// PlatformCallsTotal counts outbound chat platform calls.
	PlatformCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessrelay_platform_calls_total",
			Help: "Total chat platform calls by call and result",
		},
		[]string{"call", "result"}, // create_invite|send_message|revoke_invite, ok|error
	)

	// PlatformCallDuration tracks outbound chat platform latency.
	PlatformCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessrelay_platform_call_duration_seconds",
			Help:    "Chat platform call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"call"},
	)

	// LedgerOperationsTotal counts idempotency ledger operations by result.
	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessrelay_ledger_operations_total",
			Help: "Total idempotency ledger operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// BotUpdatesTotal counts inbound chat updates by command.
	BotUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessrelay_bot_updates_total",
			Help: "Total chat updates handled by command and result",
		},
		[]string{"command", "result"},
	)

	// RateLimitedTotal counts requests rejected by the per-IP limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessrelay_rate_limited_total",
			Help: "Total requests rejected by the rate limiter by route",
		},
		[]string{"route"},
	)
)

// RecordPlatformCall records the result and latency of one platform call.
func RecordPlatformCall(call string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PlatformCallsTotal.WithLabelValues(call, result).Inc()
	PlatformCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

// RecordLedger records one ledger operation.
func RecordLedger(op, result string) {
	LedgerOperationsTotal.WithLabelValues(op, result).Inc()
}
