package access

import (
	"context"
	"time"
)

// Reservation is the result of trying to claim an order for issuance.
type Reservation int

const (
	// ReservationAcquired means the caller owns the order and must Complete or Release it.
	ReservationAcquired Reservation = iota
	// ReservationIssued means an invite was already delivered for the order.
	ReservationIssued
	// ReservationBusy means another request holds an unexpired reservation.
	ReservationBusy
)

func (r Reservation) String() string {
	switch r {
	case ReservationAcquired:
		return "acquired"
	case ReservationIssued:
		return "issued"
	case ReservationBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// DefaultReservationTTL bounds how long a crashed request can hold an order.
const DefaultReservationTTL = 2 * time.Minute

// Ledger records which orders have been granted access.
type Ledger interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key, inviteLink string) error
	Release(ctx context.Context, key string) error
}

// Pinger is implemented by ledgers backed by an external store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NopLedger never de-duplicates; every notification mints a fresh invite.
type NopLedger struct{}

func (NopLedger) Reserve(context.Context, string) (Reservation, error) {
	return ReservationAcquired, nil
}

func (NopLedger) Complete(context.Context, string, string) error { return nil }

func (NopLedger) Release(context.Context, string) error { return nil }
