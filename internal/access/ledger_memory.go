package access

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	issued     bool
	link       string
	reservedAt time.Time
}

// MemoryLedger is a process-local ledger. Records are lost on restart and
// issued records are never evicted.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger whose reservations expire after ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		if e.issued {
			return ReservationIssued, nil
		}
		if now.Sub(e.reservedAt) < l.ttl {
			return ReservationBusy, nil
		}
	}
	l.entries[key] = memoryEntry{reservedAt: now}
	return ReservationAcquired, nil
}

func (l *MemoryLedger) Complete(_ context.Context, key, inviteLink string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = memoryEntry{issued: true, link: inviteLink, reservedAt: l.now()}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && !e.issued {
		delete(l.entries, key)
	}
	return nil
}
