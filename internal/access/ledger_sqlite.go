package access

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	grantStateReserved = "reserved"
	grantStateIssued   = "issued"
)

// SQLiteLedger persists grant records so de-duplication survives restarts.
type SQLiteLedger struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteLedger opens (or creates) the grants database in dir.
func NewSQLiteLedger(dir string, ttl time.Duration) (*SQLiteLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}

	dbPath := filepath.Join(dir, "grants.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLedger{db: db, ttl: ttl, now: time.Now}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grants (
		order_key    TEXT PRIMARY KEY,
		state        TEXT NOT NULL,
		invite_link  TEXT NOT NULL DEFAULT '',
		reserved_at  INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_grants_state ON grants(state);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) Reserve(ctx context.Context, key string) (Reservation, error) {
	now := l.now().UTC()
	staleBefore := now.Add(-l.ttl).UnixMilli()

	// Reclaim an expired reservation, or insert a fresh one. Only one of
	// the two statements can affect a row for a given key.
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO grants (order_key, state, invite_link, reserved_at, updated_at)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT(order_key) DO UPDATE SET
			reserved_at = excluded.reserved_at,
			updated_at  = excluded.updated_at
		WHERE grants.state = ? AND grants.reserved_at < ?`,
		key, grantStateReserved, now.UnixMilli(), now.UnixMilli(),
		grantStateReserved, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("reserve grant %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ReservationAcquired, nil
	}

	var state string
	err = l.db.QueryRowContext(ctx, `SELECT state FROM grants WHERE order_key = ?`, key).Scan(&state)
	if err != nil {
		return 0, fmt.Errorf("read grant %s: %w", key, err)
	}
	if state == grantStateIssued {
		return ReservationIssued, nil
	}
	return ReservationBusy, nil
}

func (l *SQLiteLedger) Complete(ctx context.Context, key, inviteLink string) error {
	now := l.now().UTC().UnixMilli()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO grants (order_key, state, invite_link, reserved_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_key) DO UPDATE SET
			state       = excluded.state,
			invite_link = excluded.invite_link,
			updated_at  = excluded.updated_at`,
		key, grantStateIssued, inviteLink, now, now,
	)
	if err != nil {
		return fmt.Errorf("complete grant %s: %w", key, err)
	}
	return nil
}

func (l *SQLiteLedger) Release(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM grants WHERE order_key = ? AND state = ?`, key, grantStateReserved)
	if err != nil {
		return fmt.Errorf("release grant %s: %w", key, err)
	}
	return nil
}
