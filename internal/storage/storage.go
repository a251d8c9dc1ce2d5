// Package storage implements the durable side of PositionTracker, Guardian
// mode, and terminal order archival. Follows storage.Database's
// database/sql-plus-lib/pq shape and enabled-flag graceful degradation:
// a process with no DATABASE_URL runs perfectly well in memory-only mode,
// it just can't survive a restart with its position book intact.
package storage

import (
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - position / guardian-mode / order-archive persistence
// ═══════════════════════════════════════════════════════════════════════════════

// Store is the durable backing for position.Tracker, Guardian's last known
// mode, and a terminal OrderContext archive for post-hoc inspection.
type Store struct {
	db      *sql.DB
	enabled bool
}

// New opens a connection pool against DATABASE_URL. An empty URL degrades
// to a disabled store rather than an error — paper runs and tests routinely
// have no database at all.
func New(databaseURL string) (*Store, error) {
	if databaseURL == "" {
		log.Warn().Msg("storage: DATABASE_URL not set, running without persistence")
		return &Store{enabled: false}, nil
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db, enabled: true}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	log.Info().Msg("💾 storage connected")
	return s, nil
}

func (s *Store) migrate() error {
	if !s.enabled {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		long_qty BIGINT NOT NULL DEFAULT 0,
		long_avg_price NUMERIC(18,6) NOT NULL DEFAULT 0,
		long_today_qty BIGINT NOT NULL DEFAULT 0,
		short_qty BIGINT NOT NULL DEFAULT 0,
		short_avg_price NUMERIC(18,6) NOT NULL DEFAULT 0,
		short_today_qty BIGINT NOT NULL DEFAULT 0,
		realised_pnl NUMERIC(18,6) NOT NULL DEFAULT 0,
		last_reconcile_ts TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS guardian_mode (
		id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
		mode TEXT NOT NULL,
		reason TEXT NOT NULL,
		set_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_archive (
		local_id TEXT PRIMARY KEY,
		order_ref TEXT,
		order_sys_id TEXT,
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		filled_qty BIGINT NOT NULL,
		filled_amount NUMERIC(18,6) NOT NULL,
		retry_count INT NOT NULL,
		chase_count INT NOT NULL,
		create_ts TIMESTAMPTZ NOT NULL,
		last_update_ts TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_archive_symbol ON order_archive(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePosition upserts one symbol's position. Implements position.Store.
func (s *Store) SavePosition(p coretypes.Position) error {
	if !s.enabled {
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO positions (symbol, long_qty, long_avg_price, long_today_qty,
			short_qty, short_avg_price, short_today_qty, realised_pnl, last_reconcile_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			long_qty = $2, long_avg_price = $3, long_today_qty = $4,
			short_qty = $5, short_avg_price = $6, short_today_qty = $7,
			realised_pnl = $8, last_reconcile_ts = $9
	`, p.Symbol, p.LongQty, p.LongAvgPrice, p.LongTodayQty,
		p.ShortQty, p.ShortAvgPrice, p.ShortTodayQty, p.RealisedPnL, p.LastReconcileTs)
	if err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("storage: save position failed")
	}
	return err
}

// LoadPositions returns every persisted position. Implements position.Store.
func (s *Store) LoadPositions() ([]coretypes.Position, error) {
	if !s.enabled {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT symbol, long_qty, long_avg_price, long_today_qty,
			short_qty, short_avg_price, short_today_qty, realised_pnl, last_reconcile_ts
		FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coretypes.Position
	for rows.Next() {
		var p coretypes.Position
		if err := rows.Scan(&p.Symbol, &p.LongQty, &p.LongAvgPrice, &p.LongTodayQty,
			&p.ShortQty, &p.ShortAvgPrice, &p.ShortTodayQty, &p.RealisedPnL, &p.LastReconcileTs); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveGuardianMode persists Guardian's current mode so a restart can resume
// REDUCE_ONLY/HALTED/MANUAL rather than silently reopening in RUNNING.
func (s *Store) SaveGuardianMode(mode coretypes.GuardianState, reason string, setAt time.Time) error {
	if !s.enabled {
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO guardian_mode (id, mode, reason, set_at)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET mode = $1, reason = $2, set_at = $3
	`, mode.String(), reason, setAt)
	return err
}

// LoadGuardianMode returns the last persisted mode, or ok=false if none was
// ever saved (a fresh deployment always starts INIT regardless).
func (s *Store) LoadGuardianMode() (mode string, reason string, setAt time.Time, ok bool, err error) {
	if !s.enabled {
		return "", "", time.Time{}, false, nil
	}

	row := s.db.QueryRow(`SELECT mode, reason, set_at FROM guardian_mode WHERE id`)
	if scanErr := row.Scan(&mode, &reason, &setAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", time.Time{}, false, nil
		}
		return "", "", time.Time{}, false, scanErr
	}
	return mode, reason, setAt, true, nil
}

// ArchiveOrder records a terminal OrderContext for post-hoc inspection —
// never used on the hot path, only once an order has reached a terminal
// state and AOE is done with it.
func (s *Store) ArchiveOrder(oc coretypes.OrderContext) error {
	if !s.enabled {
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO order_archive (local_id, order_ref, order_sys_id, symbol, state,
			filled_qty, filled_amount, retry_count, chase_count, create_ts, last_update_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (local_id) DO NOTHING
	`, oc.LocalID.String(), oc.OrderRef, oc.OrderSysID, oc.Intent.Symbol, oc.State.String(),
		oc.FilledQty, oc.FilledAmount, oc.RetryCount, oc.ChaseCount, oc.CreateTs, oc.LastUpdateTs)
	if err != nil {
		log.Error().Err(err).Str("local_id", oc.LocalID.String()).Msg("storage: archive order failed")
	}
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// IsEnabled reports whether this store is backed by a live database.
func (s *Store) IsEnabled() bool {
	return s.enabled
}

// DatabaseURLFromEnv is a thin convenience wrapper returning the
// DATABASE_URL variable; cmd/coreengine reads it through internal/config
// instead, and nothing in this module calls this wrapper.
func DatabaseURLFromEnv() string {
	return os.Getenv("DATABASE_URL")
}
