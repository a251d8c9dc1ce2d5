package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func TestNewWithoutDatabaseURLIsDisabled(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	require.False(t, s.IsEnabled())

	// every method must be a safe no-op when disabled
	require.NoError(t, s.SavePosition(coretypes.Position{Symbol: "rb2501"}))
	require.NoError(t, s.SaveGuardianMode(coretypes.Running, "ok", time.Now()))
	require.NoError(t, s.ArchiveOrder(coretypes.OrderContext{}))

	positions, err := s.LoadPositions()
	require.NoError(t, err)
	require.Nil(t, positions)

	mode, _, _, ok, err := s.LoadGuardianMode()
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, mode)
}

func TestSavePositionUpserts(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := &Store{db: mockDB, enabled: true}

	pos := coretypes.Position{
		Symbol:          "rb2501",
		LongQty:         5,
		LongAvgPrice:    decimal.NewFromInt(3800),
		LongTodayQty:    5,
		ShortQty:        0,
		ShortAvgPrice:   decimal.Zero,
		ShortTodayQty:   0,
		RealisedPnL:     decimal.Zero,
		LastReconcileTs: time.Now(),
	}

	mock.ExpectExec("INSERT INTO positions").
		WithArgs(pos.Symbol, pos.LongQty, pos.LongAvgPrice, pos.LongTodayQty,
			pos.ShortQty, pos.ShortAvgPrice, pos.ShortTodayQty, pos.RealisedPnL, pos.LastReconcileTs).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SavePosition(pos))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPositionsScansRows(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := &Store{db: mockDB, enabled: true}

	rows := sqlmock.NewRows([]string{"symbol", "long_qty", "long_avg_price", "long_today_qty",
		"short_qty", "short_avg_price", "short_today_qty", "realised_pnl", "last_reconcile_ts"}).
		AddRow("rb2501", int64(5), "3800", int64(5), int64(0), "0", int64(0), "0", time.Now())

	mock.ExpectQuery("SELECT symbol, long_qty").WillReturnRows(rows)

	positions, err := s.LoadPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "rb2501", positions[0].Symbol)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndLoadGuardianMode(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := &Store{db: mockDB, enabled: true}
	now := time.Now()

	mock.ExpectExec("INSERT INTO guardian_mode").
		WithArgs(coretypes.ReduceOnly.String(), "margin warning breached", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.SaveGuardianMode(coretypes.ReduceOnly, "margin warning breached", now))

	rows := sqlmock.NewRows([]string{"mode", "reason", "set_at"}).
		AddRow(coretypes.ReduceOnly.String(), "margin warning breached", now)
	mock.ExpectQuery("SELECT mode, reason, set_at").WillReturnRows(rows)

	mode, reason, setAt, ok, err := s.LoadGuardianMode()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, coretypes.ReduceOnly.String(), mode)
	require.Equal(t, "margin warning breached", reason)
	require.WithinDuration(t, now, setAt, time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveOrderIsIdempotentOnConflict(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := &Store{db: mockDB, enabled: true}

	oc := coretypes.OrderContext{
		State:        coretypes.Filled,
		FilledQty:    5,
		FilledAmount: decimal.NewFromInt(19000),
		CreateTs:     time.Now(),
		LastUpdateTs: time.Now(),
	}
	oc.Intent.Symbol = "rb2501"

	mock.ExpectExec("INSERT INTO order_archive").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.ArchiveOrder(oc))

	// Archiving the same order again hits ON CONFLICT DO NOTHING: no row is
	// written and no error comes back.
	mock.ExpectExec(`(?s)INSERT INTO order_archive.*ON CONFLICT \(local_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.ArchiveOrder(oc))
	require.NoError(t, mock.ExpectationsWereMet())
}
