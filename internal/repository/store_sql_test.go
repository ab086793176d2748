package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := test.NewNullLogger()
	return NewStore(db, 3*time.Second, logger), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectLockPrologue(mock sqlmock.Sqlmock, requestID string) {
	mock.ExpectExec(q("SET SESSION innodb_lock_wait_timeout = 3")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).
		WithArgs(lockName(requestID), 3).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(1))
}

func expectLockEpilogue(mock sqlmock.Sqlmock, requestID string) {
	mock.ExpectExec(q("SELECT RELEASE_LOCK(?)")).WithArgs(lockName(requestID)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("SET SESSION innodb_lock_wait_timeout = DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestBidTransactionsReadCommitted(t *testing.T) {
	// the highest bid read after the lot lock wait must see bids
	// committed during the wait
	assert.Equal(t, sql.LevelReadCommitted, bidTxOptions.Isolation)
}

func TestWithRequestLockCommitsThenReleases(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	expectLockPrologue(mock, "r-1")
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT UTC_TIMESTAMP(3)")).WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(now))
	mock.ExpectCommit()
	expectLockEpilogue(mock, "r-1")

	var got time.Time
	err := st.WithRequestLock(context.Background(), "r-1", func(ctx context.Context, tx bidding.Tx) error {
		var err error
		got, err = tx.Now(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, now, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRequestLockRollsBackRejections(t *testing.T) {
	st, mock := newMockStore(t)

	expectLockPrologue(mock, "r-2")
	mock.ExpectBegin()
	mock.ExpectRollback()
	expectLockEpilogue(mock, "r-2")

	err := st.WithRequestLock(context.Background(), "r-2", func(context.Context, bidding.Tx) error {
		return bidding.ErrLotClosed
	})
	require.ErrorIs(t, err, bidding.ErrLotClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRequestLockTimesOut(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(q("SET SESSION innodb_lock_wait_timeout = 3")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).
		WithArgs(lockName("busy"), 3).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(0))
	mock.ExpectExec(q("SET SESSION innodb_lock_wait_timeout = DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))

	called := false
	err := st.WithRequestLock(context.Background(), "busy", func(context.Context, bidding.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, bidding.ErrLockTimeout)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockWaitTimeoutIsRetryable(t *testing.T) {
	st, mock := newMockStore(t)

	expectLockPrologue(mock, "r-3")
	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE OF ai")).
		WithArgs(100).
		WillReturnError(&mysql.MySQLError{Number: erLockWaitTimeout, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()
	expectLockEpilogue(mock, "r-3")

	err := st.WithRequestLock(context.Background(), "r-3", func(ctx context.Context, tx bidding.Tx) error {
		_, err := tx.LockLot(ctx, 100)
		return err
	})
	require.ErrorIs(t, err, bidding.ErrLockTimeout)
	var be *bidding.Error
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Retryable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func beginBidTx(t *testing.T, mock sqlmock.Sqlmock, st *Store) *bidTx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := st.db.Begin()
	require.NoError(t, err)
	return &bidTx{tx: tx}
}

func TestLockLotFallsBackToAuctionWindow(t *testing.T) {
	st, mock := newMockStore(t)
	bt := beginBidTx(t, mock, st)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectQuery(q("FROM auction_items ai")).WithArgs(100).WillReturnRows(sqlmock.NewRows([]string{
		"id", "auction_id", "item_id", "starting_bid", "start_time", "end_time", "is_deleted",
		"tenant_id", "status", "bid_increment", "a_start", "a_end",
	}).AddRow(100, 10, 1000, 5000, nil, nil, false, 1, "ACTIVE", 100, start, end))

	l, err := bt.LockLot(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, model.AuctionActive, l.AuctionStatus)
	assert.Nil(t, l.EndTime)
	s, e := l.EffectiveWindow()
	assert.Equal(t, start, s)
	assert.Equal(t, end, e)

	mock.ExpectQuery(q("FROM auction_items ai")).WithArgs(101).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	l, err = bt.LockLot(context.Background(), 101)
	require.NoError(t, err)
	assert.Nil(t, l)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBidReportsDuplicate(t *testing.T) {
	st, mock := newMockStore(t)
	bt := beginBidTx(t, mock, st)
	b := &model.Bid{LotID: 100, AuctionID: 10, BidderID: 1, TenantID: 1, OfferedPrice: 5000, RequestID: "r", BidTime: time.Now().UTC()}

	mock.ExpectExec(q("ON DUPLICATE KEY UPDATE request_id = request_id")).
		WithArgs(100, 10, 1, 1, 5000, "r", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))
	inserted, err := bt.InsertBid(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, uint64(42), b.ID)

	mock.ExpectExec(q("INSERT INTO bids")).WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = bt.InsertBid(context.Background(), &model.Bid{RequestID: "r"})
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtensionsNeverShrink(t *testing.T) {
	st, mock := newMockStore(t)
	bt := beginBidTx(t, mock, st)
	end := time.Date(2026, 6, 1, 12, 0, 30, 0, time.UTC)

	mock.ExpectExec(q("UPDATE auction_items SET end_time = GREATEST(COALESCE(end_time, ?), ?) WHERE id = ?")).
		WithArgs(end, end, 100).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE auctions SET end_time = GREATEST(end_time, ?) WHERE id = ?")).
		WithArgs(end, 10).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, bt.ExtendLotEnd(context.Background(), 100, end))
	require.NoError(t, bt.ExtendAuctionEnd(context.Background(), 10, end))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHighestBidOrdersTiesByTime(t *testing.T) {
	st, mock := newMockStore(t)
	bt := beginBidTx(t, mock, st)

	mock.ExpectQuery(q("ORDER BY offered_price DESC, bid_time ASC, id ASC")).
		WithArgs(100).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	b, err := bt.HighestBid(context.Background(), 100)
	require.NoError(t, err)
	assert.Nil(t, b)
	require.NoError(t, mock.ExpectationsWereMet())
}

var bidCols = []string{"id", "auction_item_id", "auction_id", "bidder_id", "tenant_id", "offered_price", "request_id", "bid_time", "is_deleted"}

func TestCompleteSellsWinningLots(t *testing.T) {
	st, mock := newMockStore(t)
	at := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id, item_id FROM auction_items WHERE auction_id = ? AND is_deleted = 0 ORDER BY id FOR UPDATE")).
		WithArgs(10).WillReturnRows(sqlmock.NewRows([]string{"id", "item_id"}).AddRow(100, 1000).AddRow(101, 1001))
	mock.ExpectQuery(q("FROM auctions WHERE id = ? AND is_deleted = 0 FOR UPDATE")).
		WithArgs(10).WillReturnRows(sqlmock.NewRows([]string{"status", "due"}).AddRow("ACTIVE", true))
	mock.ExpectQuery(q("FROM bids")).WithArgs(100).
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow(7, 100, 10, 3, 1, 2500, "w", at, false))
	mock.ExpectExec(q("UPDATE items SET status = 'SOLD'")).WithArgs(2500, 3, 1000).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO item_audit_logs")).WithArgs(1000, 10, 3, 2500).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(q("FROM bids")).WithArgs(101).WillReturnRows(sqlmock.NewRows(bidCols))
	mock.ExpectExec(q("UPDATE auctions SET status = 'COMPLETED' WHERE id = ? AND status = 'ACTIVE'")).
		WithArgs(10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	winners, changed, err := st.Complete(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []model.Winner{{LotID: 100, ItemID: 1000, BidID: 7, BuyerID: 3, Price: 2500}}, winners)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSkipsAuctionAlreadyClosed(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id, item_id FROM auction_items")).
		WithArgs(10).WillReturnRows(sqlmock.NewRows([]string{"id", "item_id"}).AddRow(100, 1000))
	mock.ExpectQuery(q("FROM auctions WHERE id = ? AND is_deleted = 0 FOR UPDATE")).
		WithArgs(10).WillReturnRows(sqlmock.NewRows([]string{"status", "due"}).AddRow("COMPLETED", true))
	mock.ExpectRollback()

	winners, changed, err := st.Complete(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, winners)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateIsConditional(t *testing.T) {
	st, mock := newMockStore(t)
	stmt := q("UPDATE auctions SET status = 'ACTIVE' WHERE id = ? AND status = 'PENDING' AND is_deleted = 0")
	mock.ExpectExec(stmt).WithArgs(10).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs(10).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := st.Activate(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.Activate(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureRegistrationUpserts(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(q("ON DUPLICATE KEY UPDATE user_id = user_id")).WithArgs(5, 10).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, st.EnsureRegistration(context.Background(), 5, 10))
	require.NoError(t, mock.ExpectationsWereMet())
}
