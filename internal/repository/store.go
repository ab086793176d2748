package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/iliyamo/live-auction/internal/bidding"
)

// Store implements the persistence contracts on one connection pool.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	log         logrus.FieldLogger
}

// NewStore binds the store to db.  lockTimeout bounds both the request
// lock wait and InnoDB row lock waits inside bid transactions.
func NewStore(db *sql.DB, lockTimeout time.Duration, log logrus.FieldLogger) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, lockTimeout: lockTimeout, log: log.WithField("component", "repository")}
}

// lockName hashes a request id into a GET_LOCK name.  MySQL caps lock
// names at 64 characters; "bid:" plus 48 hex digits stays under it.
func lockName(requestID string) string {
	sum := blake2b.Sum256([]byte(requestID))
	return "bid:" + hex.EncodeToString(sum[:24])
}

func (s *Store) lockSeconds() int {
	return int(math.Ceil(s.lockTimeout.Seconds()))
}

// bidTxOptions runs bid transactions at READ COMMITTED.  Under the
// default REPEATABLE READ the snapshot is fixed by the first read, which
// happens before the lot row lock is granted, so the highest bid read
// after the wait would miss bids committed meanwhile.
var bidTxOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// WithRequestLock implements bidding.Store.  The advisory lock lives on
// a dedicated connection so the same session begins the transaction and
// later releases the lock, after commit or rollback.  Session settings
// are restored before the connection goes back to the pool.
func (s *Store) WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx bidding.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	secs := s.lockSeconds()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)); err != nil {
		return fmt.Errorf("set lock wait timeout: %w", err)
	}
	defer s.cleanup(ctx, conn, "SET SESSION innodb_lock_wait_timeout = DEFAULT", "reset lock wait timeout")

	name := lockName(requestID)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, secs).Scan(&got); err != nil {
		return classify(fmt.Errorf("get request lock: %w", err))
	}
	if !got.Valid || got.Int64 != 1 {
		return fmt.Errorf("request lock %s: %w", name, bidding.ErrLockTimeout)
	}
	defer s.cleanup(ctx, conn, "SELECT RELEASE_LOCK(?)", "release request lock", name)

	tx, err := conn.BeginTx(ctx, bidTxOptions)
	if err != nil {
		return classify(fmt.Errorf("begin bid tx: %w", err))
	}
	if err := fn(ctx, &bidTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit bid tx: %w", err))
	}
	return nil
}

// cleanup runs a session statement that must happen even when the
// request context is already cancelled.
func (s *Store) cleanup(ctx context.Context, conn *sql.Conn, query, what string, args ...any) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(rctx, query, args...); err != nil {
		s.log.WithError(err).WithField("statement", what).Warn("session cleanup failed")
	}
}
