package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/bidding"
)

func TestLockName(t *testing.T) {
	a := lockName("req-1")
	assert.Equal(t, a, lockName("req-1"))
	assert.NotEqual(t, a, lockName("req-2"))
	assert.Regexp(t, `^bid:[0-9a-f]{48}$`, a)
	assert.LessOrEqual(t, len(lockName(string(make([]byte, 64)))), 64)
}

func TestClassify(t *testing.T) {
	for _, n := range []uint16{erLockWaitTimeout, erLockDeadlock} {
		err := classify(fmt.Errorf("lock lot: %w", &mysql.MySQLError{Number: n, Message: "lock"}))
		require.ErrorIs(t, err, bidding.ErrLockTimeout, "error %d", n)
		var be *bidding.Error
		require.True(t, errors.As(err, &be))
		assert.True(t, be.Retryable)
	}

	dup := &mysql.MySQLError{Number: 1062, Message: "duplicate"}
	assert.Equal(t, dup, classify(dup))
	assert.NoError(t, classify(nil))

	rejected := fmt.Errorf("wrapped: %w", bidding.ErrLotClosed)
	assert.Equal(t, rejected, classify(rejected))
}

func TestLockSeconds(t *testing.T) {
	assert.Equal(t, 5, NewStore(nil, 0, nil).lockSeconds())
	assert.Equal(t, 2, NewStore(nil, 1500*time.Millisecond, nil).lockSeconds())
	assert.Equal(t, 1, NewStore(nil, time.Millisecond, nil).lockSeconds())
}
