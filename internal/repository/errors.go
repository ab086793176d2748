// Package repository is the MySQL implementation of the bidding,
// scheduler and realtime store contracts.  Sentinel values here let
// higher layers tell failure scenarios apart without inspecting driver
// errors.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/live-auction/internal/bidding"
)

// ErrNotFound is returned when a row the caller names does not exist.
var ErrNotFound = errors.New("not found")

// MySQL server error numbers that mean "lock wait gave up".
const (
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// classify turns lock wait failures into bidding.ErrLockTimeout so the
// bidder is told to retry with the same request id.  Other errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *bidding.Error
	if errors.As(err, &be) {
		return err
	}
	if isLockTimeout(err) {
		return fmt.Errorf("%w: %w", bidding.ErrLockTimeout, err)
	}
	return err
}

func isLockTimeout(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == erLockWaitTimeout || me.Number == erLockDeadlock
}
