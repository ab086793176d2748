package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/live-auction/internal/model"
)

// Auction returns a non-deleted auction, or nil when there is none.
func (s *Store) Auction(ctx context.Context, auctionID uint64) (*model.Auction, error) {
	a, err := scanAuction(s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ? AND is_deleted = 0`, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %d: %w", auctionID, err)
	}
	return a, nil
}

// IsAuctionManager is true for assigned managers and for the creator.
func (s *Store) IsAuctionManager(ctx context.Context, auctionID, userID uint64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS(SELECT 1 FROM auction_managers WHERE auction_id = ? AND user_id = ?)
            OR EXISTS(SELECT 1 FROM auctions WHERE id = ? AND created_by = ?)`,
		auctionID, userID, auctionID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check manager: %w", err)
	}
	return ok, nil
}

// EnsureRegistration registers a user for an auction; repeats are no-ops.
func (s *Store) EnsureRegistration(ctx context.Context, userID, auctionID uint64) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO auction_registrations (user_id, auction_id, created_at)
        VALUES (?, ?, UTC_TIMESTAMP())
        ON DUPLICATE KEY UPDATE user_id = user_id`, userID, auctionID)
	if err != nil {
		return fmt.Errorf("register user %d for auction %d: %w", userID, auctionID, err)
	}
	return nil
}
