package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
)

const auctionColumns = `id, tenant_id, title, start_time, end_time, bid_increment, status, type, created_by, is_deleted`

func scanAuction(row rowScanner) (*model.Auction, error) {
	var a model.Auction
	err := row.Scan(&a.ID, &a.TenantID, &a.Title, &a.StartTime, &a.EndTime, &a.BidIncrement, &a.Status, &a.Type, &a.CreatedBy, &a.IsDeleted)
	if err != nil {
		return nil, err
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return &a, nil
}

// Now returns the database clock.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return storeNow(ctx, s.db)
}

// DueToStart lists PENDING auctions whose start has passed.
func (s *Store) DueToStart(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return s.listAuctions(ctx, `status = 'PENDING' AND start_time <= ?`, now)
}

// DueToClose lists ACTIVE auctions whose end has passed.
func (s *Store) DueToClose(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return s.listAuctions(ctx, `status = 'ACTIVE' AND end_time <= ?`, now)
}

func (s *Store) listAuctions(ctx context.Context, where string, args ...any) ([]model.Auction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE is_deleted = 0 AND `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Activate flips a PENDING auction to ACTIVE.  The status guard makes a
// repeated call a no-op.
func (s *Store) Activate(ctx context.Context, auctionID uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET status = 'ACTIVE' WHERE id = ? AND status = 'PENDING' AND is_deleted = 0`, auctionID)
	if err != nil {
		return false, fmt.Errorf("activate auction %d: %w", auctionID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Complete closes one auction in a single transaction.  Lot rows are
// locked before the auction row, the same order a bid takes them, and
// the auction is re-checked under its lock.
func (s *Store) Complete(ctx context.Context, auctionID uint64) (winners []model.Winner, changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil || !changed {
			_ = tx.Rollback()
		}
	}()

	type lotRow struct{ id, itemID uint64 }
	rows, err := tx.QueryContext(ctx,
		`SELECT id, item_id FROM auction_items WHERE auction_id = ? AND is_deleted = 0 ORDER BY id FOR UPDATE`, auctionID)
	if err != nil {
		return nil, false, classify(fmt.Errorf("lock lots: %w", err))
	}
	var lots []lotRow
	for rows.Next() {
		var l lotRow
		if err := rows.Scan(&l.id, &l.itemID); err != nil {
			rows.Close()
			return nil, false, err
		}
		lots = append(lots, l)
	}
	if err := rows.Close(); err != nil {
		return nil, false, err
	}

	var (
		status model.AuctionStatus
		due    bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, end_time <= UTC_TIMESTAMP(3) FROM auctions WHERE id = ? AND is_deleted = 0 FOR UPDATE`, auctionID,
	).Scan(&status, &due)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(fmt.Errorf("lock auction: %w", err))
	}
	if status != model.AuctionActive || !due {
		return nil, false, nil
	}

	for _, l := range lots {
		best, err := highestBid(ctx, tx, l.id)
		if err != nil {
			return nil, false, err
		}
		if best == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET status = 'SOLD', sold_price = ?, buyer_id = ? WHERE id = ?`,
			best.OfferedPrice, best.BidderID, l.itemID); err != nil {
			return nil, false, fmt.Errorf("mark item %d sold: %w", l.itemID, err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO item_audit_logs (item_id, action, auction_id, buyer_id, price, created_at)
            VALUES (?, 'SOLD', ?, ?, ?, UTC_TIMESTAMP(3))`,
			l.itemID, auctionID, best.BidderID, best.OfferedPrice); err != nil {
			return nil, false, fmt.Errorf("audit item %d: %w", l.itemID, err)
		}
		winners = append(winners, model.Winner{LotID: l.id, ItemID: l.itemID, BidID: best.ID, BuyerID: best.BidderID, Price: best.OfferedPrice})
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE auctions SET status = 'COMPLETED' WHERE id = ? AND status = 'ACTIVE'`, auctionID); err != nil {
		return nil, false, fmt.Errorf("complete auction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, classify(err)
	}
	return winners, true, nil
}

// HasTransitionWithin reports whether any start or end is due by
// now+horizon.
func (s *Store) HasTransitionWithin(ctx context.Context, now time.Time, horizon time.Duration) (bool, error) {
	limit := now.Add(horizon)
	var ok bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM auctions
            WHERE is_deleted = 0
              AND ((status = 'PENDING' AND start_time <= ?) OR (status = 'ACTIVE' AND end_time <= ?)))`,
		limit, limit).Scan(&ok)
	return ok, err
}

// Snapshot builds the client read model of an auction.
func (s *Store) Snapshot(ctx context.Context, auctionID uint64) (model.AuctionSnapshot, error) {
	a, err := scanAuction(s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuctionSnapshot{}, fmt.Errorf("snapshot auction %d: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return model.AuctionSnapshot{}, err
	}
	snap := model.AuctionSnapshot{
		AuctionID: a.ID,
		TenantID:  a.TenantID,
		Title:     a.Title,
		Status:    a.Status,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Lots:      []model.LotClock{},
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_time, end_time FROM auction_items WHERE auction_id = ? AND is_deleted = 0 ORDER BY id`, auctionID)
	if err != nil {
		return model.AuctionSnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l          model.Lot
			start, end sql.NullTime
		)
		if err := rows.Scan(&l.ID, &start, &end); err != nil {
			return model.AuctionSnapshot{}, err
		}
		l.StartTime, l.EndTime = nullTimePtr(start), nullTimePtr(end)
		ls, le := model.EffectiveWindow(l, a.StartTime, a.EndTime)
		snap.Lots = append(snap.Lots, model.LotClock{LotID: l.ID, StartTime: ls, EndTime: le})
	}
	return snap, rows.Err()
}
