package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
)

// bidTx implements bidding.Tx on one *sql.Tx.
type bidTx struct {
	tx *sql.Tx
}

const bidColumns = `id, auction_item_id, auction_id, bidder_id, tenant_id, offered_price, request_id, bid_time, is_deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBid(row rowScanner) (*model.Bid, error) {
	var b model.Bid
	err := row.Scan(&b.ID, &b.LotID, &b.AuctionID, &b.BidderID, &b.TenantID, &b.OfferedPrice, &b.RequestID, &b.BidTime, &b.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.BidTime = b.BidTime.UTC()
	return &b, nil
}

func (t *bidTx) Now(ctx context.Context) (time.Time, error) {
	return storeNow(ctx, t.tx)
}

func (t *bidTx) BidByRequestID(ctx context.Context, requestID string) (*model.Bid, error) {
	b, err := scanBid(t.tx.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE request_id = ?`, requestID))
	if err != nil {
		return nil, fmt.Errorf("bid by request id: %w", err)
	}
	return b, nil
}

// LockLot locks only the auction_items row; the auction row stays
// readable so other lots of the same auction bid in parallel.
func (t *bidTx) LockLot(ctx context.Context, lotID uint64) (*model.LockedLot, error) {
	var (
		l                    model.LockedLot
		lotStart, lotEnd     sql.NullTime
		auctionStart, aucEnd time.Time
	)
	err := t.tx.QueryRowContext(ctx, `
        SELECT ai.id, ai.auction_id, ai.item_id, ai.starting_bid, ai.start_time, ai.end_time, ai.is_deleted,
               a.tenant_id, a.status, a.bid_increment, a.start_time, a.end_time
        FROM auction_items ai
        JOIN auctions a ON a.id = ai.auction_id
        WHERE ai.id = ? AND a.is_deleted = 0
        FOR UPDATE OF ai`, lotID,
	).Scan(&l.ID, &l.AuctionID, &l.ItemID, &l.StartingBid, &lotStart, &lotEnd, &l.IsDeleted,
		&l.TenantID, &l.AuctionStatus, &l.BidIncrement, &auctionStart, &aucEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock lot %d: %w", lotID, err)
	}
	l.StartTime = nullTimePtr(lotStart)
	l.EndTime = nullTimePtr(lotEnd)
	l.AuctionStart = auctionStart.UTC()
	l.AuctionEnd = aucEnd.UTC()
	return &l, nil
}

func (t *bidTx) IsRegistered(ctx context.Context, userID, auctionID uint64) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM auction_registrations WHERE user_id = ? AND auction_id = ?)`,
		userID, auctionID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return ok, nil
}

func (t *bidTx) HighestBid(ctx context.Context, lotID uint64) (*model.Bid, error) {
	return highestBid(ctx, t.tx, lotID)
}

func (t *bidTx) ExtendLotEnd(ctx context.Context, lotID uint64, end time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE auction_items SET end_time = GREATEST(COALESCE(end_time, ?), ?) WHERE id = ?`,
		end, end, lotID)
	if err != nil {
		return fmt.Errorf("extend lot %d: %w", lotID, err)
	}
	return nil
}

func (t *bidTx) ExtendAuctionEnd(ctx context.Context, auctionID uint64, atLeast time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET end_time = GREATEST(end_time, ?) WHERE id = ?`, atLeast, auctionID)
	if err != nil {
		return fmt.Errorf("extend auction %d: %w", auctionID, err)
	}
	return nil
}

// InsertBid reports false when a row with the same request id already
// exists; the no-op update keeps the statement from failing.
func (t *bidTx) InsertBid(ctx context.Context, b *model.Bid) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
        INSERT INTO bids (auction_item_id, auction_id, bidder_id, tenant_id, offered_price, request_id, bid_time, is_deleted)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0)
        ON DUPLICATE KEY UPDATE request_id = request_id`,
		b.LotID, b.AuctionID, b.BidderID, b.TenantID, b.OfferedPrice, b.RequestID, b.BidTime)
	if err != nil {
		return false, fmt.Errorf("insert bid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		b.ID = uint64(id)
	}
	return true, nil
}

func (t *bidTx) BidderNames(ctx context.Context, bidderID uint64) (model.BidderNames, error) {
	var n model.BidderNames
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(name, ''), COALESCE(email, '') FROM users WHERE id = ?`, bidderID,
	).Scan(&n.Name, &n.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BidderNames{}, nil
	}
	if err != nil {
		return model.BidderNames{}, fmt.Errorf("bidder names: %w", err)
	}
	return n, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeNow(ctx context.Context, q querier) (time.Time, error) {
	var now time.Time
	if err := q.QueryRowContext(ctx, `SELECT UTC_TIMESTAMP(3)`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read store clock: %w", err)
	}
	return now.UTC(), nil
}

// highestBid orders by price, then earliest bid, then lowest id so a
// tie never depends on row order.
func highestBid(ctx context.Context, q querier, lotID uint64) (*model.Bid, error) {
	b, err := scanBid(q.QueryRowContext(ctx, `
        SELECT `+bidColumns+` FROM bids
        WHERE auction_item_id = ? AND is_deleted = 0
        ORDER BY offered_price DESC, bid_time ASC, id ASC
        LIMIT 1`, lotID))
	if err != nil {
		return nil, fmt.Errorf("highest bid on lot %d: %w", lotID, err)
	}
	return b, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
