package model

import "time"

// Bid represents a row in the `bids` table.  Bids are immutable once
// written; RequestID carries a unique constraint and is the idempotency
// key of the bidder action that produced the row.
type Bid struct {
	ID           uint64    // bids.id
	LotID        uint64    // bids.auction_item_id
	AuctionID    uint64    // bids.auction_id
	BidderID     uint64    // bids.bidder_id
	TenantID     uint64    // bids.tenant_id
	OfferedPrice int64     // bids.offered_price (INT, 32-bit signed range)
	RequestID    string    // bids.request_id (unique)
	BidTime      time.Time // bids.bid_time
	IsDeleted    bool      // bids.is_deleted
}

// Winner is the highest bid of a lot at close.
type Winner struct {
	LotID   uint64
	ItemID  uint64
	BidID   uint64
	BuyerID uint64
	Price   int64
}
