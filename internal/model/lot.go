package model

import "time"

// Lot is one biddable unit of an auction (table `auction_items`).  The
// optional StartTime/EndTime override the auction window; nil means the
// auction's own window applies.
type Lot struct {
	ID          uint64     // auction_items.id
	AuctionID   uint64     // auction_items.auction_id
	ItemID      uint64     // auction_items.item_id
	StartingBid int64      // auction_items.starting_bid
	StartTime   *time.Time // auction_items.start_time (nullable)
	EndTime     *time.Time // auction_items.end_time (nullable)
	IsDeleted   bool       // auction_items.is_deleted
}

// LockedLot is a lot joined with its parent auction, read under
// SELECT ... FOR UPDATE while a bid is evaluated.
type LockedLot struct {
	Lot
	TenantID      uint64
	AuctionStatus AuctionStatus
	BidIncrement  int64
	AuctionStart  time.Time
	AuctionEnd    time.Time
}

// EffectiveWindow returns the lot's [start, end) bidding window,
// falling back to the auction for any bound the lot does not set.
func (l LockedLot) EffectiveWindow() (time.Time, time.Time) {
	return EffectiveWindow(l.Lot, l.AuctionStart, l.AuctionEnd)
}

// EffectiveWindow resolves a lot's window against its auction bounds.
func EffectiveWindow(l Lot, auctionStart, auctionEnd time.Time) (time.Time, time.Time) {
	start, end := auctionStart, auctionEnd
	if l.StartTime != nil {
		start = *l.StartTime
	}
	if l.EndTime != nil {
		end = *l.EndTime
	}
	return start, end
}

// ItemStatus is the availability of an underlying catalog item.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "AVAILABLE"
	ItemInAuction ItemStatus = "IN_AUCTION"
	ItemSold      ItemStatus = "SOLD"
)
