package model

import "time"

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "PENDING"
	AuctionActive    AuctionStatus = "ACTIVE"
	AuctionCompleted AuctionStatus = "COMPLETED"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

// Terminal reports whether no more bids can land in this status.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionCompleted || s == AuctionCancelled
}

// AuctionType separates rehearsal auctions from real ones.
type AuctionType string

const (
	AuctionTest AuctionType = "TEST"
	AuctionReal AuctionType = "REAL"
)

// Auction represents a row in the `auctions` table.  StartTime and
// EndTime are stored in UTC; EndTime may be pushed later by a soft-close
// extension on one of its lots but never earlier.
//
// Fields:
//  ID           – primary key identifier.
//  TenantID     – owning tenant; every access check compares against it.
//  Title        – display title.
//  StartTime    – moment the scheduler moves the auction to ACTIVE.
//  EndTime      – moment the scheduler closes the auction.
//  BidIncrement – step every accepted bid must respect.
//  Status       – PENDING, ACTIVE, COMPLETED or CANCELLED.
//  Type         – TEST or REAL.
//  CreatedBy    – manager that created the auction.
//  IsDeleted    – soft delete flag.
type Auction struct {
	ID           uint64        // auctions.id
	TenantID     uint64        // auctions.tenant_id
	Title        string        // auctions.title
	StartTime    time.Time     // auctions.start_time
	EndTime      time.Time     // auctions.end_time
	BidIncrement int64         // auctions.bid_increment
	Status       AuctionStatus // auctions.status
	Type         AuctionType   // auctions.type
	CreatedBy    uint64        // auctions.created_by
	IsDeleted    bool          // auctions.is_deleted
}

// LotClock is the effective bidding window of one lot, sent to clients
// so they can run local countdowns without waiting for the next event.
type LotClock struct {
	LotID     uint64    `json:"lotId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// AuctionSnapshot is the read model pushed to clients on join and on
// every status transition.
type AuctionSnapshot struct {
	AuctionID uint64        `json:"auctionId"`
	TenantID  uint64        `json:"tenantId"`
	Title     string        `json:"title"`
	Status    AuctionStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Lots      []LotClock    `json:"lots"`
}
