package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
)

// Inbound message types.
const (
	TypeJoinAuction  = "JOIN_AUCTION"
	TypeLeaveAuction = "LEAVE_AUCTION"
	TypePlaceBid     = "PLACE_BID"
	TypePong         = "PONG"
)

// Outbound message types.
const (
	TypeConnected            = "CONNECTED"
	TypeJoined               = "JOINED"
	TypeLeft                 = "LEFT"
	TypeParticipantCount     = "PARTICIPANT_COUNT"
	TypeBidPlaced            = "BID_PLACED"
	TypeBidRejected          = "BID_REJECTED"
	TypeAuctionStatusChanged = "AUCTION_STATUS_CHANGED"
	TypeAuctionTimeExtended  = "AUCTION_TIME_EXTENDED"
	TypeSessionSuperseded    = "SESSION_SUPERSEDED"
	TypeError                = "ERROR"
	TypePing                 = "PING"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RoomKey identifies the viewers of one auction.
type RoomKey struct {
	TenantID  uint64
	AuctionID uint64
}

func (k RoomKey) String() string {
	return fmt.Sprintf("tenant:%d:auction:%d", k.TenantID, k.AuctionID)
}

// JoinPayload is the body of JOIN_AUCTION and LEAVE_AUCTION.
type JoinPayload struct {
	TenantID  uint64 `json:"tenantId"`
	AuctionID uint64 `json:"auctionId"`
}

// PlaceBidPayload is the body of PLACE_BID.
type PlaceBidPayload struct {
	TenantID  uint64 `json:"tenantId"`
	AuctionID uint64 `json:"auctionId"`
	LotID     uint64 `json:"lotId"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"requestId"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       uint64 `json:"userId"`
	TenantID     uint64 `json:"tenantId"`
	Role         string `json:"role"`
}

type joinedPayload struct {
	Room       string                `json:"room"`
	Snapshot   model.AuctionSnapshot `json:"snapshot"`
	Lots       []model.LotClock      `json:"lots"`
	ServerTime time.Time             `json:"serverTime"`
}

type leftPayload struct {
	Room      string `json:"room"`
	AuctionID uint64 `json:"auctionId"`
}

type participantCountPayload struct {
	AuctionID uint64 `json:"auctionId"`
	Count     int    `json:"count"`
}

// BidPlacedPayload is the per-recipient view of an accepted bid.
type BidPlacedPayload struct {
	AuctionID         uint64    `json:"auctionId"`
	LotID             uint64    `json:"lotId"`
	BidID             uint64    `json:"bidId"`
	Amount            int64     `json:"amount"`
	BidderDisplayName string    `json:"bidderDisplayName"`
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"requestId"`
}

type bidRejectedPayload struct {
	LotID           uint64 `json:"lotId"`
	RequestID       string `json:"requestId"`
	Reason          string `json:"reason"`
	Code            string `json:"code"`
	MinimumAmount   int64  `json:"minimumAmount,omitempty"`
	NextValidAmount int64  `json:"nextValidAmount,omitempty"`
	Retryable       bool   `json:"retryable"`
}

type statusChangedPayload struct {
	AuctionID uint64                `json:"auctionId"`
	Status    model.AuctionStatus   `json:"status"`
	Snapshot  model.AuctionSnapshot `json:"snapshot"`
}

type timeExtendedPayload struct {
	AuctionID        uint64    `json:"auctionId"`
	LotID            uint64    `json:"lotId"`
	NewEndTime       time.Time `json:"newEndTime"`
	AuctionEndTime   time.Time `json:"auctionEndTime"`
	ExtensionSeconds int       `json:"extensionSeconds"`
}

type supersededPayload struct {
	AuctionID uint64 `json:"auctionId"`
	Reason    string `json:"reason"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pingPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

func errorFrame(code, message string) Frame {
	return Frame{Type: TypeError, Payload: errorPayload{Code: code, Message: message}}
}
