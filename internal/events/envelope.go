// Package events relays committed auction events between server
// processes over a RabbitMQ fanout exchange, so viewers connected to any
// node see bids placed on any other.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

// ExchangeName is the fanout exchange every node publishes to.
const ExchangeName = "auction.events"

// Kind names the event carried by an Envelope.
type Kind string

const (
	KindBidPlaced     Kind = "bid.placed"
	KindTimeExtended  Kind = "auction.time_extended"
	KindStatusChanged Kind = "auction.status_changed"
)

// Envelope is one relayed event.  Exactly one of Bid, Extension and
// Snapshot is set, matching Kind.
type Envelope struct {
	Origin     string    `json:"origin"`
	Kind       Kind      `json:"kind"`
	TenantID   uint64    `json:"tenant_id"`
	AuctionID  uint64    `json:"auction_id"`
	OccurredAt time.Time `json:"occurred_at"`

	Bid       *bidding.BidEvent      `json:"bid,omitempty"`
	Extension *bidding.Extension     `json:"extension,omitempty"`
	Snapshot  *model.AuctionSnapshot `json:"snapshot,omitempty"`
}

// BidPlaced wraps an accepted bid.
func BidPlaced(origin string, evt bidding.BidEvent) Envelope {
	return Envelope{
		Origin:     origin,
		Kind:       KindBidPlaced,
		TenantID:   evt.TenantID,
		AuctionID:  evt.AuctionID,
		OccurredAt: evt.Timestamp,
		Bid:        &evt,
	}
}

// TimeExtended wraps a soft-close extension.
func TimeExtended(origin string, ext bidding.Extension) Envelope {
	return Envelope{
		Origin:     origin,
		Kind:       KindTimeExtended,
		TenantID:   ext.TenantID,
		AuctionID:  ext.AuctionID,
		OccurredAt: time.Now().UTC(),
		Extension:  &ext,
	}
}

// StatusChanged wraps a lifecycle transition.
func StatusChanged(origin string, snap model.AuctionSnapshot) Envelope {
	return Envelope{
		Origin:     origin,
		Kind:       KindStatusChanged,
		TenantID:   snap.TenantID,
		AuctionID:  snap.AuctionID,
		OccurredAt: time.Now().UTC(),
		Snapshot:   &snap,
	}
}

// Decode parses and checks one message body.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	ok := false
	switch env.Kind {
	case KindBidPlaced:
		ok = env.Bid != nil
	case KindTimeExtended:
		ok = env.Extension != nil
	case KindStatusChanged:
		ok = env.Snapshot != nil
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	if !ok {
		return Envelope{}, fmt.Errorf("envelope %q has no body", env.Kind)
	}
	return env, nil
}
