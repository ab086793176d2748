package realtime

import (
	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

// MaskForRole renders one bid event for a recipient role.  Privileged
// roles see the bidder's real name (or email when no name is on file);
// everyone else sees the auction-scoped pseudonym.
func MaskForRole(evt bidding.BidEvent, role string) BidPlacedPayload {
	name := evt.Pseudonym
	if model.IsPrivileged(role) {
		name = evt.BidderName
		if name == "" {
			name = evt.BidderEmail
		}
		if name == "" {
			name = evt.Pseudonym
		}
	}
	return BidPlacedPayload{
		AuctionID:         evt.AuctionID,
		LotID:             evt.LotID,
		BidID:             evt.BidID,
		Amount:            evt.Amount,
		BidderDisplayName: name,
		Timestamp:         evt.Timestamp,
		RequestID:         evt.RequestID,
	}
}
