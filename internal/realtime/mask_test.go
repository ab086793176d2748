package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

func TestMaskForRole(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	evt := bidding.BidEvent{
		AuctionID: 1, LotID: 2, BidID: 3, BidderID: 4, Amount: 500,
		BidderName: "Alice", BidderEmail: "alice@example.com", Pseudonym: "Bidder 0A1B2C",
		Timestamp: ts, RequestID: "r-1",
	}
	noName := evt
	noName.BidderName = ""
	bare := noName
	bare.BidderEmail = ""

	tests := []struct {
		name string
		evt  bidding.BidEvent
		role string
		want string
	}{
		{"super admin sees name", evt, model.RoleSuperAdmin, "Alice"},
		{"admin sees name", evt, model.RoleAdmin, "Alice"},
		{"manager sees name", evt, model.RoleManager, "Alice"},
		{"bidder sees pseudonym", evt, model.RoleBidder, "Bidder 0A1B2C"},
		{"unknown role sees pseudonym", evt, "GUEST", "Bidder 0A1B2C"},
		{"email when no name", noName, model.RoleAdmin, "alice@example.com"},
		{"pseudonym when nothing on file", bare, model.RoleAdmin, "Bidder 0A1B2C"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MaskForRole(tc.evt, tc.role)
			assert.Equal(t, tc.want, got.BidderDisplayName)
			assert.Equal(t, int64(500), got.Amount)
			assert.Equal(t, uint64(3), got.BidID)
			assert.Equal(t, "r-1", got.RequestID)
			assert.Equal(t, ts, got.Timestamp)
		})
	}
}
