package main

import (
	"time"

	"github.com/iliyamo/live-auction/internal/memstore"
	"github.com/iliyamo/live-auction/internal/model"
)

// seedDemo fills the in-memory store with one tenant, its staff, three
// bidders and two auctions: one live now and one opening in two minutes.
// Mint tokens for these users with cmd/devtoken.
func seedDemo(st *memstore.Store, now time.Time) {
	const tenant = 1

	staff := map[uint64]model.BidderNames{
		1: {Name: "Root", Email: "root@example.com"},
		2: {Name: "Avery Admin", Email: "admin@example.com"},
		3: {Name: "Morgan Manager", Email: "manager@example.com"},
	}
	bidders := map[uint64]model.BidderNames{
		10: {Name: "Sam", Email: "sam@example.com"},
		11: {Name: "Riley", Email: "riley@example.com"},
		12: {Email: "anon@example.com"},
	}
	for id, n := range staff {
		st.AddUser(id, n)
	}
	for id, n := range bidders {
		st.AddUser(id, n)
	}

	st.AddAuction(model.Auction{
		ID: 1, TenantID: tenant, Title: "Vintage watches",
		StartTime: now.Add(-5 * time.Minute), EndTime: now.Add(15 * time.Minute),
		BidIncrement: 500, Status: model.AuctionActive, Type: model.AuctionReal, CreatedBy: 3,
	})
	st.AddAuction(model.Auction{
		ID: 2, TenantID: tenant, Title: "Rehearsal",
		StartTime: now.Add(2 * time.Minute), EndTime: now.Add(10 * time.Minute),
		BidIncrement: 100, Status: model.AuctionPending, Type: model.AuctionTest, CreatedBy: 3,
	})

	lotEnd := now.Add(3 * time.Minute)
	lots := []model.Lot{
		{ID: 1, AuctionID: 1, ItemID: 1, StartingBid: 10000},
		{ID: 2, AuctionID: 1, ItemID: 2, StartingBid: 25000, EndTime: &lotEnd},
		{ID: 3, AuctionID: 2, ItemID: 3, StartingBid: 1000},
	}
	for _, l := range lots {
		st.AddItem(memstore.Item{ID: l.ItemID, TenantID: tenant, Name: fmtItem(l.ItemID), Status: model.ItemInAuction})
		st.AddLot(l)
	}
	st.AddManager(1, 3)
	for id := range bidders {
		st.Register(id, 1)
	}
}

func fmtItem(id uint64) string {
	switch id {
	case 1:
		return "Chronograph, 1968"
	case 2:
		return "Pocket watch"
	}
	return "Practice lot"
}
