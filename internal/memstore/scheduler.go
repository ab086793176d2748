package memstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
)

// Now returns the store clock.
func (s *Store) Now(context.Context) (time.Time, error) {
	return s.now(), nil
}

// DueToStart lists PENDING auctions whose start has passed.
func (s *Store) DueToStart(_ context.Context, now time.Time) ([]model.Auction, error) {
	return s.filterAuctions(func(a *model.Auction) bool {
		return a.Status == model.AuctionPending && !a.StartTime.After(now)
	}), nil
}

// DueToClose lists ACTIVE auctions whose end has passed.
func (s *Store) DueToClose(_ context.Context, now time.Time) ([]model.Auction, error) {
	return s.filterAuctions(func(a *model.Auction) bool {
		return a.Status == model.AuctionActive && !a.EndTime.After(now)
	}), nil
}

func (s *Store) filterAuctions(keep func(*model.Auction) bool) []model.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Auction
	for _, a := range s.auctions {
		if !a.IsDeleted && keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Activate moves a PENDING auction to ACTIVE.
func (s *Store) Activate(_ context.Context, auctionID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok || a.IsDeleted || a.Status != model.AuctionPending {
		return false, nil
	}
	a.Status = model.AuctionActive
	return true, nil
}

// Complete closes an ACTIVE auction whose end has passed: every lot's
// highest bid marks its item SOLD with an audit entry, then the auction
// becomes COMPLETED.  Lot row locks are taken first, in id order, the
// same order a bid takes them.
func (s *Store) Complete(ctx context.Context, auctionID uint64) ([]model.Winner, bool, error) {
	s.mu.Lock()
	lots := s.lotsOf(auctionID)
	ids := make([]uint64, 0, len(lots))
	for _, l := range lots {
		ids = append(ids, l.ID)
	}
	s.mu.Unlock()

	var held []func()
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}()
	for _, id := range ids {
		release, err := s.acquire(ctx, lotKey(id))
		if err != nil {
			return nil, false, err
		}
		held = append(held, release)
	}
	release, err := s.acquire(ctx, "auction:"+strconv.FormatUint(auctionID, 10))
	if err != nil {
		return nil, false, err
	}
	held = append(held, release)

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok || a.IsDeleted || a.Status != model.AuctionActive || a.EndTime.After(s.clock()) {
		return nil, false, nil
	}
	now := s.clock()
	var winners []model.Winner
	for _, l := range s.lotsOf(auctionID) {
		best := s.highestLocked(l.ID)
		if best == nil {
			continue
		}
		if it, ok := s.items[l.ItemID]; ok {
			it.Status = model.ItemSold
			it.SoldPrice = best.OfferedPrice
			it.BuyerID = best.BidderID
		}
		s.audit = append(s.audit, AuditEntry{
			ItemID:    l.ItemID,
			Action:    "SOLD",
			AuctionID: auctionID,
			BuyerID:   best.BidderID,
			Price:     best.OfferedPrice,
			At:        now,
		})
		winners = append(winners, model.Winner{
			LotID:   l.ID,
			ItemID:  l.ItemID,
			BidID:   best.ID,
			BuyerID: best.BidderID,
			Price:   best.OfferedPrice,
		})
	}
	a.Status = model.AuctionCompleted
	return winners, true, nil
}

// HasTransitionWithin reports whether a PENDING start or ACTIVE end
// falls within horizon of now.
func (s *Store) HasTransitionWithin(_ context.Context, now time.Time, horizon time.Duration) (bool, error) {
	limit := now.Add(horizon)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auctions {
		if a.IsDeleted {
			continue
		}
		switch a.Status {
		case model.AuctionPending:
			if !a.StartTime.After(limit) {
				return true, nil
			}
		case model.AuctionActive:
			if !a.EndTime.After(limit) {
				return true, nil
			}
		}
	}
	return false, nil
}
