package memstore

import (
	"context"
	"strconv"
	"time"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

// WithRequestLock implements bidding.Store.
func (s *Store) WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx bidding.Tx) error) error {
	release, err := s.acquire(ctx, "request:"+requestID)
	if err != nil {
		return err
	}
	defer release()

	tx := &bidTx{
		s:           s,
		lotEnds:     make(map[uint64]time.Time),
		auctionEnds: make(map[uint64]time.Time),
	}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// bidTx stages writes until commit; reads see committed state plus the
// transaction's own staged rows.
type bidTx struct {
	s           *Store
	held        []func()
	staged      []model.Bid
	lotEnds     map[uint64]time.Time
	auctionEnds map[uint64]time.Time
}

func (t *bidTx) releaseLocks() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i]()
	}
	t.held = nil
}

func (t *bidTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, end := range t.lotEnds {
		if l, ok := s.lots[id]; ok {
			if l.EndTime == nil || end.After(*l.EndTime) {
				e := end
				l.EndTime = &e
			}
		}
	}
	for id, end := range t.auctionEnds {
		if a, ok := s.auctions[id]; ok && end.After(a.EndTime) {
			a.EndTime = end
		}
	}
	for _, b := range t.staged {
		if _, dup := s.byRequest[b.RequestID]; dup {
			continue
		}
		s.byRequest[b.RequestID] = len(s.bids)
		s.bids = append(s.bids, b)
	}
}

func (t *bidTx) Now(context.Context) (time.Time, error) {
	return t.s.now(), nil
}

func (t *bidTx) BidByRequestID(_ context.Context, requestID string) (*model.Bid, error) {
	for i := range t.staged {
		if t.staged[i].RequestID == requestID {
			c := t.staged[i]
			return &c, nil
		}
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byRequest[requestID]
	if !ok {
		return nil, nil
	}
	c := s.bids[idx]
	return &c, nil
}

func (t *bidTx) LockLot(ctx context.Context, lotID uint64) (*model.LockedLot, error) {
	s := t.s
	s.mu.Lock()
	_, exists := s.lots[lotID]
	s.mu.Unlock()
	if !exists {
		return nil, nil
	}

	release, err := s.acquire(ctx, lotKey(lotID))
	if err != nil {
		return nil, err
	}
	t.held = append(t.held, release)

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lots[lotID]
	a, ok := s.auctions[l.AuctionID]
	if !ok || a.IsDeleted {
		return nil, nil
	}
	return &model.LockedLot{
		Lot:           *l,
		TenantID:      a.TenantID,
		AuctionStatus: a.Status,
		BidIncrement:  a.BidIncrement,
		AuctionStart:  a.StartTime,
		AuctionEnd:    a.EndTime,
	}, nil
}

func (t *bidTx) IsRegistered(_ context.Context, userID, auctionID uint64) (bool, error) {
	return t.s.IsRegistered(userID, auctionID), nil
}

func (t *bidTx) HighestBid(_ context.Context, lotID uint64) (*model.Bid, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestLocked(lotID), nil
}

func (t *bidTx) ExtendLotEnd(_ context.Context, lotID uint64, end time.Time) error {
	if cur, ok := t.lotEnds[lotID]; !ok || end.After(cur) {
		t.lotEnds[lotID] = end
	}
	return nil
}

func (t *bidTx) ExtendAuctionEnd(_ context.Context, auctionID uint64, atLeast time.Time) error {
	if cur, ok := t.auctionEnds[auctionID]; !ok || atLeast.After(cur) {
		t.auctionEnds[auctionID] = atLeast
	}
	return nil
}

func (t *bidTx) InsertBid(_ context.Context, bid *model.Bid) (bool, error) {
	for _, b := range t.staged {
		if b.RequestID == bid.RequestID {
			return false, nil
		}
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byRequest[bid.RequestID]; dup {
		return false, nil
	}
	s.nextBidID++
	c := *bid
	c.ID = s.nextBidID
	t.staged = append(t.staged, c)
	bid.ID = c.ID
	return true, nil
}

func (t *bidTx) BidderNames(_ context.Context, bidderID uint64) (model.BidderNames, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[bidderID], nil
}

func lotKey(id uint64) string { return "lot:" + strconv.FormatUint(id, 10) }
