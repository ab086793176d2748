// Package memstore is a concurrency-safe in-memory implementation of
// the bidding, scheduler and realtime store contracts.  It mirrors the
// MySQL store's locking: a keyed lock per request id, a row lock per lot
// held until the transaction ends, and staged writes applied on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

// Item is a catalog item sold through a lot.
type Item struct {
	ID        uint64
	TenantID  uint64
	Name      string
	Status    model.ItemStatus
	SoldPrice int64
	BuyerID   uint64
}

// AuditEntry records an item mutation made by the scheduler.
type AuditEntry struct {
	ItemID    uint64
	Action    string
	AuctionID uint64
	BuyerID   uint64
	Price     int64
	At        time.Time
}

type pair [2]uint64

// Store holds every table in maps guarded by mu.  Row locks live in
// locks and are independent of mu so readers never wait on a bid.
type Store struct {
	mu            sync.Mutex
	clock         func() time.Time
	lockTimeout   time.Duration
	auctions      map[uint64]*model.Auction
	lots          map[uint64]*model.Lot
	items         map[uint64]*Item
	users         map[uint64]model.BidderNames
	registrations map[pair]bool
	managers      map[pair]bool
	bids          []model.Bid
	byRequest     map[string]int
	audit         []AuditEntry
	nextBidID     uint64

	locks *keyedLocks
}

// New returns an empty store using the wall clock and a 5s lock bound.
func New() *Store {
	return &Store{
		clock:         func() time.Time { return time.Now().UTC() },
		lockTimeout:   5 * time.Second,
		auctions:      make(map[uint64]*model.Auction),
		lots:          make(map[uint64]*model.Lot),
		items:         make(map[uint64]*Item),
		users:         make(map[uint64]model.BidderNames),
		registrations: make(map[pair]bool),
		managers:      make(map[pair]bool),
		byRequest:     make(map[string]int),
		locks:         newKeyedLocks(),
	}
}

// SetClock replaces the store clock; tests use it to pin "now".
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

// SetLockTimeout bounds how long a transaction waits for any lock.
func (s *Store) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	s.lockTimeout = d
	s.mu.Unlock()
}

func (s *Store) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

// AddAuction inserts or replaces an auction.
func (s *Store) AddAuction(a model.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a
	s.auctions[a.ID] = &c
}

// AddLot inserts or replaces a lot.
func (s *Store) AddLot(l model.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := l
	s.lots[l.ID] = &c
}

// AddItem inserts or replaces an item.
func (s *Store) AddItem(it Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := it
	s.items[it.ID] = &c
}

// AddUser records display names for a user.
func (s *Store) AddUser(id uint64, names model.BidderNames) {
	s.mu.Lock()
	s.users[id] = names
	s.mu.Unlock()
}

// Register grants a bidder access to an auction.
func (s *Store) Register(userID, auctionID uint64) {
	s.mu.Lock()
	s.registrations[pair{userID, auctionID}] = true
	s.mu.Unlock()
}

// AddManager assigns a manager to an auction.
func (s *Store) AddManager(auctionID, userID uint64) {
	s.mu.Lock()
	s.managers[pair{auctionID, userID}] = true
	s.mu.Unlock()
}

// SetAuctionStatus forces a status, standing in for manager actions.
func (s *Store) SetAuctionStatus(auctionID uint64, status model.AuctionStatus) {
	s.mu.Lock()
	if a, ok := s.auctions[auctionID]; ok {
		a.Status = status
	}
	s.mu.Unlock()
}

// Auction returns a copy of the auction, or nil when missing or deleted.
func (s *Store) Auction(_ context.Context, id uint64) (*model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok || a.IsDeleted {
		return nil, nil
	}
	c := *a
	return &c, nil
}

// Lot returns a copy of a lot.
func (s *Store) Lot(id uint64) (model.Lot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lots[id]
	if !ok {
		return model.Lot{}, false
	}
	return *l, true
}

// Item returns a copy of an item.
func (s *Store) Item(id uint64) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Bids lists the committed bids of a lot in creation order.
func (s *Store) Bids(lotID uint64) []model.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Bid
	for _, b := range s.bids {
		if b.LotID == lotID {
			out = append(out, b)
		}
	}
	return out
}

// AuditLog returns the item audit trail.
func (s *Store) AuditLog() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

// IsRegistered reports whether a registration exists.
func (s *Store) IsRegistered(userID, auctionID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations[pair{userID, auctionID}]
}

// IsAuctionManager reports whether userID manages or created the auction.
func (s *Store) IsAuctionManager(_ context.Context, auctionID, userID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.managers[pair{auctionID, userID}] {
		return true, nil
	}
	a, ok := s.auctions[auctionID]
	return ok && a.CreatedBy == userID, nil
}

// EnsureRegistration is an idempotent registration upsert.
func (s *Store) EnsureRegistration(_ context.Context, userID, auctionID uint64) error {
	s.Register(userID, auctionID)
	return nil
}

// Snapshot builds the client read model of an auction.
func (s *Store) Snapshot(_ context.Context, auctionID uint64) (model.AuctionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return model.AuctionSnapshot{}, fmt.Errorf("snapshot auction %d: not found", auctionID)
	}
	snap := model.AuctionSnapshot{
		AuctionID: a.ID,
		TenantID:  a.TenantID,
		Title:     a.Title,
		Status:    a.Status,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Lots:      []model.LotClock{},
	}
	for _, l := range s.lotsOf(auctionID) {
		start, end := model.EffectiveWindow(*l, a.StartTime, a.EndTime)
		snap.Lots = append(snap.Lots, model.LotClock{LotID: l.ID, StartTime: start, EndTime: end})
	}
	return snap, nil
}

// lotsOf returns the non-deleted lots of an auction sorted by id.
// Callers hold mu.
func (s *Store) lotsOf(auctionID uint64) []*model.Lot {
	var out []*model.Lot
	for _, l := range s.lots {
		if l.AuctionID == auctionID && !l.IsDeleted {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// highestLocked returns the winning bid of a lot: highest price, then
// earliest bid time, then lowest id.  Callers hold mu.
func (s *Store) highestLocked(lotID uint64) *model.Bid {
	var best *model.Bid
	for i := range s.bids {
		b := &s.bids[i]
		if b.LotID != lotID || b.IsDeleted {
			continue
		}
		if best == nil || b.OfferedPrice > best.OfferedPrice ||
			(b.OfferedPrice == best.OfferedPrice && (b.BidTime.Before(best.BidTime) ||
				(b.BidTime.Equal(best.BidTime) && b.ID < best.ID))) {
			best = b
		}
	}
	if best == nil {
		return nil
	}
	c := *best
	return &c
}

// lockCtx bounds a lock wait by the store's lock timeout.
func (s *Store) lockCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	d := s.lockTimeout
	s.mu.Unlock()
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Store) acquire(ctx context.Context, key string) (func(), error) {
	lctx, cancel := s.lockCtx(ctx)
	defer cancel()
	release, err := s.locks.acquire(lctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, bidding.ErrLockTimeout)
	}
	return release, nil
}

// keyedLocks hands out one channel-based mutex per key so waits can be
// abandoned when a context ends.  An entry lives only while someone
// holds or waits for it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) unref(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 && k.locks[key] == l {
		delete(k.locks, key)
	}
}

// size reports the number of live entries.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
