// Package bidding implements the bid placement protocol: one store
// transaction per bid, serialized per lot by a row lock and per request
// id by a transaction-scoped advisory lock.
package bidding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/live-auction/internal/model"
)

// MaxRequestIDLength matches the width of bids.request_id.
const MaxRequestIDLength = 64

// Store runs fn inside one transaction while holding a mutual
// exclusion lock keyed by requestID.  The transaction commits when fn
// returns nil and rolls back otherwise; the lock is released in both
// cases.  Lock waits longer than the store's bound return an error
// wrapping ErrLockTimeout.
type Store interface {
	WithRequestLock(ctx context.Context, requestID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes the protocol performs inside its
// transaction.  LockLot must take a row lock that is held until the
// transaction ends.  Missing rows are reported as nil with a nil error.
type Tx interface {
	Now(ctx context.Context) (time.Time, error)
	BidByRequestID(ctx context.Context, requestID string) (*model.Bid, error)
	LockLot(ctx context.Context, lotID uint64) (*model.LockedLot, error)
	IsRegistered(ctx context.Context, userID, auctionID uint64) (bool, error)
	HighestBid(ctx context.Context, lotID uint64) (*model.Bid, error)
	ExtendLotEnd(ctx context.Context, lotID uint64, end time.Time) error
	ExtendAuctionEnd(ctx context.Context, auctionID uint64, atLeast time.Time) error
	InsertBid(ctx context.Context, bid *model.Bid) (bool, error)
	BidderNames(ctx context.Context, bidderID uint64) (model.BidderNames, error)
}

// Options tunes soft-close behavior.
type Options struct {
	SoftCloseThreshold time.Duration
	SoftCloseExtension time.Duration
}

// DefaultOptions are the production soft-close settings.
func DefaultOptions() Options {
	return Options{SoftCloseThreshold: 30 * time.Second, SoftCloseExtension: 30 * time.Second}
}

// PlaceBidInput is one bidder action.  AuctionID is optional; when set
// the lot must belong to that auction.
type PlaceBidInput struct {
	LotID     uint64
	AuctionID uint64
	Amount    int64
	BidderID  uint64
	TenantID  uint64
	RequestID string
}

// BidEvent is the single internal broadcast payload of an accepted bid.
// It carries both display variants; transports pick one per recipient.
type BidEvent struct {
	TenantID    uint64
	AuctionID   uint64
	LotID       uint64
	BidID       uint64
	BidderID    uint64
	Amount      int64
	BidderName  string
	BidderEmail string
	Pseudonym   string
	Timestamp   time.Time
	RequestID   string
}

// Extension describes a soft-close push of a lot's end time.
type Extension struct {
	TenantID         uint64
	AuctionID        uint64
	LotID            uint64
	PreviousEndTime  time.Time
	NewEndTime       time.Time
	AuctionEndTime   time.Time
	ExtensionSeconds int
}

// Result is what PlaceBid hands back to the transport.  Event is set for
// both new bids and replays; Extension only when this call extended the
// lot.
type Result struct {
	Bid             model.Bid
	WasNewlyCreated bool
	Event           BidEvent
	Extension       *Extension
}

// Publisher receives newly created bids after their transaction has
// committed.  Calls for one lot arrive in commit order and never
// overlap; implementations must not block for long.
type Publisher interface {
	PublishCommitted(ctx context.Context, res Result)
}

// Service places bids.
type Service struct {
	store Store
	opts  Options
	log   logrus.FieldLogger
	order *commitOrder

	pubMu sync.RWMutex
	pub   Publisher
}

// NewService wires the protocol to a store.  Zero option values fall
// back to DefaultOptions.
func NewService(store Store, opts Options, log logrus.FieldLogger) *Service {
	if store == nil {
		panic("nil store passed to NewService")
	}
	def := DefaultOptions()
	if opts.SoftCloseThreshold <= 0 {
		opts.SoftCloseThreshold = def.SoftCloseThreshold
	}
	if opts.SoftCloseExtension <= 0 {
		opts.SoftCloseExtension = def.SoftCloseExtension
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store: store,
		opts:  opts,
		log:   log.WithField("component", "bidding"),
		order: newCommitOrder(),
	}
}

// SetPublisher attaches the post-commit fan-out.  Passing nil detaches it.
func (s *Service) SetPublisher(p Publisher) {
	s.pubMu.Lock()
	s.pub = p
	s.pubMu.Unlock()
}

func (s *Service) publisher() Publisher {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	return s.pub
}

// errRacedReplay rolls back a transaction whose insert lost a race to a
// concurrent duplicate; the result is returned as a replay.
var errRacedReplay = errors.New("bidding: request id inserted concurrently")

// PlaceBid validates and records one bid.  The request lock is taken
// before the lot row lock.  A newly created bid is handed to the
// publisher after commit and before PlaceBid returns.  Every returned
// error is a *Error.
func (s *Service) PlaceBid(ctx context.Context, in PlaceBidInput) (Result, error) {
	in.RequestID = strings.TrimSpace(in.RequestID)
	if in.RequestID == "" || len(in.RequestID) > MaxRequestIDLength {
		return Result{}, reject(ErrInvalidRequestID, in)
	}
	if in.Amount <= 0 || in.Amount > math.MaxInt32 {
		return Result{}, reject(ErrInvalidAmount, in)
	}

	started := time.Now()
	var (
		res  Result
		turn ticket
	)
	// a panic inside the transaction must not strand later tickets
	defer s.order.inTurn(&turn, func() {})
	err := s.store.WithRequestLock(ctx, in.RequestID, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = s.placeTx(ctx, tx, in, &turn)
		return err
	})
	s.order.inTurn(&turn, func() {
		if err != nil || !res.WasNewlyCreated {
			return
		}
		if pub := s.publisher(); pub != nil {
			// the caller's context may end with its response
			pub.PublishCommitted(context.WithoutCancel(ctx), res)
		}
	})
	fields := logrus.Fields{
		"lot_id":     in.LotID,
		"bidder_id":  in.BidderID,
		"request_id": in.RequestID,
		"amount":     in.Amount,
		"latency_ms": time.Since(started).Milliseconds(),
	}
	switch {
	case err == nil:
		s.log.WithFields(fields).WithField("new", res.WasNewlyCreated).Debug("bid processed")
		return res, nil
	case errors.Is(err, errRacedReplay):
		s.log.WithFields(fields).Info("bid replayed after insert race")
		return res, nil
	}

	var be *Error
	if errors.As(err, &be) {
		if be.Kind == KindInfrastructure {
			s.log.WithFields(fields).WithError(err).Warn("bid lock wait exceeded")
		} else {
			s.log.WithFields(fields).WithField("code", be.Code).Debug("bid rejected")
		}
		if be.LotID == 0 && be.RequestID == "" {
			c := *be
			c.LotID, c.RequestID = in.LotID, in.RequestID
			be = &c
		}
		return Result{}, be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.WithFields(fields).WithError(err).Warn("bid timed out")
		e := reject(ErrLockTimeout, in)
		e.Err = err
		return Result{}, e
	}
	s.log.WithFields(fields).WithError(err).Error("bid placement failed")
	return Result{}, AsError(err, in.LotID, in.RequestID)
}

func (s *Service) placeTx(ctx context.Context, tx Tx, in PlaceBidInput, turn *ticket) (Result, error) {
	existing, err := tx.BidByRequestID(ctx, in.RequestID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return s.replay(ctx, tx, in, *existing)
	}

	lot, err := tx.LockLot(ctx, in.LotID)
	if err != nil {
		return Result{}, err
	}
	if lot == nil || lot.IsDeleted || (in.AuctionID != 0 && lot.AuctionID != in.AuctionID) {
		return Result{}, reject(ErrLotNotFound, in)
	}
	s.order.take(lot.ID, turn)
	if lot.TenantID != in.TenantID {
		return Result{}, reject(ErrWrongTenant, in)
	}
	if lot.AuctionStatus != model.AuctionActive {
		return Result{}, reject(ErrAuctionNotActive, in)
	}

	// store time: the request may have waited on the row lock
	now, err := tx.Now(ctx)
	if err != nil {
		return Result{}, err
	}
	start, end := lot.EffectiveWindow()
	if now.Before(start) {
		return Result{}, reject(ErrLotNotStarted, in)
	}
	if !now.Before(end) {
		return Result{}, reject(ErrLotClosed, in)
	}

	registered, err := tx.IsRegistered(ctx, in.BidderID, lot.AuctionID)
	if err != nil {
		return Result{}, err
	}
	if !registered {
		return Result{}, reject(ErrNotRegistered, in)
	}

	highest, err := tx.HighestBid(ctx, lot.ID)
	if err != nil {
		return Result{}, err
	}
	base := lot.StartingBid
	if highest != nil {
		base = highest.OfferedPrice
	}
	minimum := MinimumBid(base, highest != nil, lot.BidIncrement)
	if in.Amount < minimum {
		e := reject(ErrAmountTooLow, in)
		e.MinimumAmount = minimum
		e.NextValidAmount = minimum
		return Result{}, e
	}
	if !IsAligned(base, in.Amount, lot.BidIncrement) {
		e := reject(ErrAmountMisaligned, in)
		e.MinimumAmount = minimum
		e.NextValidAmount = NextValidAmount(base, in.Amount, lot.BidIncrement)
		return Result{}, e
	}

	var ext *Extension
	if newEnd, extended := SoftCloseEnd(now, end, s.opts.SoftCloseThreshold, s.opts.SoftCloseExtension); extended {
		if err := tx.ExtendLotEnd(ctx, lot.ID, newEnd); err != nil {
			return Result{}, err
		}
		if err := tx.ExtendAuctionEnd(ctx, lot.AuctionID, newEnd); err != nil {
			return Result{}, err
		}
		auctionEnd := lot.AuctionEnd
		if newEnd.After(auctionEnd) {
			auctionEnd = newEnd
		}
		ext = &Extension{
			TenantID:         lot.TenantID,
			AuctionID:        lot.AuctionID,
			LotID:            lot.ID,
			PreviousEndTime:  end,
			NewEndTime:       newEnd,
			AuctionEndTime:   auctionEnd,
			ExtensionSeconds: int(s.opts.SoftCloseExtension / time.Second),
		}
	}

	bid := &model.Bid{
		LotID:        lot.ID,
		AuctionID:    lot.AuctionID,
		BidderID:     in.BidderID,
		TenantID:     in.TenantID,
		OfferedPrice: in.Amount,
		RequestID:    in.RequestID,
		BidTime:      now,
	}
	inserted, err := tx.InsertBid(ctx, bid)
	if err != nil {
		return Result{}, err
	}
	stored, err := tx.BidByRequestID(ctx, in.RequestID)
	if err != nil {
		return Result{}, err
	}
	if stored == nil {
		return Result{}, errors.New("bidding: bid missing after insert")
	}
	if !inserted {
		res, err := s.replay(ctx, tx, in, *stored)
		if err != nil {
			return Result{}, err
		}
		return res, errRacedReplay
	}

	names, err := tx.BidderNames(ctx, in.BidderID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Bid:             *stored,
		WasNewlyCreated: true,
		Event:           newBidEvent(*stored, names),
		Extension:       ext,
	}, nil
}

func (s *Service) replay(ctx context.Context, tx Tx, in PlaceBidInput, existing model.Bid) (Result, error) {
	if existing.BidderID != in.BidderID || existing.TenantID != in.TenantID || existing.LotID != in.LotID {
		return Result{}, reject(ErrRequestIDConflict, in)
	}
	names, err := tx.BidderNames(ctx, existing.BidderID)
	if err != nil {
		return Result{}, err
	}
	return Result{Bid: existing, Event: newBidEvent(existing, names)}, nil
}

func newBidEvent(b model.Bid, names model.BidderNames) BidEvent {
	return BidEvent{
		TenantID:    b.TenantID,
		AuctionID:   b.AuctionID,
		LotID:       b.LotID,
		BidID:       b.ID,
		BidderID:    b.BidderID,
		Amount:      b.OfferedPrice,
		BidderName:  names.Name,
		BidderEmail: names.Email,
		Pseudonym:   Pseudonym(b.AuctionID, b.BidderID),
		Timestamp:   b.BidTime.UTC(),
		RequestID:   b.RequestID,
	}
}
