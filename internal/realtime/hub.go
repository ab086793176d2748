// Package realtime delivers auction events to connected clients over
// websockets.  Clients join rooms keyed by tenant and auction; accepted
// bids, soft-close extensions and status changes are fanned out to the
// room, with bidder identity masked per recipient role.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/events"
	"github.com/iliyamo/live-auction/internal/model"
)

// Directory answers the access questions asked on join.
type Directory interface {
	Auction(ctx context.Context, auctionID uint64) (*model.Auction, error)
	IsAuctionManager(ctx context.Context, auctionID, userID uint64) (bool, error)
	EnsureRegistration(ctx context.Context, userID, auctionID uint64) error
	Snapshot(ctx context.Context, auctionID uint64) (model.AuctionSnapshot, error)
}

// BidPlacer places bids on behalf of connections.
type BidPlacer interface {
	PlaceBid(ctx context.Context, in bidding.PlaceBidInput) (bidding.Result, error)
}

// Relay forwards locally committed events to other nodes.
type Relay interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Options tunes connection handling.
type Options struct {
	NodeID             string
	PingInterval       time.Duration
	SendBuffer         int
	WriteTimeout       time.Duration
	MaxFramesPerSecond int
	BidTimeout         time.Duration
}

// DefaultOptions match the production configuration.
func DefaultOptions() Options {
	return Options{
		NodeID:             "local",
		PingInterval:       30 * time.Second,
		SendBuffer:         64,
		WriteTimeout:       10 * time.Second,
		MaxFramesPerSecond: 20,
		BidTimeout:         15 * time.Second,
	}
}

// Join failures.
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrForbidden       = errors.New("not allowed to view this auction")
)

type room struct {
	key     RoomKey
	members map[string]*Conn
	byUser  map[uint64]*Conn
	// highest amount delivered per lot.  Local bids arrive in commit
	// order; a relayed bid that lost a race across nodes is dropped so
	// viewers never see a price go backwards.
	lastAmount map[uint64]int64
}

func newRoom(key RoomKey) *room {
	return &room{
		key:        key,
		members:    make(map[string]*Conn),
		byUser:     make(map[uint64]*Conn),
		lastAmount: make(map[uint64]int64),
	}
}

// Hub is the registry of connections and rooms.  All membership changes
// and deliveries happen under mu, which is what orders broadcasts within
// a room.
type Hub struct {
	dir  Directory
	bids BidPlacer
	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	conns   map[string]*Conn
	rooms   map[RoomKey]*room
	tenants map[uint64]map[string]*Conn
	// latest end time announced per lot, by room
	ends  map[RoomKey]map[uint64]time.Time
	relay Relay
}

// NewHub builds a hub.  Zero option values fall back to DefaultOptions.
func NewHub(dir Directory, bids BidPlacer, opts Options, log logrus.FieldLogger) *Hub {
	if dir == nil || bids == nil {
		panic("nil dependency passed to realtime.NewHub")
	}
	def := DefaultOptions()
	if opts.NodeID == "" {
		opts.NodeID = def.NodeID
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.MaxFramesPerSecond <= 0 {
		opts.MaxFramesPerSecond = def.MaxFramesPerSecond
	}
	if opts.BidTimeout <= 0 {
		opts.BidTimeout = def.BidTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		dir:     dir,
		bids:    bids,
		opts:    opts,
		log:     log.WithField("component", "realtime"),
		conns:   make(map[string]*Conn),
		rooms:   make(map[RoomKey]*room),
		tenants: make(map[uint64]map[string]*Conn),
		ends:    make(map[RoomKey]map[uint64]time.Time),
	}
}

// SetRelay attaches the cross-node relay.  Passing nil detaches it.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// register adds c to the connection and tenant indexes and greets it.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	set, ok := h.tenants[c.identity.TenantID]
	if !ok {
		set = make(map[string]*Conn)
		h.tenants[c.identity.TenantID] = set
	}
	set[c.id] = c
	h.mu.Unlock()

	h.send(c, Frame{Type: TypeConnected, Payload: connectedPayload{
		ConnectionID: c.id,
		UserID:       c.identity.UserID,
		TenantID:     c.identity.TenantID,
		Role:         c.identity.Role,
	}})
}

// unregister removes c everywhere and stops its writer.  It is safe to
// call more than once.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		if set := h.tenants[c.identity.TenantID]; set != nil {
			delete(set, c.id)
			if len(set) == 0 {
				delete(h.tenants, c.identity.TenantID)
			}
		}
		for key := range c.rooms {
			if r := h.rooms[key]; r != nil {
				h.removeMemberLocked(r, c)
				h.broadcastCountLocked(r)
			}
		}
		c.rooms = make(map[RoomKey]struct{})
	}
	h.mu.Unlock()
	c.close()
}

// Join validates access and adds c to the auction room.  A second
// connection of the same user supersedes the first.
func (h *Hub) Join(ctx context.Context, c *Conn, p JoinPayload) error {
	if p.TenantID == 0 || p.AuctionID == 0 {
		return ErrAuctionNotFound
	}
	a, err := h.dir.Auction(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	if a == nil || a.TenantID != p.TenantID {
		return ErrAuctionNotFound
	}
	if err := h.authorizeView(ctx, c.identity, a); err != nil {
		return err
	}
	snap, err := h.dir.Snapshot(ctx, a.ID)
	if err != nil {
		return err
	}

	key := RoomKey{TenantID: a.TenantID, AuctionID: a.ID}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[c.id]; !live {
		return nil
	}
	r, ok := h.rooms[key]
	if !ok {
		r = newRoom(key)
		h.rooms[key] = r
	}
	if old := r.byUser[c.identity.UserID]; old != nil && old != c {
		h.removeMemberLocked(r, old)
		old.enqueue(Frame{Type: TypeSessionSuperseded, Payload: supersededPayload{
			AuctionID: a.ID,
			Reason:    "signed in from another connection",
		}})
		old.close()
		h.log.WithFields(logrus.Fields{"user_id": c.identity.UserID, "room": key.String(), "conn_id": old.id}).Info("session superseded")
		// removing the only member discards the room
		h.rooms[key] = r
	}
	r.members[c.id] = c
	r.byUser[c.identity.UserID] = c
	c.rooms[key] = struct{}{}

	h.deliverLocked(c, Frame{Type: TypeJoined, Payload: joinedPayload{
		Room:       key.String(),
		Snapshot:   snap,
		Lots:       snap.Lots,
		ServerTime: time.Now().UTC(),
	}})
	h.broadcastCountLocked(r)
	return nil
}

func (h *Hub) authorizeView(ctx context.Context, id model.Identity, a *model.Auction) error {
	switch id.Role {
	case model.RoleSuperAdmin:
		return nil
	case model.RoleAdmin:
		if id.TenantID == a.TenantID {
			return nil
		}
		return ErrForbidden
	case model.RoleManager:
		if id.TenantID == a.TenantID {
			ok, err := h.dir.IsAuctionManager(ctx, a.ID, id.UserID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
	if id.TenantID != a.TenantID {
		return ErrForbidden
	}
	return h.dir.EnsureRegistration(ctx, id.UserID, a.ID)
}

// Leave removes c from a room.
func (h *Hub) Leave(c *Conn, key RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[key]
	if r == nil || r.members[c.id] == nil {
		return
	}
	h.removeMemberLocked(r, c)
	delete(c.rooms, key)
	h.deliverLocked(c, Frame{Type: TypeLeft, Payload: leftPayload{Room: key.String(), AuctionID: key.AuctionID}})
	h.broadcastCountLocked(r)
}

func (h *Hub) removeMemberLocked(r *room, c *Conn) {
	delete(r.members, c.id)
	if r.byUser[c.identity.UserID] == c {
		delete(r.byUser, c.identity.UserID)
	}
	delete(c.rooms, r.key)
	if len(r.members) == 0 {
		delete(h.rooms, r.key)
	}
}

func (h *Hub) broadcastCountLocked(r *room) {
	f := Frame{Type: TypeParticipantCount, Payload: participantCountPayload{AuctionID: r.key.AuctionID, Count: len(r.members)}}
	for _, m := range r.members {
		h.deliverLocked(m, f)
	}
}

// deliverLocked queues f for c and terminates c when its queue is full.
func (h *Hub) deliverLocked(c *Conn, f Frame) {
	if c.enqueue(f) {
		return
	}
	if !c.closing() {
		h.log.WithFields(logrus.Fields{"conn_id": c.id, "user_id": c.identity.UserID}).Warn("send queue full; terminating connection")
		c.close()
	}
}

func (h *Hub) send(c *Conn, f Frame) {
	h.mu.Lock()
	h.deliverLocked(c, f)
	h.mu.Unlock()
}

// PublishCommitted fans a newly committed bid out to the room, and to
// other nodes through the relay.  The bidding service calls it once per
// bid, in commit order per lot.
func (h *Hub) PublishCommitted(ctx context.Context, res bidding.Result) {
	h.deliverBid(res.Event)
	if res.Extension != nil {
		h.deliverExtension(*res.Extension)
	}
	h.relayOut(ctx, events.BidPlaced(h.opts.NodeID, res.Event))
	if res.Extension != nil {
		h.relayOut(ctx, events.TimeExtended(h.opts.NodeID, *res.Extension))
	}
}

// PublishStatusChange broadcasts a committed lifecycle transition.
func (h *Hub) PublishStatusChange(ctx context.Context, snap model.AuctionSnapshot) {
	h.deliverStatus(snap)
	h.relayOut(ctx, events.StatusChanged(h.opts.NodeID, snap))
}

// DeliverRemote hands an envelope from another node to local viewers.
func (h *Hub) DeliverRemote(env events.Envelope) {
	switch env.Kind {
	case events.KindBidPlaced:
		h.deliverBid(*env.Bid)
	case events.KindTimeExtended:
		h.deliverExtension(*env.Extension)
	case events.KindStatusChanged:
		h.deliverStatus(*env.Snapshot)
	}
}

func (h *Hub) relayOut(ctx context.Context, env events.Envelope) {
	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := relay.Publish(ctx, env); err != nil {
		h.log.WithError(err).WithField("kind", env.Kind).Debug("relay publish skipped")
	}
}

func (h *Hub) deliverBid(evt bidding.BidEvent) {
	key := RoomKey{TenantID: evt.TenantID, AuctionID: evt.AuctionID}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[key]
	if r == nil {
		return
	}
	if last, seen := r.lastAmount[evt.LotID]; seen && evt.Amount <= last {
		h.log.WithFields(logrus.Fields{"lot_id": evt.LotID, "amount": evt.Amount, "last": last}).Debug("stale bid broadcast dropped")
		return
	}
	r.lastAmount[evt.LotID] = evt.Amount
	for _, m := range r.members {
		h.deliverLocked(m, Frame{Type: TypeBidPlaced, Payload: MaskForRole(evt, m.identity.Role)})
	}
}

func (h *Hub) deliverExtension(ext bidding.Extension) {
	f := Frame{Type: TypeAuctionTimeExtended, Payload: timeExtendedPayload{
		AuctionID:        ext.AuctionID,
		LotID:            ext.LotID,
		NewEndTime:       ext.NewEndTime.UTC(),
		AuctionEndTime:   ext.AuctionEndTime.UTC(),
		ExtensionSeconds: ext.ExtensionSeconds,
	}}
	key := RoomKey{TenantID: ext.TenantID, AuctionID: ext.AuctionID}
	h.mu.Lock()
	defer h.mu.Unlock()
	lots, ok := h.ends[key]
	if !ok {
		lots = make(map[uint64]time.Time)
		h.ends[key] = lots
	}
	if last, seen := lots[ext.LotID]; seen && !ext.NewEndTime.After(last) {
		h.log.WithFields(logrus.Fields{"lot_id": ext.LotID, "new_end": ext.NewEndTime, "last": last}).Debug("stale extension dropped")
		return
	}
	lots[ext.LotID] = ext.NewEndTime
	sent := make(map[string]struct{})
	if r := h.rooms[key]; r != nil {
		for id, m := range r.members {
			sent[id] = struct{}{}
			h.deliverLocked(m, f)
		}
	}
	for id, m := range h.tenants[ext.TenantID] {
		if _, dup := sent[id]; dup {
			continue
		}
		h.deliverLocked(m, f)
	}
}

func (h *Hub) deliverStatus(snap model.AuctionSnapshot) {
	key := RoomKey{TenantID: snap.TenantID, AuctionID: snap.AuctionID}
	f := Frame{Type: TypeAuctionStatusChanged, Payload: statusChangedPayload{
		AuctionID: snap.AuctionID,
		Status:    snap.Status,
		Snapshot:  snap,
	}}
	h.mu.Lock()
	defer h.mu.Unlock()
	if snap.Status.Terminal() {
		delete(h.ends, key)
	}
	if r := h.rooms[key]; r != nil {
		for _, m := range r.members {
			h.deliverLocked(m, f)
		}
	}
}

// placeBid runs PLACE_BID for c.  Panics become a rejection so one bad
// frame never takes the connection down.
func (h *Hub) placeBid(ctx context.Context, c *Conn, p PlaceBidPayload) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{"panic": r, "lot_id": p.LotID, "request_id": p.RequestID}).Error("bid handler panic")
			h.send(c, rejectionFrame(bidding.AsError(errors.New("internal error"), p.LotID, p.RequestID)))
		}
	}()

	key := RoomKey{TenantID: p.TenantID, AuctionID: p.AuctionID}
	if p.TenantID != c.identity.TenantID {
		h.send(c, rejectionFrame(withIDs(bidding.ErrWrongTenant, p)))
		return
	}
	if !h.isMember(c, key) {
		h.send(c, rejectionFrame(withIDs(errNotInRoom, p)))
		return
	}
	if c.identity.Role != model.RoleBidder {
		h.send(c, rejectionFrame(withIDs(bidding.ErrRoleNotAllowed, p)))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.BidTimeout)
	defer cancel()
	res, err := h.bids.PlaceBid(ctx, bidding.PlaceBidInput{
		LotID:     p.LotID,
		AuctionID: p.AuctionID,
		Amount:    p.Amount,
		BidderID:  c.identity.UserID,
		TenantID:  c.identity.TenantID,
		RequestID: p.RequestID,
	})
	if err != nil {
		h.send(c, rejectionFrame(bidding.AsError(err, p.LotID, p.RequestID)))
		return
	}
	// a new bid already reached the submitter with the room broadcast;
	// a replay is acknowledged to the submitter alone
	if !res.WasNewlyCreated {
		h.send(c, Frame{Type: TypeBidPlaced, Payload: MaskForRole(res.Event, c.identity.Role)})
	}
}

func (h *Hub) isMember(c *Conn, key RoomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := c.rooms[key]
	return ok
}

var errNotInRoom = &bidding.Error{Kind: bidding.KindAuthorization, Code: "NOT_IN_ROOM", Message: "join the auction before bidding"}

func withIDs(base *bidding.Error, p PlaceBidPayload) *bidding.Error {
	e := *base
	e.LotID, e.RequestID = p.LotID, p.RequestID
	return &e
}

func rejectionFrame(e *bidding.Error) Frame {
	return Frame{Type: TypeBidRejected, Payload: bidRejectedPayload{
		LotID:           e.LotID,
		RequestID:       e.RequestID,
		Reason:          e.Message,
		Code:            e.Code,
		MinimumAmount:   e.MinimumAmount,
		NextValidAmount: e.NextValidAmount,
		Retryable:       e.Retryable,
	}}
}

// Sweep runs one liveness round: connections that did not answer the
// previous PING are terminated, the rest are pinged again.
func (h *Hub) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	ping := Frame{Type: TypePing, Payload: pingPayload{ServerTime: time.Now().UTC()}}
	for _, c := range h.conns {
		if !c.alive.Swap(false) {
			h.log.WithFields(logrus.Fields{"conn_id": c.id, "user_id": c.identity.UserID}).Info("liveness check failed; terminating connection")
			c.close()
			continue
		}
		h.deliverLocked(c, ping)
	}
}

// RunLiveness sweeps every PingInterval until ctx is cancelled.
func (h *Hub) RunLiveness(ctx context.Context) {
	t := time.NewTicker(h.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Sweep()
		}
	}
}

// Close terminates every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.unregister(c)
	}
}

// Participants returns the member count of a room.
func (h *Hub) Participants(key RoomKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[key]; r != nil {
		return len(r.members)
	}
	return 0
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
