package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/events"
	"github.com/iliyamo/live-auction/internal/memstore"
	"github.com/iliyamo/live-auction/internal/model"
)

const (
	tenantID  = uint64(1)
	auctionID = uint64(10)
	lotID     = uint64(100)
)

var (
	alice   = model.Identity{UserID: 1, TenantID: tenantID, Role: model.RoleBidder}
	bob     = model.Identity{UserID: 2, TenantID: tenantID, Role: model.RoleBidder}
	admin   = model.Identity{UserID: 3, TenantID: tenantID, Role: model.RoleAdmin}
	super   = model.Identity{UserID: 4, TenantID: 9, Role: model.RoleSuperAdmin}
	foreign = model.Identity{UserID: 5, TenantID: 2, Role: model.RoleAdmin}
	manager = model.Identity{UserID: 6, TenantID: tenantID, Role: model.RoleManager}
	drifter = model.Identity{UserID: 7, TenantID: tenantID, Role: model.RoleManager}
)

type fixture struct {
	store *memstore.Store
	hub   *Hub
	hook  *test.Hook
	relay *fakeRelay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now().UTC()
	st := memstore.New()
	st.SetClock(func() time.Time { return now })
	st.AddAuction(model.Auction{
		ID: auctionID, TenantID: tenantID, Title: "Estate sale",
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
		BidIncrement: 100, Status: model.AuctionActive, Type: model.AuctionReal,
	})
	st.AddItem(memstore.Item{ID: 1000, TenantID: tenantID, Name: "Clock", Status: model.ItemInAuction})
	st.AddLot(model.Lot{ID: lotID, AuctionID: auctionID, ItemID: 1000, StartingBid: 1000})
	st.AddUser(alice.UserID, model.BidderNames{Name: "Alice", Email: "alice@example.com"})
	st.AddUser(bob.UserID, model.BidderNames{Email: "bob@example.com"})
	st.AddManager(auctionID, manager.UserID)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	svc := bidding.NewService(st, bidding.DefaultOptions(), logger)
	h := NewHub(st, svc, Options{NodeID: "node-a", SendBuffer: 32}, logger)
	svc.SetPublisher(h)
	relay := &fakeRelay{}
	h.SetRelay(relay)
	return &fixture{store: st, hub: h, hook: hook, relay: relay}
}

type captureWriter struct {
	frames chan Frame
	closed chan struct{}
	once   sync.Once
	block  chan struct{}
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{frames: make(chan Frame, 256), closed: make(chan struct{})}
}

func (w *captureWriter) WriteFrame(f Frame) error {
	if w.block != nil {
		<-w.block
	}
	w.frames <- f
	return nil
}

func (w *captureWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *captureWriter) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-w.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func (w *captureWriter) expect(t *testing.T, typ string) Frame {
	t.Helper()
	f := w.next(t)
	require.Equal(t, typ, f.Type, "payload: %#v", f.Payload)
	return f
}

func (w *captureWriter) quiet(t *testing.T) {
	t.Helper()
	select {
	case f := <-w.frames:
		t.Fatalf("unexpected frame %s: %#v", f.Type, f.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func (w *captureWriter) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

func (f *fixture) connect(t *testing.T, id model.Identity) (*Conn, *captureWriter) {
	t.Helper()
	w := newCaptureWriter()
	c := newConn(uuid.NewString(), id, w, 32)
	go c.writeLoop()
	f.hub.register(c)
	t.Cleanup(func() { f.hub.unregister(c) })
	w.expect(t, TypeConnected)
	return c, w
}

// joined connects id and joins the fixture auction, draining the join
// acknowledgements.
func (f *fixture) joined(t *testing.T, id model.Identity) (*Conn, *captureWriter) {
	t.Helper()
	c, w := f.connect(t, id)
	require.NoError(t, f.hub.Join(context.Background(), c, JoinPayload{TenantID: tenantID, AuctionID: auctionID}))
	w.expect(t, TypeJoined)
	w.expect(t, TypeParticipantCount)
	return c, w
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []events.Envelope
}

func (r *fakeRelay) Publish(_ context.Context, env events.Envelope) error {
	r.mu.Lock()
	r.sent = append(r.sent, env)
	r.mu.Unlock()
	return nil
}

func (r *fakeRelay) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.sent))
	for _, e := range r.sent {
		out = append(out, e.Kind)
	}
	return out
}
