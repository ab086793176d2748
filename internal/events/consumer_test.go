package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/model"
)

func TestConsumerHandleSkipsOwnOrigin(t *testing.T) {
	var got []Envelope
	c := NewConsumer("amqp://unused", "node-a", func(e Envelope) { got = append(got, e) }, nil)

	own, err := json.Marshal(BidPlaced("node-a", bidding.BidEvent{AuctionID: 1, LotID: 2, Amount: 10}))
	require.NoError(t, err)
	require.NoError(t, c.handle(own))
	require.Empty(t, got)

	remote, err := json.Marshal(BidPlaced("node-b", bidding.BidEvent{TenantID: 3, AuctionID: 1, LotID: 2, Amount: 10}))
	require.NoError(t, err)
	require.NoError(t, c.handle(remote))
	require.Len(t, got, 1)
	require.Equal(t, KindBidPlaced, got[0].Kind)
	require.Equal(t, uint64(3), got[0].TenantID)
	require.Equal(t, int64(10), got[0].Bid.Amount)
}

func TestConsumerHandleRejectsMalformed(t *testing.T) {
	c := NewConsumer("amqp://unused", "node-a", func(Envelope) { t.Fatal("sink called") }, nil)
	require.Error(t, c.handle([]byte("{")))
	require.Error(t, c.handle([]byte(`{"kind":"bid.placed","origin":"x"}`)))
	require.Error(t, c.handle([]byte(`{"kind":"mystery","origin":"x"}`)))
}

func TestEnvelopeConstructors(t *testing.T) {
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ext := TimeExtended("n", bidding.Extension{TenantID: 4, AuctionID: 5, LotID: 6, NewEndTime: end})
	require.Equal(t, KindTimeExtended, ext.Kind)
	require.Equal(t, uint64(5), ext.AuctionID)

	st := StatusChanged("n", model.AuctionSnapshot{AuctionID: 7, TenantID: 8, Status: model.AuctionActive})
	body, err := json.Marshal(st)
	require.NoError(t, err)
	back, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, model.AuctionActive, back.Snapshot.Status)
	require.Equal(t, uint64(8), back.TenantID)
}
