package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/live-auction/internal/model"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFramePayloadBytes   = 4 << 10
	maxFrameBytes          = 64 << 10
)

// Authenticator resolves the caller of an upgrade request.
type Authenticator func(r *http.Request) (model.Identity, error)

type identityKey struct{}

// Handler returns the /ws endpoint.  The caller is authenticated before
// the upgrade; unauthenticated requests get 401 and no socket.
func (h *Hub) Handler(auth Authenticator) http.Handler {
	ws := websocket.Server{
		// Origin policy is left to the reverse proxy.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := auth(r)
		if err != nil {
			h.log.WithError(err).WithField("remote", r.RemoteAddr).Debug("websocket unauthorized")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ws.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (h *Hub) serve(ws *websocket.Conn) {
	req := ws.Request()
	id, ok := req.Context().Value(identityKey{}).(model.Identity)
	if !ok {
		_ = ws.Close()
		return
	}
	c := newConn(uuid.NewString(), id, newJSONWriter(ws, h.opts.WriteTimeout), h.opts.SendBuffer)
	go c.writeLoop()
	h.register(c)
	log := h.log.WithFields(logrus.Fields{"conn_id": c.id, "user_id": id.UserID, "tenant_id": id.TenantID})
	log.Debug("connection opened")
	defer func() {
		h.unregister(c)
		<-c.done
		log.Debug("connection closed")
	}()

	ctx := req.Context()
	ws.MaxPayloadBytes = maxFrameBytes
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var f inboundFrame
		if err := websocket.JSON.Receive(ws, &f); err != nil {
			if errors.Is(err, io.EOF) || c.closing() {
				return
			}
			decodeErrors++
			h.send(c, errorFrame("INVALID_ARGUMENT", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(f.Payload) > maxFramePayloadBytes {
			h.send(c, errorFrame("INVALID_ARGUMENT", "payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > h.opts.MaxFramesPerSecond {
			h.send(c, errorFrame("RATE_LIMITED", "too many frames"))
			log.Warn("frame rate exceeded; closing connection")
			return
		}

		h.dispatch(ctx, c, f)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, f inboundFrame) {
	switch f.Type {
	case TypeJoinAuction:
		var p JoinPayload
		if !h.decodePayload(c, f, &p) {
			return
		}
		if err := h.Join(ctx, c, p); err != nil {
			h.send(c, h.joinErrorFrame(err, p))
		}
	case TypeLeaveAuction:
		var p JoinPayload
		if !h.decodePayload(c, f, &p) {
			return
		}
		h.Leave(c, RoomKey{TenantID: p.TenantID, AuctionID: p.AuctionID})
	case TypePlaceBid:
		var p PlaceBidPayload
		if !h.decodePayload(c, f, &p) {
			return
		}
		h.placeBid(ctx, c, p)
	case TypePong:
		c.alive.Store(true)
	default:
		h.send(c, errorFrame("UNSUPPORTED_TYPE", "unsupported frame type"))
	}
}

func (h *Hub) decodePayload(c *Conn, f inboundFrame, v any) bool {
	if len(f.Payload) == 0 {
		h.send(c, errorFrame("INVALID_ARGUMENT", "payload is required"))
		return false
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		h.send(c, errorFrame("INVALID_ARGUMENT", "invalid "+f.Type+" payload"))
		return false
	}
	return true
}

func (h *Hub) joinErrorFrame(err error, p JoinPayload) Frame {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return errorFrame("NOT_FOUND", err.Error())
	case errors.Is(err, ErrForbidden):
		return errorFrame("FORBIDDEN", err.Error())
	}
	h.log.WithError(err).WithFields(logrus.Fields{"auction_id": p.AuctionID, "tenant_id": p.TenantID}).Error("join failed")
	return errorFrame("UNAVAILABLE", "could not join auction, try again")
}
