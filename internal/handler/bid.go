package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/live-auction/internal/bidding"
	"github.com/iliyamo/live-auction/internal/middleware"
)

// BidPlacer is the bid protocol entry point.
type BidPlacer interface {
	PlaceBid(ctx context.Context, in bidding.PlaceBidInput) (bidding.Result, error)
}

// BidHandler accepts bids over REST for clients that do not hold a
// websocket open.  Accepted bids reach viewers through the bidding
// service's publisher, the same way as bids placed over the socket.
type BidHandler struct {
	bids BidPlacer
	log  logrus.FieldLogger
}

// NewBidHandler panics if bids is nil.
func NewBidHandler(bids BidPlacer, log logrus.FieldLogger) *BidHandler {
	if bids == nil {
		panic("nil dependency passed to NewBidHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BidHandler{bids: bids, log: log.WithField("component", "bid_handler")}
}

type placeBidRequest struct {
	AuctionID uint64 `json:"auction_id"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
}

type bidResponse struct {
	ID        uint64 `json:"id"`
	LotID     uint64 `json:"lot_id"`
	AuctionID uint64 `json:"auction_id"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
	BidTime   string `json:"bid_time"`
	Created   bool   `json:"created"`

	Extended *extensionResponse `json:"extended,omitempty"`
}

type extensionResponse struct {
	NewEndTime       string `json:"new_end_time"`
	ExtensionSeconds int    `json:"extension_seconds"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// PlaceBid handles POST /v1/lots/:id/bids.  A new bid answers 201, a
// replay of a known request id answers 200 with the original bid.
func (h *BidHandler) PlaceBid(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	lotID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || lotID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot id"})
	}
	var body placeBidRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	res, err := h.bids.PlaceBid(ctx, bidding.PlaceBidInput{
		LotID:     lotID,
		AuctionID: body.AuctionID,
		Amount:    body.Amount,
		BidderID:  id.UserID,
		TenantID:  id.TenantID,
		RequestID: body.RequestID,
	})
	if err != nil {
		be := bidding.AsError(err, lotID, body.RequestID)
		if be.Kind == bidding.KindInfrastructure && !be.Retryable {
			h.log.WithError(err).WithField("lot_id", lotID).Error("rest bid failed")
		}
		return c.JSON(rejectionStatus(be), rejectionBody(be))
	}

	out := bidResponse{
		ID:        res.Bid.ID,
		LotID:     res.Bid.LotID,
		AuctionID: res.Bid.AuctionID,
		Amount:    res.Bid.OfferedPrice,
		RequestID: res.Bid.RequestID,
		BidTime:   res.Bid.BidTime.UTC().Format(timeLayout),
		Created:   res.WasNewlyCreated,
	}
	if res.Extension != nil {
		out.Extended = &extensionResponse{
			NewEndTime:       res.Extension.NewEndTime.UTC().Format(timeLayout),
			ExtensionSeconds: res.Extension.ExtensionSeconds,
		}
	}
	if res.WasNewlyCreated {
		return c.JSON(http.StatusCreated, out)
	}
	return c.JSON(http.StatusOK, out)
}

func rejectionStatus(e *bidding.Error) int {
	switch e.Kind {
	case bidding.KindValidation:
		return http.StatusUnprocessableEntity
	case bidding.KindAuthorization:
		return http.StatusForbidden
	case bidding.KindState:
		if e.Code == bidding.ErrLotNotFound.Code {
			return http.StatusNotFound
		}
		return http.StatusConflict
	}
	if e.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func rejectionBody(e *bidding.Error) echo.Map {
	m := echo.Map{
		"error":      e.Message,
		"code":       e.Code,
		"lot_id":     e.LotID,
		"request_id": e.RequestID,
		"retryable":  e.Retryable,
	}
	if e.MinimumAmount > 0 {
		m["minimum_amount"] = e.MinimumAmount
	}
	if e.NextValidAmount > 0 {
		m["next_valid_amount"] = e.NextValidAmount
	}
	return m
}
