package bidding

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection so transports can map it to a status.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindState          Kind = "state"
	KindInfrastructure Kind = "infrastructure"
)

// Error is the typed rejection returned by PlaceBid.  It always carries
// the lot and request ids so a client can clear its pending state, and
// the computed amounts when the rejection is about price.
type Error struct {
	Kind            Kind
	Code            string
	Message         string
	LotID           uint64
	RequestID       string
	MinimumAmount   int64
	NextValidAmount int64
	Retryable       bool
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func sentinel(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation errors.
var (
	ErrInvalidRequestID = sentinel(KindValidation, "INVALID_REQUEST_ID", "request id is required")
	ErrInvalidAmount    = sentinel(KindValidation, "INVALID_AMOUNT", "amount must be a positive 32-bit integer")
	ErrAmountTooLow     = sentinel(KindValidation, "AMOUNT_TOO_LOW", "amount is below the minimum bid")
	ErrAmountMisaligned = sentinel(KindValidation, "AMOUNT_MISALIGNED", "amount is not aligned to the bid increment")
)

// Authorization errors.
var (
	ErrWrongTenant       = sentinel(KindAuthorization, "FORBIDDEN_TENANT", "lot belongs to another tenant")
	ErrNotRegistered     = sentinel(KindAuthorization, "NOT_REGISTERED", "bidder is not registered for this auction")
	ErrRequestIDConflict = sentinel(KindAuthorization, "REQUEST_ID_CONFLICT", "request id was used for a different bid")
	ErrRoleNotAllowed    = sentinel(KindAuthorization, "ROLE_NOT_ALLOWED", "only bidders may place bids")
)

// State errors.
var (
	ErrLotNotFound      = sentinel(KindState, "LOT_NOT_FOUND", "lot not found")
	ErrAuctionNotActive = sentinel(KindState, "AUCTION_NOT_ACTIVE", "auction is not active")
	ErrLotNotStarted    = sentinel(KindState, "LOT_NOT_STARTED", "bidding on this lot has not started")
	ErrLotClosed        = sentinel(KindState, "LOT_CLOSED", "bidding on this lot has ended")
)

// Infrastructure errors.
var (
	ErrLockTimeout = &Error{Kind: KindInfrastructure, Code: "LOCK_TIMEOUT", Message: "bid could not be processed in time, retry with the same request id", Retryable: true}
	ErrInternal    = sentinel(KindInfrastructure, "INTERNAL", "bid could not be processed")
)

// reject copies a sentinel and attaches request context.
func reject(base *Error, in PlaceBidInput) *Error {
	e := *base
	e.LotID = in.LotID
	e.RequestID = in.RequestID
	return &e
}

// AsError extracts a *Error from err, wrapping anything else as
// ErrInternal.  Transports use it to always have a code to report.
func AsError(err error, lotID uint64, requestID string) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	e := *ErrInternal
	e.LotID = lotID
	e.RequestID = requestID
	e.Err = err
	return &e
}
