package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
)

// ReasonHeader carries the rejection reason in connect error metadata.
const ReasonHeader = "Auction-Reject-Reason"

func codeFor(reason rules.Reason) connect.Code {
	switch reason {
	case rules.ReasonAuctionNotActive, rules.ReasonAuctionExpired:
		return connect.CodeFailedPrecondition
	case rules.ReasonBidTooLow, rules.ReasonInsufficientBalance:
		return connect.CodeInvalidArgument
	case rules.ReasonEligibilityDenied:
		return connect.CodePermissionDenied
	case rules.ReasonSettlementConflict:
		return connect.CodeAborted
	case rules.ReasonNetworkTimeout:
		return connect.CodeDeadlineExceeded
	case rules.ReasonClockUnavailable:
		return connect.CodeUnavailable
	}
	return connect.CodeUnknown
}

// ToConnectError converts an engine error into the connect error the client
// will decode again with FromConnectError.
func ToConnectError(err error) *connect.Error {
	if reason, ok := rules.ReasonOf(err); ok {
		var rej *rules.Rejection
		errors.As(err, &rej)
		cerr := connect.NewError(codeFor(reason), errors.New(rej.Error()))
		cerr.Meta().Set(ReasonHeader, string(reason))
		return cerr
	}
	switch {
	case errors.Is(err, settlement.ErrAuctionNotFound), errors.Is(err, settlement.ErrTeamNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, settlement.ErrAuctionNotExpired):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// FromConnectError maps a connect failure back into the engine taxonomy. A
// call that ran out of time, on either side, is a NetworkTimeout.
func FromConnectError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return rules.Reject(rules.ReasonNetworkTimeout, "%v", err)
		}
		return err
	}

	if reason, ok := rules.ParseReason(cerr.Meta().Get(ReasonHeader)); ok {
		return &rules.Rejection{Reason: reason, Detail: detail(cerr.Message(), reason)}
	}
	switch cerr.Code() {
	case connect.CodeDeadlineExceeded:
		return rules.Reject(rules.ReasonNetworkTimeout, "%s", cerr.Message())
	case connect.CodeNotFound:
		return fmt.Errorf("%w: %s", settlement.ErrAuctionNotFound, cerr.Message())
	}
	return err
}

// detail strips the "Reason: " prefix the server side already rendered.
func detail(msg string, reason rules.Reason) string {
	prefix := string(reason) + ": "
	if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	if msg == string(reason) {
		return ""
	}
	return msg
}
