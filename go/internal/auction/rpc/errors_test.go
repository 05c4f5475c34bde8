package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"connectrpc.com/connect"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
)

func TestRejectionRoundTrip(t *testing.T) {
	tests := []struct {
		reason rules.Reason
		code   connect.Code
	}{
		{rules.ReasonAuctionNotActive, connect.CodeFailedPrecondition},
		{rules.ReasonAuctionExpired, connect.CodeFailedPrecondition},
		{rules.ReasonBidTooLow, connect.CodeInvalidArgument},
		{rules.ReasonInsufficientBalance, connect.CodeInvalidArgument},
		{rules.ReasonEligibilityDenied, connect.CodePermissionDenied},
		{rules.ReasonSettlementConflict, connect.CodeAborted},
		{rules.ReasonNetworkTimeout, connect.CodeDeadlineExceeded},
		{rules.ReasonClockUnavailable, connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			src := fmt.Errorf("wrapped: %w", rules.Reject(tt.reason, "detail %d", 7))
			cerr := ToConnectError(src)
			if cerr.Code() != tt.code {
				t.Fatalf("code = %v, want %v", cerr.Code(), tt.code)
			}

			back := FromConnectError(cerr)
			var rej *rules.Rejection
			if !errors.As(back, &rej) {
				t.Fatalf("decoded %T, want *rules.Rejection", back)
			}
			if rej.Reason != tt.reason || rej.Detail != "detail 7" {
				t.Fatalf("decoded %+v", rej)
			}
		})
	}
}

func TestNonRejectionErrors(t *testing.T) {
	if got := ToConnectError(settlement.ErrAuctionNotFound).Code(); got != connect.CodeNotFound {
		t.Fatalf("not found mapped to %v", got)
	}
	if got := ToConnectError(errors.New("disk on fire")).Code(); got != connect.CodeInternal {
		t.Fatalf("internal mapped to %v", got)
	}

	timeout := connect.NewError(connect.CodeDeadlineExceeded, context.DeadlineExceeded)
	if !errors.Is(FromConnectError(timeout), rules.ErrNetworkTimeout) {
		t.Fatal("deadline exceeded did not become NetworkTimeout")
	}
	if !errors.Is(FromConnectError(context.DeadlineExceeded), rules.ErrNetworkTimeout) {
		t.Fatal("bare context deadline did not become NetworkTimeout")
	}
	notFound := connect.NewError(connect.CodeNotFound, errors.New("auction not found"))
	if !errors.Is(FromConnectError(notFound), settlement.ErrAuctionNotFound) {
		t.Fatal("NotFound did not map to ErrAuctionNotFound")
	}
}
