package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// AuctionApp defines what the gateway needs from the settlement application
type AuctionApp interface {
	PlaceBid(ctx context.Context, req settlement.PlaceBidRequest) (*settlement.PlaceBidResult, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListAuctions(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	ServerTime(ctx context.Context) (time.Time, error)

	CreateAuction(ctx context.Context, req settlement.CreateAuctionRequest) (*models.Auction, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	Finalize(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Auction, error)

	Rules() rules.Table
}

// Service implements the AuctionService procedures
type Service struct {
	app AuctionApp
}

func NewService(app AuctionApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts every procedure on r under its connect path.
func (s *Service) RegisterRoutes(r chi.Router) {
	opt := rpc.WithJSON()
	r.Handle(rpc.PlaceBidProcedure, connect.NewUnaryHandler(rpc.PlaceBidProcedure, s.PlaceBid, opt))
	r.Handle(rpc.GetAuctionProcedure, connect.NewUnaryHandler(rpc.GetAuctionProcedure, s.GetAuction, opt))
	r.Handle(rpc.ListAuctionsProcedure, connect.NewUnaryHandler(rpc.ListAuctionsProcedure, s.ListAuctions, opt))
	r.Handle(rpc.ListBidsProcedure, connect.NewUnaryHandler(rpc.ListBidsProcedure, s.ListBids, opt))
	r.Handle(rpc.HasBidProcedure, connect.NewUnaryHandler(rpc.HasBidProcedure, s.HasBid, opt))
	r.Handle(rpc.GetTeamProcedure, connect.NewUnaryHandler(rpc.GetTeamProcedure, s.GetTeam, opt))
	r.Handle(rpc.ServerTimeProcedure, connect.NewUnaryHandler(rpc.ServerTimeProcedure, s.ServerTime, opt))
}

// PlaceBid submits a bid to the settlement procedure
func (s *Service) PlaceBid(ctx context.Context, req *connect.Request[rpc.PlaceBidRequest]) (*connect.Response[rpc.PlaceBidResponse], error) {
	msg := req.Msg
	if msg.AuctionID == uuid.Nil || msg.BidderID == uuid.Nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("auction_id and bidder_id are required"))
	}

	res, err := s.app.PlaceBid(ctx, settlement.PlaceBidRequest{
		AuctionID:     msg.AuctionID,
		BidderID:      msg.BidderID,
		BidderName:    msg.BidderName,
		Amount:        msg.Amount,
		ExpectedPrice: msg.ExpectedPrice,
		ShouldExtend:  msg.ShouldExtend,
	})
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}

	return connect.NewResponse(&rpc.PlaceBidResponse{
		Auction:  rules.Project(res.Auction, s.app.Rules()),
		Bid:      res.Bid,
		Extended: res.Extended,
	}), nil
}

// GetAuction returns the observer view of one auction with the server time
// it was read at.
func (s *Service) GetAuction(ctx context.Context, req *connect.Request[rpc.GetAuctionRequest]) (*connect.Response[rpc.GetAuctionResponse], error) {
	snapshot, err := s.Snapshot(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.GetAuctionResponse{
		Auction:    snapshot.Auction,
		ServerTime: snapshot.ServerTime,
	}), nil
}

func (s *Service) ListAuctions(ctx context.Context, req *connect.Request[rpc.ListAuctionsRequest]) (*connect.Response[rpc.ListAuctionsResponse], error) {
	auctions, err := s.app.ListAuctions(ctx, req.Msg.Status)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	table := s.app.Rules()
	out := make([]models.Auction, len(auctions))
	for i, a := range auctions {
		out[i] = rules.Project(a, table)
	}
	return connect.NewResponse(&rpc.ListAuctionsResponse{Auctions: out}), nil
}

func (s *Service) ListBids(ctx context.Context, req *connect.Request[rpc.ListBidsRequest]) (*connect.Response[rpc.ListBidsResponse], error) {
	bids, err := s.app.ListBids(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.ListBidsResponse{Bids: bids}), nil
}

func (s *Service) HasBid(ctx context.Context, req *connect.Request[rpc.HasBidRequest]) (*connect.Response[rpc.HasBidResponse], error) {
	has, err := s.app.HasBid(ctx, req.Msg.AuctionID, req.Msg.BidderID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.HasBidResponse{HasBid: has}), nil
}

func (s *Service) GetTeam(ctx context.Context, req *connect.Request[rpc.GetTeamRequest]) (*connect.Response[rpc.GetTeamResponse], error) {
	team, err := s.app.GetTeam(ctx, req.Msg.TeamID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&rpc.GetTeamResponse{Team: *team}), nil
}

// ServerTime answers clock synchronization queries from the store's clock.
func (s *Service) ServerTime(ctx context.Context, _ *connect.Request[rpc.ServerTimeRequest]) (*connect.Response[rpc.ServerTimeResponse], error) {
	now, err := s.app.ServerTime(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewResponse(&rpc.ServerTimeResponse{UnixMillis: rpc.Millis(now)}), nil
}

// Snapshot builds the frame a new websocket watcher starts from.
func (s *Service) Snapshot(ctx context.Context, auctionID uuid.UUID) (*rpc.PushMessage, error) {
	auction, err := s.app.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	now, err := s.app.ServerTime(ctx)
	if err != nil {
		return nil, err
	}
	return &rpc.PushMessage{
		Type:       rpc.TypeSnapshot,
		Auction:    rules.Project(*auction, s.app.Rules()),
		ServerTime: rpc.Millis(now),
	}, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
