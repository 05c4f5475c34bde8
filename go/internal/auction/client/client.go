// Package client talks to the auction gateway: connect procedures for reads
// and bids, and the websocket change feed.
package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	bidderID string
	dialer   *websocket.Dialer

	placeBid     *connect.Client[rpc.PlaceBidRequest, rpc.PlaceBidResponse]
	getAuction   *connect.Client[rpc.GetAuctionRequest, rpc.GetAuctionResponse]
	listAuctions *connect.Client[rpc.ListAuctionsRequest, rpc.ListAuctionsResponse]
	listBids     *connect.Client[rpc.ListBidsRequest, rpc.ListBidsResponse]
	hasBid       *connect.Client[rpc.HasBidRequest, rpc.HasBidResponse]
	getTeam      *connect.Client[rpc.GetTeamRequest, rpc.GetTeamResponse]
	serverTime   *connect.Client[rpc.ServerTimeRequest, rpc.ServerTimeResponse]
}

type options struct {
	httpClient connect.HTTPClient
	dialer     *websocket.Dialer
	bidderID   string
}

type Option func(*options)

// WithHTTPClient replaces http.DefaultClient for connect calls.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithBidderID tags websocket connections with the bidder watching.
func WithBidderID(id uuid.UUID) Option {
	return func(o *options) { o.bidderID = id.String() }
}

func New(baseURL string, opts ...Option) *Client {
	o := options{
		httpClient: http.DefaultClient,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	hc := o.httpClient
	codec := rpc.WithJSON()
	return &Client{
		baseURL:  baseURL,
		bidderID: o.bidderID,
		dialer:   o.dialer,

		placeBid:     connect.NewClient[rpc.PlaceBidRequest, rpc.PlaceBidResponse](hc, baseURL+rpc.PlaceBidProcedure, codec),
		getAuction:   connect.NewClient[rpc.GetAuctionRequest, rpc.GetAuctionResponse](hc, baseURL+rpc.GetAuctionProcedure, codec),
		listAuctions: connect.NewClient[rpc.ListAuctionsRequest, rpc.ListAuctionsResponse](hc, baseURL+rpc.ListAuctionsProcedure, codec),
		listBids:     connect.NewClient[rpc.ListBidsRequest, rpc.ListBidsResponse](hc, baseURL+rpc.ListBidsProcedure, codec),
		hasBid:       connect.NewClient[rpc.HasBidRequest, rpc.HasBidResponse](hc, baseURL+rpc.HasBidProcedure, codec),
		getTeam:      connect.NewClient[rpc.GetTeamRequest, rpc.GetTeamResponse](hc, baseURL+rpc.GetTeamProcedure, codec),
		serverTime:   connect.NewClient[rpc.ServerTimeRequest, rpc.ServerTimeResponse](hc, baseURL+rpc.ServerTimeProcedure, codec),
	}
}

// PlaceBid submits a bid. Rejections come back as *rules.Rejection; a call
// that outlives ctx's deadline is a NetworkTimeout.
func (c *Client) PlaceBid(ctx context.Context, req rpc.PlaceBidRequest) (*rpc.PlaceBidResponse, error) {
	res, err := c.placeBid.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	res, err := c.getAuction.CallUnary(ctx, connect.NewRequest(&rpc.GetAuctionRequest{AuctionID: id}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return &res.Msg.Auction, nil
}

func (c *Client) ListAuctions(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	res, err := c.listAuctions.CallUnary(ctx, connect.NewRequest(&rpc.ListAuctionsRequest{Status: status}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return res.Msg.Auctions, nil
}

func (c *Client) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	res, err := c.listBids.CallUnary(ctx, connect.NewRequest(&rpc.ListBidsRequest{AuctionID: auctionID}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return res.Msg.Bids, nil
}

func (c *Client) HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	res, err := c.hasBid.CallUnary(ctx, connect.NewRequest(&rpc.HasBidRequest{AuctionID: auctionID, BidderID: bidderID}))
	if err != nil {
		return false, rpc.FromConnectError(err)
	}
	return res.Msg.HasBid, nil
}

func (c *Client) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	res, err := c.getTeam.CallUnary(ctx, connect.NewRequest(&rpc.GetTeamRequest{TeamID: id}))
	if err != nil {
		return nil, rpc.FromConnectError(err)
	}
	return &res.Msg.Team, nil
}

// ServerTime makes Client a clock synchronization source.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	res, err := c.serverTime.CallUnary(ctx, connect.NewRequest(&rpc.ServerTimeRequest{}))
	if err != nil {
		return time.Time{}, rpc.FromConnectError(err)
	}
	return rpc.FromMillis(res.Msg.UnixMillis), nil
}
