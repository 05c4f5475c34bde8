// Package rpc is the wire contract between the auction gateway and its
// clients: connect procedures carried as plain JSON, the websocket push
// message, and the mapping between rejections and connect errors.
package rpc

import (
	"encoding/json"

	"connectrpc.com/connect"
)

const ServiceName = "auction.v1.AuctionService"

const (
	PlaceBidProcedure     = "/" + ServiceName + "/PlaceBid"
	GetAuctionProcedure   = "/" + ServiceName + "/GetAuction"
	ListAuctionsProcedure = "/" + ServiceName + "/ListAuctions"
	ListBidsProcedure     = "/" + ServiceName + "/ListBids"
	HasBidProcedure       = "/" + ServiceName + "/HasBid"
	GetTeamProcedure      = "/" + ServiceName + "/GetTeam"
	ServerTimeProcedure   = "/" + ServiceName + "/ServerTime"
)

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Codec replaces connect's protobuf JSON codec so plain Go structs travel as
// application/json.
var Codec connect.Codec = jsonCodec{}

// WithJSON is the option both handlers and clients are built with.
func WithJSON() connect.Option {
	return connect.WithCodec(Codec)
}
