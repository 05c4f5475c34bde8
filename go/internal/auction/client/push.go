package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
)

// Watch opens the websocket change feed for one auction. The first message is
// a snapshot. The channel is closed when the connection drops or ctx ends;
// callers are expected to fall back to polling.
func (c *Client) Watch(ctx context.Context, auctionID uuid.UUID) (<-chan rpc.PushMessage, error) {
	u, err := c.watchURL(auctionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial change feed: %w", err)
	}

	out := make(chan rpc.PushMessage, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var msg rpc.PushMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("auction_id", auctionID.String()).Msg("change feed connection lost")
				}
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) watchURL(auctionID uuid.UUID) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/auction"

	q := url.Values{}
	q.Set("auction_id", auctionID.String())
	if c.bidderID != "" {
		q.Set("bidder_id", c.bidderID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
