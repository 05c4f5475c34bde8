package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/client"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/clocksync"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/feed"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/session"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

type globals struct {
	gateway     string
	bidder      string
	name        string
	formatsFile string
}

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "warn"))
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	g := &globals{}
	root := &cobra.Command{
		Use:          "bidder",
		Short:        "Live auction bidder client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.gateway, "gateway", getEnv("AUCTION_GATEWAY_URL", "http://localhost:8080"), "auction gateway base URL")
	root.PersistentFlags().StringVar(&g.bidder, "bidder", os.Getenv("BIDDER_ID"), "bidding team id")
	root.PersistentFlags().StringVar(&g.name, "name", os.Getenv("BIDDER_NAME"), "bidding team display name")
	root.PersistentFlags().StringVar(&g.formatsFile, "formats", os.Getenv("AUCTION_FORMATS_FILE"), "format rules YAML, defaults when empty")

	root.AddCommand(
		newTimeCmd(g),
		newListCmd(g),
		newShowCmd(g),
		newBidCmd(g),
		newWatchCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) client() *client.Client {
	opts := []client.Option{}
	if id, err := uuid.Parse(g.bidder); err == nil {
		opts = append(opts, client.WithBidderID(id))
	}
	return client.New(g.gateway, opts...)
}

func (g *globals) identity() (session.Identity, error) {
	id, err := uuid.Parse(g.bidder)
	if err != nil {
		return session.Identity{}, fmt.Errorf("--bidder must be a team id: %w", err)
	}
	name := g.name
	if name == "" {
		name = id.String()[:8]
	}
	return session.Identity{BidderID: id, BidderName: name}, nil
}

func newTimeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show the offset between this machine and the server clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			clk := clocksync.NewSynchronizer(g.client(), clockwork.NewRealClock(), clocksync.DefaultConfig())
			if err := clk.Sync(cmd.Context()); err != nil {
				return err
			}
			offset, _ := clk.Offset()
			printKV("Server time", clk.Now().Format(time.RFC3339Nano))
			printKV("Offset", offset.String())
			return nil
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List auctions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			auctions, err := g.client().ListAuctions(ctx, models.AuctionStatus(status))
			if err != nil {
				return err
			}
			printAuctionTable(auctions)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(models.AuctionStatusActive), "queued, active, settled or cancelled; empty for all")
	return cmd
}

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <auction-id>",
		Short: "Show one auction and its bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid auction id: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			c := g.client()
			a, err := c.GetAuction(ctx, id)
			if err != nil {
				return err
			}
			bids, err := c.ListBids(ctx, id)
			if err != nil {
				return err
			}
			clk := clocksync.NewSynchronizer(c, clockwork.NewRealClock(), clocksync.DefaultConfig())
			_ = clk.Sync(ctx)

			printAuction(*a, a.Deadline.Sub(clk.Now()))
			printBids(bids)
			return nil
		},
	}
}

func newBidCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction-id> [amount]",
		Short: "Place one bid; the amount defaults to the minimum admissible bid",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := g.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				amount, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount: %w", err)
				}
				s.SetInput(amount)
			}

			amount := s.Input()
			res, err := s.Submit(cmd.Context())
			if err != nil {
				printRejection(err, s)
				return nil
			}
			printSuccess(fmt.Sprintf("Bid of %s accepted.", money(amount)))
			if res.Extended {
				printWarn(fmt.Sprintf("Deadline extended to %s.", res.Auction.Deadline.Local().Format(time.TimeOnly)))
			}
			return nil
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "watch <auction-id>",
		Short: "Follow an auction live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, clk, err := g.openSession(ctx, args[0])
			if err != nil {
				return err
			}
			go func() { _ = clk.Run(ctx) }()

			snap, _ := s.Snapshot()
			printAuction(snap, s.Remaining())

			c := g.client()
			updates := feed.New(c, c, clockwork.NewRealClock(), feed.DefaultConfig()).Subscribe(ctx, snap.ID)
			notifier := feed.NewNotifier(snap.CurrentPrice)
			countdown := time.NewTicker(time.Second)
			defer countdown.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-updates:
					if !ok {
						return nil
					}
					s.Observe(u.Auction)
					if notifier.Offer(u.Auction.CurrentPrice) {
						announce(u.Auction, s.Identity().BidderID)
						if auto && !u.Auction.IsLeader(s.Identity().BidderID) {
							if _, err := s.Submit(ctx); err != nil {
								printRejection(err, s)
							}
						}
					}
					if u.Auction.Status.IsTerminal() {
						printFinal(u.Auction)
						return nil
					}
				case <-countdown.C:
					printCountdown(s.Remaining(), s.MinimumBid())
				}
			}
		},
	}
	cmd.Flags().BoolVar(&auto, "outbid", false, "answer every outbid with the minimum admissible bid")
	return cmd
}

func (g *globals) openSession(ctx context.Context, rawID string) (*session.Session, *clocksync.Synchronizer, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid auction id: %w", err)
	}
	identity, err := g.identity()
	if err != nil {
		return nil, nil, err
	}
	table, err := rules.LoadTable(g.formatsFile)
	if err != nil {
		return nil, nil, err
	}

	c := g.client()
	clk := clocksync.NewSynchronizer(c, clockwork.NewRealClock(), clocksync.DefaultConfig())
	if err := clk.Sync(ctx); err != nil {
		printWarn("Server clock unavailable, using the local clock.")
	}

	s := session.New(identity, id, c, clk, table, session.DefaultConfig())
	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.Load(loadCtx); err != nil {
		return nil, nil, err
	}
	return s, clk, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
