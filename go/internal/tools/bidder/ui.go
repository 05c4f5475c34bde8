package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/session"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) { success.Println(msg) }
func printWarn(msg string)    { warn.Println(msg) }
func printError(msg string)   { danger.Println(msg) }

func printKV(key, value string) {
	accent.Printf("%-14s", key)
	neutral.Println(value)
}

func money(v int64) string {
	s := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return "$" + b.String()
}

func leader(a models.Auction) string {
	if a.CurrentLeaderID == nil {
		return "-"
	}
	if a.CurrentLeaderName != "" {
		return a.CurrentLeaderName
	}
	return a.CurrentLeaderID.String()[:8]
}

func printAuctionTable(auctions []models.Auction) {
	if len(auctions) == 0 {
		printWarn("No auctions.")
		return
	}
	accent.Printf("%-36s  %-7s  %-9s  %-24s  %14s  %s\n", "ID", "FORMAT", "STATUS", "SUBJECT", "PRICE", "LEADER")
	for _, a := range auctions {
		neutral.Printf("%-36s  %-7s  %-9s  %-24s  %14s  %s\n",
			a.ID, a.Format, a.Status, a.Subject.Name, money(a.CurrentPrice), leader(a))
	}
}

func printAuction(a models.Auction, remaining time.Duration) {
	printKV("Auction", a.ID.String())
	printKV("Subject", a.Subject.Name)
	printKV("Format", string(a.Format))
	printKV("Status", string(a.Status))
	printKV("Price", money(a.CurrentPrice))
	printKV("Leader", leader(a))
	if a.Status == models.AuctionStatusActive {
		printKV("Remaining", formatRemaining(remaining))
	}
	keys := make([]string, 0, len(a.Subject.Attributes))
	for k := range a.Subject.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printKV("  "+k, a.Subject.Attributes[k])
	}
}

func printBids(bids []models.Bid) {
	if len(bids) == 0 {
		return
	}
	accent.Println("Bids")
	for _, b := range bids {
		neutral.Printf("  %s  %-20s %14s\n", b.CreatedAt.Local().Format(time.TimeOnly), b.BidderName, money(b.Amount))
	}
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "closed"
	}
	return d.Truncate(time.Second).String()
}

func printCountdown(remaining time.Duration, minimum int64) {
	c := neutral
	if remaining <= 15*time.Second {
		c = warn
	}
	c.Printf("\r%-10s next bid %s   ", formatRemaining(remaining), money(minimum))
}

func announce(a models.Auction, me uuid.UUID) {
	fmt.Println()
	if a.IsLeader(me) {
		success.Printf("You lead at %s\n", money(a.CurrentPrice))
		return
	}
	danger.Printf("%s bid %s\n", leader(a), money(a.CurrentPrice))
}

func printFinal(a models.Auction) {
	fmt.Println()
	if a.Status == models.AuctionStatusCancelled {
		printWarn("Auction cancelled.")
		return
	}
	printSuccess(fmt.Sprintf("Auction settled: %s wins at %s.", leader(a), money(a.CurrentPrice)))
}

func printRejection(err error, s *session.Session) {
	if errors.Is(err, session.ErrCooldown) {
		printWarn("Previous bid still in flight.")
		return
	}
	reason, ok := rules.ReasonOf(err)
	if !ok {
		printError(err.Error())
		return
	}
	switch reason {
	case rules.ReasonSettlementConflict:
		printWarn(fmt.Sprintf("Someone got there first. Next bid is %s.", money(s.Input())))
	case rules.ReasonNetworkTimeout:
		printWarn("No answer from the server; check the auction before bidding again.")
	default:
		printError(err.Error())
	}
}
