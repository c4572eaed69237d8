// report печатает активные позиции и последние тики из настроенного хранилища.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"var_gold/internal/models"
	"var_gold/internal/modules/config"
	modstorage "var_gold/internal/modules/storage"
	"var_gold/internal/position"
	"var_gold/internal/storage"
)

func main() {
	ticks := flag.Int("ticks", 20, "how many recent ticks to print")
	all := flag.Bool("all", false, "include CLOSED positions")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeFn, err := modstorage.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	if err := printPositions(ctx, store, *all); err != nil {
		log.Fatal(err)
	}
	if *ticks > 0 {
		if err := printTicks(ctx, store, cfg.Market.Pair, *ticks); err != nil {
			log.Fatal(err)
		}
	}
}

func printPositions(ctx context.Context, store storage.PositionStore, all bool) error {
	statuses := models.ActiveStatuses
	if all {
		statuses = nil
	}
	positions, err := store.ListPositions(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	fmt.Printf("\npositions: %d\n", len(positions))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Signal", "Entry", "Close trigger", "Close", "Updated")
	for _, p := range positions {
		table.Append(
			p.PositionID,
			string(p.Status),
			fmt.Sprintf("%.4f", p.SignalSpread),
			position.FormatOptional(p.EntrySpreadActual, "", ""),
			position.FormatOptional(p.CloseTrigger, "", ""),
			position.FormatOptional(p.CloseSpreadActual, "", ""),
			time.UnixMilli(p.UpdatedAtTs).UTC().Format("2006-01-02 15:04:05"),
		)
	}
	return table.Render()
}

func printTicks(ctx context.Context, store storage.TickStore, pair string, limit int) error {
	snaps, err := store.RecentTicks(ctx, pair, limit)
	if err != nil {
		return fmt.Errorf("recent ticks: %w", err)
	}

	fmt.Printf("\n%s ticks: %d\n", pair, len(snaps))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "PAXG bid", "PAXG ask", "XAUT bid", "XAUT ask", "Open", "Close", "Funding/yr", "Latency")
	for _, s := range snaps {
		table.Append(
			time.UnixMilli(s.TsMs).UTC().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.2f", s.PaxgBid),
			fmt.Sprintf("%.2f", s.PaxgAsk),
			fmt.Sprintf("%.2f", s.XautBid),
			fmt.Sprintf("%.2f", s.XautAsk),
			fmt.Sprintf("%.4f", s.SpreadOpen),
			fmt.Sprintf("%.4f", s.SpreadClose),
			position.FormatOptional(s.FundingDiffAnnual, "", ""),
			fmt.Sprintf("%dms", s.LatencyMs),
		)
	}
	return table.Render()
}
