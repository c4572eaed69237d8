package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"var_gold/internal/models"
	"var_gold/internal/storage"
)

const defaultBatchSize = 30

type tickRow struct {
	pair string
	snap models.MarketSnapshot
}

// batchSender: минимальная часть driver.Conn, нужная для вставки пачки.
type batchSender interface {
	send(ctx context.Context, rows []tickRow) error
}

// TickSink копит тики и пишет их в spread_ticks пачками.
type TickSink struct {
	sender    batchSender
	batchSize int

	mu  sync.Mutex
	buf []tickRow
}

var _ storage.TickSink = (*TickSink)(nil)

// NewTickSink ...
func NewTickSink(conn *Conn, batchSize int) *TickSink {
	return newTickSink(&connSender{conn: conn}, batchSize)
}

func newTickSink(sender batchSender, batchSize int) *TickSink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TickSink{sender: sender, batchSize: batchSize}
}

// WriteTick буферизует тик и сбрасывает буфер, когда он заполнен.
func (s *TickSink) WriteTick(ctx context.Context, pair string, snapshot models.MarketSnapshot) error {
	s.mu.Lock()
	s.buf = append(s.buf, tickRow{pair: pair, snap: snapshot})
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if !full {
		return nil
	}
	return s.Flush(ctx)
}

// Flush пишет всё, что накоплено. При ошибке строки остаются в буфере до следующей попытки.
func (s *TickSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return nil
	}
	if err := s.sender.send(ctx, s.buf); err != nil {
		if len(s.buf) > s.batchSize*10 {
			// не даём буферу расти бесконечно при долгой недоступности
			s.buf = append(s.buf[:0], s.buf[len(s.buf)-s.batchSize*10:]...)
		}
		return fmt.Errorf("clickhouse.Flush: %w", err)
	}
	s.buf = s.buf[:0]
	return nil
}

// Pending ...
func (s *TickSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

type connSender struct {
	conn *Conn
}

func (c *connSender) send(ctx context.Context, rows []tickRow) error {
	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO spread_ticks (
			pair, ts, paxg_bid, paxg_ask, xaut_bid, xaut_ask, spread_open, spread_close,
			funding_diff_annual, quote_size_paxg, quote_size_xaut, latency_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		err = batch.Append(
			r.pair, time.UnixMilli(r.snap.TsMs).UTC(),
			r.snap.PaxgBid, r.snap.PaxgAsk, r.snap.XautBid, r.snap.XautAsk,
			r.snap.SpreadOpen, r.snap.SpreadClose, r.snap.FundingDiffAnnual,
			r.snap.QuoteSizePaxg, r.snap.QuoteSizeXaut, uint32(r.snap.LatencyMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
