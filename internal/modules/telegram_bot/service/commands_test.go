package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/notify"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/internal/storage/memory"
)

const allowedChat int64 = 100

type staticSnapshot struct {
	snap models.MarketSnapshot
	ok   bool
}

func (s staticSnapshot) LastSnapshot() (models.MarketSnapshot, bool) { return s.snap, s.ok }

type fixture struct {
	store    *memory.Store
	config   *overrides.Store
	commands *Commands
}

func newFixture(t *testing.T, snap staticSnapshot) fixture {
	t.Helper()
	store := memory.New(1)
	cfg := overrides.New(store, models.RuntimeConfig{
		ThresholdOpen:    40,
		CloseBuffer:      0,
		RepeatAlertSec:   300,
		AnnualFactor:     365,
		PollIntervalSec:  2,
		ConfigRefreshSec: 30,
		AllowedChatIDs:   []int64{allowedChat},
	})
	manager := position.NewManager(store, notify.NewStdout())
	return fixture{
		store:    store,
		config:   cfg,
		commands: NewCommands(manager, cfg, snap, observability.NewMetrics("")),
	}
}

func (f fixture) pending(t *testing.T, signalTs int64) string {
	t.Helper()
	p, err := f.store.CreatePendingPosition(context.Background(), 42, signalTs, models.PositionMetadata{}, signalTs)
	require.NoError(t, err)
	return p.PositionID
}

func TestUnauthorizedChat(t *testing.T) {
	f := newFixture(t, staticSnapshot{})
	assert.Equal(t, msgUnauthorized, f.commands.Handle(context.Background(), 1, "/help", 1))
}

func TestHelpAndUnknown(t *testing.T) {
	f := newFixture(t, staticSnapshot{})
	ctx := context.Background()

	assert.Contains(t, f.commands.Handle(ctx, allowedChat, "/start", 1), "var_gold bot commands")
	assert.Contains(t, f.commands.Handle(ctx, allowedChat, "/help@var_gold_bot", 1), "/config")
	assert.Equal(t, msgUnknown, f.commands.Handle(ctx, allowedChat, "/foo", 1))
}

func TestImplicitOpenNeedsSinglePending(t *testing.T) {
	f := newFixture(t, staticSnapshot{})
	ctx := context.Background()

	assert.Contains(t, helpText(), "/open 39 - confirm the only pending signal")
	assert.NotContains(t, helpText(), "latest pending")

	first := f.pending(t, 1_000)
	f.pending(t, 2_000)
	assert.Equal(t, msgOpenNoMatch, f.commands.Handle(ctx, allowedChat, "/open 39", 3_000))

	got, err := f.store.GetPosition(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingConfirm, got.Status)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticSnapshot{})
	assert.Equal(t, msgNoSnapshot, f.commands.Handle(ctx, allowedChat, "/status", 1))

	snap := models.NewMarketSnapshot(1, models.Quote{Bid: 2345, Ask: 2346}, models.Quote{Bid: 2300, Ask: 2301}, nil, nil, 365, 5)
	f = newFixture(t, staticSnapshot{snap: snap, ok: true})
	reply := f.commands.Handle(ctx, allowedChat, "/status", 1)
	assert.Contains(t, reply, "<b>$44.00</b> (threshold $40.00)")
	assert.Contains(t, reply, "funding diff annual: N/A")
}

func TestOpenAndCloseFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticSnapshot{})

	assert.Equal(t, msgNoPositions, f.commands.Handle(ctx, allowedChat, "/positions", 1))
	assert.Equal(t, msgOpenNoMatch, f.commands.Handle(ctx, allowedChat, "/open 39", 1))

	id := f.pending(t, 10)
	reply := f.commands.Handle(ctx, allowedChat, "/open 39,5", 20)
	assert.Contains(t, reply, "Open Confirmed")
	assert.Contains(t, reply, id)
	assert.Contains(t, reply, "entry_actual: $39.50")
	assert.Contains(t, reply, "close_trigger: $-39.50")

	assert.Equal(t, msgOpenNoMatch, f.commands.Handle(ctx, allowedChat, "/open "+id+" 39", 30))

	positions := f.commands.Handle(ctx, allowedChat, "/positions", 40)
	assert.Contains(t, positions, "Active Positions")
	assert.Contains(t, positions, id+" | OPEN_CONFIRMED")

	reply = f.commands.Handle(ctx, allowedChat, "/close -38.2", 50)
	assert.Contains(t, reply, "Close Confirmed")
	assert.Contains(t, reply, "close_actual: $-38.20")

	got, err := f.store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
	require.NotNil(t, got.ChatID)
	assert.Equal(t, allowedChat, *got.ChatID)
}

func TestCloseRequiresIDWhenAmbiguous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticSnapshot{})

	a := f.pending(t, 1)
	assert.Contains(t, f.commands.Handle(ctx, allowedChat, "/open "+a+" 39", 2), "Open Confirmed")
	b := f.pending(t, 3)
	assert.Contains(t, f.commands.Handle(ctx, allowedChat, "/open "+b+" 41", 4), "Open Confirmed")

	assert.Equal(t, msgCloseNoMatch, f.commands.Handle(ctx, allowedChat, "/close -38", 5))
	assert.Contains(t, f.commands.Handle(ctx, allowedChat, "/close "+b+" -38", 6), "Close Confirmed")
}

func TestUsageMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticSnapshot{})

	assert.Equal(t, msgOpenUsage, f.commands.Handle(ctx, allowedChat, "/open", 1))
	assert.Equal(t, msgOpenUsage, f.commands.Handle(ctx, allowedChat, "/open abc", 1))
	assert.Equal(t, msgCloseUsage, f.commands.Handle(ctx, allowedChat, "/close a b c", 1))
	assert.Equal(t, msgSetUsage, f.commands.Handle(ctx, allowedChat, "/set open", 1))
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticSnapshot{})

	assert.Equal(t, "Updated threshold_open to 45.5", f.commands.Handle(ctx, allowedChat, "/set open 45.5", 1_000))
	assert.Equal(t, 45.5, f.config.Current().ThresholdOpen)

	assert.Equal(t, "Updated repeat_alert_sec to 30", f.commands.Handle(ctx, allowedChat, "/set REPEAT 10", 2_000))
	assert.Equal(t, "Updated poll_interval_sec to 0.5", f.commands.Handle(ctx, allowedChat, "/set poll 0.1", 3_000))
	assert.Equal(t, "Updated close_buffer to -1", f.commands.Handle(ctx, allowedChat, "/set close_buffer -1", 4_000))

	assert.Equal(t, msgInvalidValue, f.commands.Handle(ctx, allowedChat, "/set repeat 1.5", 5_000))
	assert.Equal(t, msgInvalidValue, f.commands.Handle(ctx, allowedChat, "/set open abc", 5_000))
	assert.Equal(t, msgUnsupportedKey, f.commands.Handle(ctx, allowedChat, "/set ttl 3", 5_000))

	cfgText := f.commands.Handle(ctx, allowedChat, "/config", 6_000)
	assert.Contains(t, cfgText, "threshold_open: 45.5")
	assert.Contains(t, cfgText, "repeat_alert_sec: 30")
	assert.Contains(t, cfgText, "allowed_chat_ids: 100")
}

func TestParseSpread(t *testing.T) {
	v, err := parseSpread("-38,2")
	require.NoError(t, err)
	assert.Equal(t, -38.2, v)

	_, err = parseSpread("1e")
	assert.Error(t, err)
}

type fakeUpdates struct {
	ch      chan tgbot.Update
	stopped bool
}

func (f *fakeUpdates) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return f.ch }
func (f *fakeUpdates) StopReceivingUpdates()                                  { f.stopped = true }

type replyRecorder struct {
	mu      sync.Mutex
	replies map[int64][]string
}

func (r *replyRecorder) SendToChannel(_ context.Context, chatID int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[chatID] = append(r.replies[chatID], text)
}

func (r *replyRecorder) Broadcast(context.Context, string) {}

func (r *replyRecorder) get(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies[chatID]...)
}

func TestTelegramLoopRepliesToCommands(t *testing.T) {
	f := newFixture(t, staticSnapshot{})
	src := &fakeUpdates{ch: make(chan tgbot.Update, 3)}
	rec := &replyRecorder{replies: map[int64][]string{}}
	bot := NewTelegram(src, rec, f.commands)

	require.NoError(t, bot.Start(context.Background()))
	src.ch <- tgbot.Update{Message: &tgbot.Message{Chat: &tgbot.Chat{ID: allowedChat}, Text: "hello"}}
	src.ch <- tgbot.Update{Message: &tgbot.Message{Chat: &tgbot.Chat{ID: allowedChat}, Text: "/help"}}
	src.ch <- tgbot.Update{Message: &tgbot.Message{Chat: &tgbot.Chat{ID: 5}, Text: "/status"}}

	require.Eventually(t, func() bool {
		return len(rec.get(allowedChat)) == 1 && len(rec.get(5)) == 1
	}, time.Second, 5*time.Millisecond)

	bot.Stop()
	assert.True(t, src.stopped)
	assert.True(t, strings.Contains(rec.get(allowedChat)[0], "var_gold bot commands"))
	assert.Equal(t, msgUnauthorized, rec.get(5)[0])
}
