package execution

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/market"
	"botcore/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return database
}

func newTestRecorder(database *db.Database) *events.Recorder {
	return events.NewRecorder(database, events.NewBus(), "test")
}

func seedBotAndRun(t *testing.T, database *db.Database, mode string) (*db.Bot, *db.Run) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	bot := db.Bot{
		ID:              uuid.NewString(),
		UserID:          uuid.NewString(),
		Symbol:          "BTCUSDT",
		Strategy:        "trend_following",
		Mode:            mode,
		Status:          db.BotRunning,
		MaxPositionSize: 0.1,
		MaxDailyLoss:    100,
		StopLossPct:     5,
		TakeProfitPct:   10,
		CurrentCapital:  10000,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := database.CreateBot(ctx, bot); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	run := db.Run{
		ID:     uuid.NewString(),
		BotID:  bot.ID,
		Status: "RUNNING",
		Mode:   mode,
	}
	if err := database.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return &bot, &run
}

func buyDecision(traceID string) decision.TradeDecision {
	return decision.TradeDecision{
		Symbol:          "BTCUSDT",
		Side:            decision.SideBuy,
		Qty:             0.01,
		EntryPrice:      50000,
		StopPrice:       47500,
		TakeProfitPrice: 55000,
		Confidence:      0.8,
		TraceID:         traceID,
		Provenance:      decision.ProvenanceBaseline,
	}
}

func TestPaperOpenThenClose(t *testing.T) {
	database := newTestDB(t)
	engine := NewPaperEngine(database, newTestRecorder(database))
	bot, run := seedBotAndRun(t, database, db.ModePaper)
	ctx := context.Background()

	res, err := engine.ExecuteTrade(ctx, bot, run, buyDecision("trace-open"), market.Quote{})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", res.Status)
	}

	pos, err := database.OpenPosition(ctx, bot.ID, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected an open position")
	}
	if pos.StopPrice != 47500 || pos.TakeProfitPrice != 55000 {
		t.Fatalf("exit prices = %v/%v", pos.StopPrice, pos.TakeProfitPrice)
	}

	// Exit at a higher price realizes a profit net of both fees.
	exit := buyDecision("trace-close")
	exit.Side = decision.SideSell
	exit.EntryPrice = 52000
	res, err = engine.ExecuteTrade(ctx, bot, run, exit, market.Quote{})
	if err != nil {
		t.Fatalf("close ExecuteTrade: %v", err)
	}
	if res.Status != StatusFilled {
		t.Fatalf("close status = %s, want filled", res.Status)
	}

	if pos, err = database.OpenPosition(ctx, bot.ID, "BTCUSDT"); err != nil {
		t.Fatalf("OpenPosition after close: %v", err)
	} else if pos != nil {
		t.Fatal("position should be closed")
	}

	closed, err := database.RecentClosedPositions(ctx, bot.ID, 1)
	if err != nil {
		t.Fatalf("RecentClosedPositions: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	entryFee := 0.01 * 50000 * DefaultPaperFeeRate
	exitFee := 0.01 * 52000 * DefaultPaperFeeRate
	wantPnL := (52000-50000)*0.01 - entryFee - exitFee
	if math.Abs(closed[0].RealizedPnL-wantPnL) > 1e-9 {
		t.Fatalf("realized pnl = %v, want %v", closed[0].RealizedPnL, wantPnL)
	}

	got, err := database.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if math.Abs(got.CurrentCapital-(10000+wantPnL)) > 1e-9 {
		t.Fatalf("capital = %v, want %v", got.CurrentCapital, 10000+wantPnL)
	}
	if got.TotalTrades != 1 || got.WinningTrades != 1 {
		t.Fatalf("totals = %d trades / %d wins", got.TotalTrades, got.WinningTrades)
	}
}

func TestPaperShortProfit(t *testing.T) {
	database := newTestDB(t)
	engine := NewPaperEngine(database, newTestRecorder(database))
	bot, run := seedBotAndRun(t, database, db.ModePaper)
	ctx := context.Background()

	short := buyDecision("trace-short")
	short.Side = decision.SideSell
	if _, err := engine.ExecuteTrade(ctx, bot, run, short, market.Quote{}); err != nil {
		t.Fatalf("open short: %v", err)
	}

	cover := buyDecision("trace-cover")
	cover.EntryPrice = 48000
	if _, err := engine.ExecuteTrade(ctx, bot, run, cover, market.Quote{}); err != nil {
		t.Fatalf("cover: %v", err)
	}

	closed, err := database.RecentClosedPositions(ctx, bot.ID, 1)
	if err != nil {
		t.Fatalf("RecentClosedPositions: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	// Price fell 2000 on a short: gross gain before fees.
	if closed[0].RealizedPnL <= 0 {
		t.Fatalf("short pnl = %v, want profit", closed[0].RealizedPnL)
	}
}

func TestPaperIdempotency(t *testing.T) {
	database := newTestDB(t)
	engine := NewPaperEngine(database, newTestRecorder(database))
	bot, run := seedBotAndRun(t, database, db.ModePaper)
	ctx := context.Background()

	d := buyDecision("trace-dup")
	if _, err := engine.ExecuteTrade(ctx, bot, run, d, market.Quote{}); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Same trace id: rejected as a duplicate, nothing re-executed.
	res, err := engine.ExecuteTrade(ctx, bot, run, d, market.Quote{})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if res.Status != StatusRejected || res.Message != "Duplicate order" {
		t.Fatalf("second execute = %+v, want duplicate rejection", res)
	}

	orders, err := database.RecentOrders(ctx, bot.ID, 10)
	if err != nil {
		t.Fatalf("RecentOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
}

func TestClientOrderIDDeterministic(t *testing.T) {
	a := ClientOrderID(db.ModePaper, "bot", "trace")
	b := ClientOrderID(db.ModePaper, "bot", "trace")
	if a != b {
		t.Fatalf("same inputs produced %s and %s", a, b)
	}
	if ClientOrderID(db.ModeLive, "bot", "trace") == a {
		t.Fatal("mode must participate in the id")
	}
	if ClientOrderID(db.ModePaper, "bot", "other") == a {
		t.Fatal("trace must participate in the id")
	}
	if len(a) > 36 {
		t.Fatalf("id too long for exchange client order ids: %d", len(a))
	}
}
