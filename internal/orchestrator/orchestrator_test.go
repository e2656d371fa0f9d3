package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/execution"
	"botcore/internal/market"
	"botcore/internal/risk"
	"botcore/internal/signal"
	"botcore/pkg/db"
	"botcore/pkg/exchanges/common"
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

func newTestOrchestrator(database *db.Database, gw common.Gateway) *Orchestrator {
	rec := events.NewRecorder(database, events.NewBus(), "test")
	return &Orchestrator{
		DB:       database,
		Rec:      rec,
		Market:   market.NewProvider(gw),
		Selector: decision.NewSelector(signal.DefaultProfiles()),
		Risk:     risk.NewInputsBuilder(database, risk.DefaultGuardrails()),
		Paper:    execution.NewPaperEngine(database, rec),

		TickInterval: time.Minute,
	}
}

func seedRunningBot(t *testing.T, database *db.Database, mode string) *db.Bot {
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
	r := db.Run{ID: uuid.NewString(), BotID: bot.ID, Status: "RUNNING", Mode: mode}
	if err := database.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return &bot
}

func TestTickOpensPositionOnStrongSignal(t *testing.T) {
	database := newTestDB(t)
	// +5% 24h change clears the trend-following entry threshold.
	orch := newTestOrchestrator(database, common.NewMockGateway(50000, 5))
	bot := seedRunningBot(t, database, db.ModePaper)
	ctx := context.Background()

	if err := orch.TickBot(ctx, bot.ID); err != nil {
		t.Fatalf("TickBot: %v", err)
	}

	pos, err := database.OpenPosition(ctx, bot.ID, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.Side != decision.SideBuy {
		t.Fatalf("side = %s, want buy", pos.Side)
	}
	if pos.StopPrice >= pos.EntryPrice || pos.TakeProfitPrice <= pos.EntryPrice {
		t.Fatalf("exit prices not bracketing entry: stop=%f entry=%f tp=%f",
			pos.StopPrice, pos.EntryPrice, pos.TakeProfitPrice)
	}
}

func TestTickExitTriggerClosesPosition(t *testing.T) {
	database := newTestDB(t)
	gw := common.NewMockGateway(50000, 5)
	orch := newTestOrchestrator(database, gw)
	bot := seedRunningBot(t, database, db.ModePaper)
	ctx := context.Background()

	if err := orch.TickBot(ctx, bot.ID); err != nil {
		t.Fatalf("opening tick: %v", err)
	}
	pos, err := database.OpenPosition(ctx, bot.ID, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// Drop the price through the stop and force a refetch past the cache.
	gw.Price = pos.StopPrice * 0.99
	orch.Market.Invalidate("BTCUSDT")

	if err := orch.TickBot(ctx, bot.ID); err != nil {
		t.Fatalf("exit tick: %v", err)
	}

	if _, err := database.OpenPosition(ctx, bot.ID, "BTCUSDT"); err != db.ErrNotFound {
		t.Fatalf("position still open after stop trigger: %v", err)
	}
	closed, err := database.RecentClosedPositions(ctx, bot.ID, 1)
	if err != nil {
		t.Fatalf("RecentClosedPositions: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	if closed[0].RealizedPnL >= 0 {
		t.Fatalf("stop-out should realize a loss, got %f", closed[0].RealizedPnL)
	}

	orders, err := database.RecentOrders(ctx, bot.ID, 10)
	if err != nil {
		t.Fatalf("RecentOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want entry and exit", len(orders))
	}
}

func TestTickAllIsolatesFailingBot(t *testing.T) {
	database := newTestDB(t)
	orch := newTestOrchestrator(database, common.NewMockGateway(50000, 5))
	// Live routing with no live engine wired panics inside the rogue bot's
	// tick; the sibling must still trade.
	orch.LiveEnabled = true
	rogue := seedRunningBot(t, database, db.ModeLive)
	healthy := seedRunningBot(t, database, db.ModePaper)
	ctx := context.Background()

	orch.TickAll(ctx)

	got, err := database.GetBot(ctx, rogue.ID)
	if err != nil {
		t.Fatalf("GetBot rogue: %v", err)
	}
	if got.ErrorCount != 1 {
		t.Fatalf("rogue error count = %d, want 1", got.ErrorCount)
	}
	if !strings.Contains(got.LastError, "panic") {
		t.Fatalf("rogue last error = %q, want panic recorded", got.LastError)
	}

	if _, err := database.OpenPosition(ctx, healthy.ID, "BTCUSDT"); err != nil {
		t.Fatalf("healthy bot should have traded: %v", err)
	}
}

func TestConsecutiveErrorsEscalateToErrorStatus(t *testing.T) {
	database := newTestDB(t)
	orch := newTestOrchestrator(database, common.NewMockGateway(50000, 5))
	orch.LiveEnabled = true
	bot := seedRunningBot(t, database, db.ModeLive)
	ctx := context.Background()

	for i := 0; i < maxConsecutiveErrors; i++ {
		if err := orch.TickBot(ctx, bot.ID); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	got, err := database.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if got.Status != db.BotError {
		t.Fatalf("status = %s, want error after %d failures", got.Status, maxConsecutiveErrors)
	}
	if got.ErrorCount != maxConsecutiveErrors {
		t.Fatalf("error count = %d, want %d", got.ErrorCount, maxConsecutiveErrors)
	}

	evts, err := database.RecentEvents(ctx, bot.ID, 50)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	critical := false
	for _, e := range evts {
		if e.Type == string(events.EventBotError) && e.Severity == events.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatal("expected a critical escalation event")
	}
}

func TestHeartbeatEventSampling(t *testing.T) {
	database := newTestDB(t)
	// 24h change below every entry threshold: the tick heartbeats but
	// produces no decision.
	orch := newTestOrchestrator(database, common.NewMockGateway(50000, 0.1))
	bot := seedRunningBot(t, database, db.ModePaper)
	ctx := context.Background()

	// Bucket 10 of a one-minute interval emits, bucket 11 does not.
	orch.Now = func() time.Time { return time.Unix(600, 0) }
	if err := orch.TickBot(ctx, bot.ID); err != nil {
		t.Fatalf("emitting tick: %v", err)
	}
	orch.Now = func() time.Time { return time.Unix(660, 0) }
	if err := orch.TickBot(ctx, bot.ID); err != nil {
		t.Fatalf("silent tick: %v", err)
	}

	evts, err := database.RecentEvents(ctx, bot.ID, 50)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	beats := 0
	for _, e := range evts {
		if e.Type == string(events.EventHeartbeat) {
			beats++
		}
	}
	if beats != 1 {
		t.Fatalf("heartbeat events = %d, want exactly 1", beats)
	}
}
