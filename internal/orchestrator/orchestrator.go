// Package orchestrator drives the per-bot tick loop: fetch a quote, mark open
// positions, fire exit triggers, select a decision, gate it through risk, and
// route it to the right execution engine. Bots tick in parallel and one bot's
// failure never touches its siblings.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/execution"
	"botcore/internal/market"
	"botcore/internal/risk"
	"botcore/internal/run"
	"botcore/pkg/db"
)

// Bots escalate to status=error after this many consecutive tick failures.
const maxConsecutiveErrors = 5

// Heartbeat events are sampled to one in heartbeatEvery tick buckets.
const heartbeatEvery = 10

// Orchestrator ticks all running bots.
type Orchestrator struct {
	DB       *db.Database
	Rec      *events.Recorder
	Market   *market.Provider
	Selector *decision.Selector
	Advisor  *decision.Advisor
	Risk     *risk.InputsBuilder
	Paper    execution.Engine
	Live     execution.Engine

	LiveEnabled  bool
	TickInterval time.Duration

	Now func() time.Time
}

// TickAll processes every running bot concurrently. A bot's panic or error is
// recorded against that bot only.
func (o *Orchestrator) TickAll(ctx context.Context) {
	bots, err := o.DB.ListRunningBots(ctx)
	if err != nil {
		log.Printf("orchestrator: list running bots: %v", err)
		return
	}
	if len(bots) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range bots {
		bot := bots[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.tickOne(ctx, &bot)
		}()
	}
	wg.Wait()
}

// TickBot runs a single bot's tick, isolating panics and recording failures.
func (o *Orchestrator) TickBot(ctx context.Context, botID string) error {
	bot, err := o.DB.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot == nil {
		return db.ErrNotFound
	}
	o.tickOne(ctx, bot)
	return nil
}

func (o *Orchestrator) tickOne(ctx context.Context, bot *db.Bot) {
	defer func() {
		if r := recover(); r != nil {
			o.recordTickError(ctx, bot, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := o.tick(ctx, bot); err != nil {
		o.recordTickError(ctx, bot, err.Error())
		return
	}
	if bot.ErrorCount > 0 {
		if err := o.DB.ClearBotErrors(ctx, bot.ID); err != nil {
			log.Printf("orchestrator: clear errors for bot %s: %v", bot.ID, err)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, bot *db.Bot) error {
	traceID := uuid.NewString()
	now := o.now()

	quote := o.Market.GetQuote(ctx, bot.Symbol)

	if err := o.DB.Heartbeat(ctx, bot.ID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	o.maybeHeartbeatEvent(ctx, bot, quote, now, traceID)

	positions, err := o.DB.ListOpenPositions(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}

	if len(positions) > 0 {
		pos := positions[0]
		if err := o.markPosition(ctx, &pos, quote); err != nil {
			return err
		}
		if exitSide, triggered := exitTrigger(pos, quote.Price); triggered {
			d := decision.TradeDecision{
				Symbol:     pos.Symbol,
				Side:       exitSide,
				Qty:        pos.Qty,
				EntryPrice: quote.Price,
				Confidence: 1,
				Rationale:  "stop/take-profit trigger",
				TraceID:    traceID,
				Provenance: decision.ProvenanceBaseline,
			}
			return o.route(ctx, bot, d, quote, now)
		}
		// position open, no trigger: nothing else this tick
		return nil
	}

	d := o.selectDecision(ctx, bot, quote, traceID)
	if d == nil {
		return nil
	}
	return o.route(ctx, bot, *d, quote, now)
}

func (o *Orchestrator) selectDecision(ctx context.Context, bot *db.Bot, quote market.Quote, traceID string) *decision.TradeDecision {
	var ai *decision.AIDecision
	if o.Advisor.Enabled() {
		ai = o.Advisor.ProposeDecision(ctx,
			decision.MarketState{Symbol: bot.Symbol, Price: quote.Price, Change24h: quote.Change24h},
			decision.Portfolio{Capital: bot.CurrentCapital, DailyPnL: bot.DailyPnL},
			bot.Strategy)
	}
	return o.Selector.Select(bot, quote, ai, traceID)
}

func (o *Orchestrator) route(ctx context.Context, bot *db.Bot, d decision.TradeDecision, quote market.Quote, now time.Time) error {
	activeRun, err := o.DB.ActiveRunForBot(ctx, bot.ID, string(run.StateRunning))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("active run: %w", err)
	}

	inputs, err := o.Risk.Build(ctx, bot, o.LiveEnabled, quote.FetchedAt, quote.Synthetic, now)
	if err != nil {
		return fmt.Errorf("risk inputs: %w", err)
	}
	verdict := risk.Evaluate(d, inputs)
	if !verdict.Allowed {
		_, err := execution.RecordRiskRejection(ctx, o.DB, o.Rec, bot, activeRun, d, verdict.Flags)
		return err
	}

	engine := o.Paper
	if bot.Mode == db.ModeLive {
		engine = o.Live
	}
	res, err := engine.ExecuteTrade(ctx, bot, activeRun, d, quote)
	if err != nil {
		return fmt.Errorf("execute trade: %w", err)
	}
	log.Printf("orchestrator: bot %s %s %s -> %s (%s)", bot.ID, d.Side, d.Symbol, res.Status, d.Provenance)
	return nil
}

func (o *Orchestrator) markPosition(ctx context.Context, pos *db.Position, quote market.Quote) error {
	unrealized := (quote.Price - pos.EntryPrice) * pos.Qty
	if pos.Side == decision.SideSell {
		unrealized = -unrealized
	}
	if err := o.DB.UpdatePositionMark(ctx, pos.ID, quote.Price, unrealized); err != nil {
		return fmt.Errorf("mark position: %w", err)
	}
	return nil
}

// maybeHeartbeatEvent emits a low-severity heartbeat event on every tenth
// tick bucket. Buckets are derived from wall time, not an in-memory counter,
// so restarts and horizontal scaling keep the sampling stable.
func (o *Orchestrator) maybeHeartbeatEvent(ctx context.Context, bot *db.Bot, quote market.Quote, now time.Time, traceID string) {
	interval := o.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	bucket := now.UnixNano() / int64(interval)
	if bucket%heartbeatEvery != 0 {
		return
	}
	o.Rec.Record(ctx, events.EventHeartbeat, bot.ID, events.SeverityInfo,
		fmt.Sprintf("tick heartbeat %s @ %.2f", bot.Symbol, quote.Price), traceID,
		map[string]any{"price": quote.Price, "synthetic": quote.Synthetic})
}

func (o *Orchestrator) recordTickError(ctx context.Context, bot *db.Bot, msg string) {
	count, err := o.DB.RecordBotError(ctx, bot.ID, msg)
	if err != nil {
		log.Printf("orchestrator: record error for bot %s: %v", bot.ID, err)
		return
	}
	severity := events.SeverityError
	if count >= maxConsecutiveErrors {
		if err := o.DB.UpdateBotStatus(ctx, bot.ID, db.BotError); err != nil {
			log.Printf("orchestrator: escalate bot %s: %v", bot.ID, err)
		}
		severity = events.SeverityCritical
		msg = fmt.Sprintf("bot stopped after %d consecutive errors: %s", count, msg)
	}
	o.Rec.Record(ctx, events.EventBotError, bot.ID, severity, msg, "", map[string]any{"error_count": count})
}

// exitTrigger reports whether the mark price crosses the position's stop or
// take-profit, returning the opposing side for the exit order. Buy positions
// exit on price <= stop or >= target; sell positions mirror.
func exitTrigger(pos db.Position, price float64) (string, bool) {
	if pos.Side == decision.SideBuy {
		if (pos.StopPrice > 0 && price <= pos.StopPrice) || (pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice) {
			return decision.SideSell, true
		}
		return "", false
	}
	if (pos.StopPrice > 0 && price >= pos.StopPrice) || (pos.TakeProfitPrice > 0 && price <= pos.TakeProfitPrice) {
		return decision.SideBuy, true
	}
	return "", false
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}
