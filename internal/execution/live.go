package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/market"
	"botcore/internal/run"
	"botcore/pkg/db"
	"botcore/pkg/exchanges/common"
)

// Live slippage estimate applied to pending orders before the fill is known.
const liveSlippageEstimate = 0.0005

// GatewayProvider resolves the exchange gateway for a bot, including
// credential decryption. Implemented by gateway.Manager.
type GatewayProvider interface {
	GatewayFor(ctx context.Context, bot *db.Bot) (common.Gateway, error)
}

// LiveConfig carries the live-eligibility knobs.
type LiveConfig struct {
	LiveEnabled bool
	ArmCooldown time.Duration // must have elapsed since armed_at
	StaleAfter  time.Duration // max quote age for live submission
	FeeRate     float64
}

// LiveEngine submits real orders. Every decision is re-validated for live
// eligibility immediately before submission; any failure rejects without
// contacting the exchange. Exchange failures feed the trip breaker.
type LiveEngine struct {
	DB       *db.Database
	Rec      *events.Recorder
	Gateways GatewayProvider
	Breaker  *TripBreaker
	Cfg      LiveConfig
	Now      func() time.Time
}

func NewLiveEngine(database *db.Database, rec *events.Recorder, gateways GatewayProvider, breaker *TripBreaker, cfg LiveConfig) *LiveEngine {
	if cfg.ArmCooldown <= 0 {
		cfg.ArmCooldown = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = DefaultPaperFeeRate
	}
	return &LiveEngine{DB: database, Rec: rec, Gateways: gateways, Breaker: breaker, Cfg: cfg, Now: time.Now}
}

func (e *LiveEngine) ExecuteTrade(ctx context.Context, bot *db.Bot, r *db.Run, d decision.TradeDecision, quote market.Quote) (Result, error) {
	clientID := ClientOrderID(db.ModeLive, bot.ID, d.TraceID)
	if dup, err := findDuplicate(ctx, e.DB, clientID); err != nil {
		return Result{}, err
	} else if dup != nil {
		return *dup, nil
	}

	if reason := e.eligibility(ctx, bot, r, quote); reason != "" {
		return e.reject(ctx, bot, r, d, clientID, reason)
	}

	gw, err := e.Gateways.GatewayFor(ctx, bot)
	if err != nil {
		return e.reject(ctx, bot, r, d, clientID, fmt.Sprintf("gateway unavailable: %v", err))
	}

	now := e.Now().UTC()
	notional := d.Qty * d.EntryPrice
	order := db.Order{
		ID:            uuid.NewString(),
		BotID:         bot.ID,
		RunID:         runID(r),
		ClientOrderID: clientID,
		Symbol:        d.Symbol,
		Side:          d.Side,
		Type:          "MARKET",
		Qty:           d.Qty,
		Price:         d.EntryPrice,
		Fee:           notional * e.Cfg.FeeRate,
		Slippage:      notional * liveSlippageEstimate,
		Status:        db.OrderStatusPending,
		TraceID:       d.TraceID,
		Provenance:    d.Provenance,
		CreatedAt:     now,
	}
	if err := e.DB.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Result{Status: StatusRejected, Message: "Duplicate order"}, nil
		}
		return Result{}, fmt.Errorf("persist pending order: %w", err)
	}

	res, err := gw.PlaceOrder(ctx, common.OrderRequest{
		Symbol:   d.Symbol,
		Side:     common.Side(d.Side),
		Type:     common.OrderTypeMarket,
		Qty:      d.Qty,
		ClientID: clientID,
	})
	if err != nil {
		reason := fmt.Sprintf("exchange error: %v", err)
		if uerr := e.DB.UpdateOrderResult(ctx, order.ID, db.OrderStatusRejected, "", reason); uerr != nil {
			return Result{}, fmt.Errorf("mark order rejected: %w", uerr)
		}
		if berr := e.Breaker.RecordFailure(ctx, bot, r, reason, d.TraceID); berr != nil {
			return Result{}, berr
		}
		e.Rec.Record(ctx, events.EventOrderUpdate, bot.ID, events.SeverityError,
			fmt.Sprintf("live %s %s rejected: %s", d.Side, d.Symbol, reason), d.TraceID,
			map[string]any{"order_id": order.ID, "error_code": string(common.CodeOf(err))})
		return Result{Status: StatusRejected, OrderID: order.ID, Message: reason}, nil
	}

	status := mapExchangeStatus(res.Status)
	rejectReason := ""
	if status == db.OrderStatusRejected {
		rejectReason = "rejected by exchange"
	}
	if err := e.DB.UpdateOrderResult(ctx, order.ID, status, res.ExchangeOrderID, rejectReason); err != nil {
		return Result{}, fmt.Errorf("record exchange result: %w", err)
	}
	if status == db.OrderStatusRejected {
		if berr := e.Breaker.RecordFailure(ctx, bot, r, rejectReason, d.TraceID); berr != nil {
			return Result{}, berr
		}
	} else {
		if berr := e.Breaker.RecordSuccess(ctx, r); berr != nil {
			return Result{}, berr
		}
	}

	e.Rec.Record(ctx, events.EventOrderUpdate, bot.ID, events.SeverityInfo,
		fmt.Sprintf("live %s %s %s", d.Side, d.Symbol, status), d.TraceID,
		map[string]any{"order_id": order.ID, "exchange_order_id": res.ExchangeOrderID})
	return Result{Status: status, OrderID: order.ID, ExchangeOrderID: res.ExchangeOrderID, Message: rejectReason}, nil
}

// eligibility re-validates live preconditions at submission time. Returns an
// empty string when the trade may proceed.
func (e *LiveEngine) eligibility(ctx context.Context, bot *db.Bot, r *db.Run, quote market.Quote) string {
	if bot.CredentialID == "" {
		return "live credentials not configured"
	}
	if !e.Cfg.LiveEnabled {
		return "live trading disabled"
	}
	active, err := e.DB.KillSwitchActive(ctx, bot.UserID)
	if err != nil {
		return fmt.Sprintf("kill switch check failed: %v", err)
	}
	if active {
		return "kill switch active"
	}
	if r == nil || r.Status != string(run.StateRunning) {
		return "no active run"
	}
	if !r.LiveArmed || r.ArmedAt == nil {
		return "live run not armed"
	}
	if e.Now().Before(r.ArmedAt.Add(e.Cfg.ArmCooldown)) {
		return "arming cooldown not elapsed"
	}
	if quote.Synthetic {
		return "market data synthetic"
	}
	if quote.FetchedAt.IsZero() || e.Now().Sub(quote.FetchedAt) > e.Cfg.StaleAfter {
		return "market data stale"
	}
	return ""
}

// reject persists an eligibility rejection for audit without touching the
// exchange or the trip breaker.
func (e *LiveEngine) reject(ctx context.Context, bot *db.Bot, r *db.Run, d decision.TradeDecision, clientID, reason string) (Result, error) {
	order := db.Order{
		ID:            uuid.NewString(),
		BotID:         bot.ID,
		RunID:         runID(r),
		ClientOrderID: clientID,
		Symbol:        d.Symbol,
		Side:          d.Side,
		Type:          "MARKET",
		Qty:           d.Qty,
		Price:         d.EntryPrice,
		Status:        db.OrderStatusRejected,
		RejectReason:  reason,
		TraceID:       d.TraceID,
		Provenance:    d.Provenance,
		CreatedAt:     e.Now().UTC(),
	}
	if err := e.DB.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Result{Status: StatusRejected, Message: "Duplicate order"}, nil
		}
		return Result{}, fmt.Errorf("persist rejected order: %w", err)
	}
	e.Rec.Record(ctx, events.EventRiskAlert, bot.ID, events.SeverityWarning,
		fmt.Sprintf("live trade rejected: %s", reason), d.TraceID,
		map[string]any{"order_id": order.ID, "symbol": d.Symbol, "side": d.Side})
	return Result{Status: StatusRejected, OrderID: order.ID, Message: reason}, nil
}

func mapExchangeStatus(s common.OrderStatus) string {
	switch s {
	case common.StatusFilled:
		return db.OrderStatusFilled
	case common.StatusCanceled:
		return db.OrderStatusCanceled
	case common.StatusRejected:
		return db.OrderStatusRejected
	default:
		return db.OrderStatusSubmitted
	}
}
