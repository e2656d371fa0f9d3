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
	"botcore/pkg/db"
)

// DefaultPaperFeeRate approximates a spot taker fee.
const DefaultPaperFeeRate = 0.001

// PaperEngine simulates fills against the current quote. Orders fill
// immediately at the decision's entry price with a flat fee; positions open
// and close against the bot's simulated capital.
type PaperEngine struct {
	DB      *db.Database
	Rec     *events.Recorder
	FeeRate float64
	Now     func() time.Time
}

func NewPaperEngine(database *db.Database, rec *events.Recorder) *PaperEngine {
	return &PaperEngine{DB: database, Rec: rec, FeeRate: DefaultPaperFeeRate, Now: time.Now}
}

func (e *PaperEngine) ExecuteTrade(ctx context.Context, bot *db.Bot, run *db.Run, d decision.TradeDecision, quote market.Quote) (Result, error) {
	clientID := ClientOrderID(db.ModePaper, bot.ID, d.TraceID)
	if dup, err := findDuplicate(ctx, e.DB, clientID); err != nil {
		return Result{}, err
	} else if dup != nil {
		return *dup, nil
	}

	now := e.Now().UTC()
	fee := d.Qty * d.EntryPrice * e.FeeRate
	order := db.Order{
		ID:            uuid.NewString(),
		BotID:         bot.ID,
		RunID:         runID(run),
		ClientOrderID: clientID,
		Symbol:        d.Symbol,
		Side:          d.Side,
		Type:          "MARKET",
		Qty:           d.Qty,
		Price:         d.EntryPrice,
		Fee:           fee,
		Status:        db.OrderStatusFilled,
		TraceID:       d.TraceID,
		Provenance:    d.Provenance,
		CreatedAt:     now,
	}
	if err := e.DB.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Result{Status: StatusRejected, Message: "Duplicate order"}, nil
		}
		return Result{}, fmt.Errorf("persist paper order: %w", err)
	}

	open, err := e.DB.OpenPosition(ctx, bot.ID, d.Symbol)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Result{}, fmt.Errorf("lookup open position: %w", err)
	}

	if open != nil {
		if err := e.closePosition(ctx, bot, open, order, now); err != nil {
			return Result{}, err
		}
	} else {
		if err := e.openPosition(ctx, bot, d, order, now); err != nil {
			return Result{}, err
		}
	}

	e.Rec.Record(ctx, events.EventOrderUpdate, bot.ID, events.SeverityInfo,
		fmt.Sprintf("paper %s %s filled", d.Side, d.Symbol), d.TraceID,
		map[string]any{"order_id": order.ID, "qty": d.Qty, "price": d.EntryPrice, "fee": fee})
	return Result{Status: StatusFilled, OrderID: order.ID}, nil
}

func (e *PaperEngine) openPosition(ctx context.Context, bot *db.Bot, d decision.TradeDecision, order db.Order, now time.Time) error {
	pos := db.Position{
		ID:              uuid.NewString(),
		BotID:           bot.ID,
		Symbol:          d.Symbol,
		Side:            d.Side,
		Qty:             d.Qty,
		EntryPrice:      d.EntryPrice,
		MarkPrice:       d.EntryPrice,
		StopPrice:       d.StopPrice,
		TakeProfitPrice: d.TakeProfitPrice,
		Fees:            order.Fee,
		Status:          db.PositionOpen,
		EntryOrderID:    order.ID,
		OpenedAt:        now,
	}
	if err := e.DB.CreatePosition(ctx, pos); err != nil {
		return fmt.Errorf("open paper position: %w", err)
	}
	return nil
}

// closePosition realizes P&L against the exit order's price, net of the
// position's accumulated fees plus the exit fee.
func (e *PaperEngine) closePosition(ctx context.Context, bot *db.Bot, pos *db.Position, order db.Order, now time.Time) error {
	gross := (order.Price - pos.EntryPrice) * pos.Qty
	if pos.Side == decision.SideSell {
		gross = -gross
	}
	pnl := gross - pos.Fees - order.Fee

	if err := e.DB.ClosePosition(ctx, pos.ID, order.ID, pnl, order.Fee, now); err != nil {
		return fmt.Errorf("close paper position: %w", err)
	}
	if err := e.DB.UpdateBotTotals(ctx, bot.ID, pnl, pnl, pnl > 0); err != nil {
		return fmt.Errorf("update bot totals: %w", err)
	}
	return nil
}
