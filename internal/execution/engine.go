// Package execution turns an approved TradeDecision into persisted orders and
// positions. Two engines share one contract: paper fills synchronously, live
// submits to the exchange. Both are idempotent per decision trace through the
// client_order_id uniqueness constraint.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/market"
	"botcore/pkg/db"
)

// Execution outcome statuses, mirroring terminal order statuses plus
// submitted for in-flight live orders.
const (
	StatusFilled    = db.OrderStatusFilled
	StatusSubmitted = db.OrderStatusSubmitted
	StatusRejected  = db.OrderStatusRejected
)

// Result is the outcome of one ExecuteTrade call.
type Result struct {
	Status          string
	OrderID         string
	ExchangeOrderID string
	Message         string
}

// Engine executes approved trade decisions.
type Engine interface {
	ExecuteTrade(ctx context.Context, bot *db.Bot, run *db.Run, d decision.TradeDecision, quote market.Quote) (Result, error)
}

// ClientOrderID derives the deterministic idempotency key for a decision.
// Re-executing the same (mode, bot, trace) always maps to the same id, so the
// unique index on orders rejects the second attempt.
func ClientOrderID(mode, botID, traceID string) string {
	sum := sha256.Sum256([]byte(mode + ":" + botID + ":" + traceID))
	return "bc-" + hex.EncodeToString(sum[:])[:29]
}

// findDuplicate returns a duplicate-rejection Result when an order already
// exists for clientOrderID.
func findDuplicate(ctx context.Context, database *db.Database, clientOrderID string) (*Result, error) {
	existing, err := database.GetOrderByClientID(ctx, clientOrderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup client order id: %w", err)
	}
	return &Result{
		Status:  StatusRejected,
		OrderID: existing.ID,
		Message: "Duplicate order",
	}, nil
}

// RecordRiskRejection persists a risk-rejected decision as a rejected order
// carrying the flags and emits a risk_alert event. Rejections are an audit
// record, never a dropped decision.
func RecordRiskRejection(ctx context.Context, database *db.Database, rec *events.Recorder, bot *db.Bot, run *db.Run, d decision.TradeDecision, flags []string) (Result, error) {
	reason := strings.Join(flags, ",")
	order := db.Order{
		ID:            uuid.NewString(),
		BotID:         bot.ID,
		RunID:         runID(run),
		ClientOrderID: ClientOrderID(bot.Mode, bot.ID, d.TraceID),
		Symbol:        d.Symbol,
		Side:          d.Side,
		Type:          "MARKET",
		Qty:           d.Qty,
		Price:         d.EntryPrice,
		Status:        db.OrderStatusRejected,
		RejectReason:  reason,
		TraceID:       d.TraceID,
		Provenance:    d.Provenance,
		CreatedAt:     time.Now().UTC(),
	}
	if err := database.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Result{Status: StatusRejected, Message: "Duplicate order"}, nil
		}
		return Result{}, fmt.Errorf("persist rejected order: %w", err)
	}
	rec.Record(ctx, events.EventRiskAlert, bot.ID, events.SeverityWarning,
		fmt.Sprintf("trade rejected: %s", reason), d.TraceID,
		map[string]any{"flags": flags, "symbol": d.Symbol, "side": d.Side, "qty": d.Qty})
	return Result{Status: StatusRejected, OrderID: order.ID, Message: reason}, nil
}

func runID(run *db.Run) string {
	if run == nil {
		return ""
	}
	return run.ID
}
