package decision

// Provenance records which subsystem produced a trade decision.
const (
	ProvenanceAI       = "ai"
	ProvenanceBaseline = "baseline"
	ProvenanceNone     = "none"
)

// Decision sides mirror the order sides used downstream.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// TradeDecision is a transient candidate trade. It is consumed by the risk
// evaluator and the execution engines and is never persisted directly; the
// resulting order carries its trace id and provenance.
type TradeDecision struct {
	Symbol          string
	Side            string
	Qty             float64
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	Confidence      float64 // [0, 1]
	Rationale       string
	TraceID         string
	Provenance      string
}

// AIDecision is the raw advisory proposal as returned by the advisor
// collaborator. Confidence is 0-100; size and exit fields are percentages.
type AIDecision struct {
	Action          string  `json:"action"` // BUY, SELL, HOLD
	Confidence      float64 `json:"confidence"`
	PositionSizePct float64 `json:"positionSize"`
	StopLossPct     float64 `json:"stopLoss"`
	TakeProfitPct   float64 `json:"takeProfit"`
	Reasoning       string  `json:"reasoning"`
	TimeHorizon     string  `json:"timeHorizon"`
}
