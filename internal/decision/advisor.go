package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"botcore/pkg/resilience"
)

// MarketState is the snapshot sent to the advisor.
type MarketState struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume    float64 `json:"volume,omitempty"`
}

// Portfolio is the account snapshot sent to the advisor.
type Portfolio struct {
	Capital      float64 `json:"capital"`
	DailyPnL     float64 `json:"dailyPnl"`
	OpenPosition bool    `json:"openPosition"`
}

type proposeRequest struct {
	MarketState   MarketState `json:"market_state"`
	Portfolio     Portfolio   `json:"portfolio"`
	RiskTolerance string      `json:"risk_tolerance"`
}

// Advisor is the HTTP client for the AI-advisory collaborator. Calls are
// paced, retried, and circuit-broken; any failure degrades to a nil proposal
// so the caller falls back to the baseline signal.
type Advisor struct {
	BaseURL string
	APIKey  string

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
}

// NewAdvisor creates an Advisor. An empty baseURL disables the advisor; every
// ProposeDecision call then returns nil without I/O.
func NewAdvisor(baseURL, apiKey string) *Advisor {
	return &Advisor{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		breaker:    resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 3, ResetAfter: time.Minute}),
		retry:      resilience.RetryConfig{Attempts: 2, BaseBackoff: 500 * time.Millisecond},
	}
}

// Enabled reports whether the advisor is configured.
func (a *Advisor) Enabled() bool {
	return a != nil && a.BaseURL != ""
}

// ProposeDecision asks the advisor for a trade proposal. It returns nil (and
// no error) when the advisor is disabled, rate limited, circuit-open, or
// failing; the selector treats nil as "use the baseline".
func (a *Advisor) ProposeDecision(ctx context.Context, ms MarketState, pf Portfolio, riskTolerance string) *AIDecision {
	if !a.Enabled() {
		return nil
	}
	if !a.limiter.Allow() {
		return nil
	}

	var out AIDecision
	err := resilience.Do(ctx, a.breaker, a.retry, nil, func(ctx context.Context) error {
		return a.call(ctx, proposeRequest{MarketState: ms, Portfolio: pf, RiskTolerance: riskTolerance}, &out)
	})
	if err != nil {
		log.Printf("advisor: propose failed for %s: %v", ms.Symbol, err)
		return nil
	}
	return &out
}

func (a *Advisor) call(ctx context.Context, in proposeRequest, out *AIDecision) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/decision", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("advisor returned %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
