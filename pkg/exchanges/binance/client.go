// Package binance implements the exchange gateway against the Binance spot
// REST API, normalizing its errors into the closed adapter code set.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"botcore/pkg/exchanges/common"
	"botcore/pkg/resilience"
)

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client is a Binance spot gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	breaker     *resilience.Breaker
	retry       resilience.RetryConfig
}

func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// 1200 weight/min for spot
		rateLimiter: common.NewRateLimiter(1200, time.Minute),
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		retry:       resilience.DefaultRetryConfig(),
	}
}

// PlaceOrder submits a market order. ClientID is forwarded as
// newClientOrderId so the venue also deduplicates retries.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, common.NewError(common.CodeInvalidKey, "API key/secret required")
	}

	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", string(ordType))
	params.Set("quantity", formatFloat(req.Qty))
	if ordType == common.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	var resp orderResponse
	err := c.do(ctx, func(ctx context.Context) error {
		body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/api/v3/order", params)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return common.OrderResult{}, err
	}

	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
	}, nil
}

// GetTicker returns the normalized 24h ticker for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp tickerResponse
	err := c.do(ctx, func(ctx context.Context) error {
		body, err := c.doPublic(ctx, c.baseURL+"/api/v3/ticker/24hr?"+params.Encode())
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return common.Ticker{}, err
	}

	return common.Ticker{
		Symbol:    resp.Symbol,
		Price:     parseFloat(resp.LastPrice),
		Bid:       parseFloat(resp.BidPrice),
		Ask:       parseFloat(resp.AskPrice),
		Volume:    parseFloat(resp.Volume),
		Change24h: parseFloat(resp.PriceChangePercent),
		FetchedAt: time.Now(),
	}, nil
}

// GetBalances returns non-zero account balances.
func (c *Client) GetBalances(ctx context.Context) ([]common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, common.NewError(common.CodeInvalidKey, "API key/secret required")
	}

	var resp accountResponse
	err := c.do(ctx, func(ctx context.Context) error {
		body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/account", url.Values{})
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return nil, err
	}

	var balances []common.Balance
	for _, b := range resp.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, common.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// do runs one call through the breaker with bounded retries; only
// rate-limit and availability failures are retried.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, c.breaker, c.retry, func(err error) bool {
		return common.Retryable(common.CodeOf(err))
	}, fn)
}

func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	query := params.Encode()
	query += "&signature=" + sign(query, c.cfg.APISecret)

	var reqURL, body string
	if method == http.MethodGet {
		reqURL = endpoint + "?" + query
	} else {
		reqURL = endpoint
		body = query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.send(req)
}

func (c *Client) doPublic(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	if c.rateLimiter.ShouldDelay() {
		return nil, common.NewError(common.CodeRateLimit, "request weight near venue limit, deferring")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewError(common.CodeServiceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	c.rateLimiter.UpdateFromHeader(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError(common.CodeServiceUnavailable, err.Error())
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, normalizeHTTPError(resp.StatusCode, body)
}

// normalizeHTTPError maps Binance error payloads onto the closed code set.
func normalizeHTTPError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Msg
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}

	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return common.NewError(common.CodeRateLimit, msg)
	case status == http.StatusUnauthorized || apiErr.Code == -2014 || apiErr.Code == -1022:
		return common.NewError(common.CodeInvalidKey, msg)
	case status == http.StatusForbidden:
		return common.NewError(common.CodePermissionDenied, msg)
	case apiErr.Code == -2010 && strings.Contains(strings.ToLower(msg), "insufficient"):
		return common.NewError(common.CodeInsufficientFunds, msg)
	case status >= 500:
		return common.NewError(common.CodeServiceUnavailable, msg)
	default:
		return common.NewError(common.CodeServiceUnavailable, msg)
	}
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PARTIALLY_FILLED":
		return common.StatusSubmitted
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "EXPIRED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
