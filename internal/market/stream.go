package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// StreamFeed keeps the provider's quote cache warm from the exchange's public
// ticker websocket, so ticks rarely need a REST round trip. The feed is best
// effort: on any error it reconnects with backoff, and the provider falls
// back to REST (then synthetic) in the meantime.
type StreamFeed struct {
	Provider *Provider
	Symbols  []string
	Testnet  bool

	dialer *websocket.Dialer
}

// NewStreamFeed builds a feed for the given symbols.
func NewStreamFeed(provider *Provider, symbols []string, testnet bool) *StreamFeed {
	return &StreamFeed{
		Provider: provider,
		Symbols:  symbols,
		Testnet:  testnet,
		dialer:   websocket.DefaultDialer,
	}
}

// tickerMessage is the combined-stream payload for <symbol>@ticker.
type tickerMessage struct {
	Data struct {
		Symbol        string `json:"s"`
		LastPrice     string `json:"c"`
		BidPrice      string `json:"b"`
		AskPrice      string `json:"a"`
		ChangePercent string `json:"P"`
		Volume        string `json:"v"`
	} `json:"data"`
}

// Start runs the feed until ctx is canceled.
func (f *StreamFeed) Start(ctx context.Context) {
	if len(f.Symbols) == 0 {
		return
	}
	go func() {
		backoff := time.Second
		for {
			if err := f.run(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("market stream: %v; reconnecting in %v", err, backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

func (f *StreamFeed) run(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial ticker stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("read ticker stream: %w", err)
		}

		var tick tickerMessage
		if err := json.Unmarshal(msg, &tick); err != nil {
			log.Printf("market stream: parse error: %v", err)
			continue
		}
		if tick.Data.Symbol == "" {
			continue
		}
		f.Provider.Store(Quote{
			Symbol:    tick.Data.Symbol,
			Price:     parseFloat(tick.Data.LastPrice),
			Bid:       parseFloat(tick.Data.BidPrice),
			Ask:       parseFloat(tick.Data.AskPrice),
			Change24h: parseFloat(tick.Data.ChangePercent),
			FetchedAt: time.Now().UTC(),
		})
	}
}

// streamURL builds the combined-stream endpoint. Binance requires lowercase
// symbols for websocket streams.
func (f *StreamFeed) streamURL() string {
	host := "stream.binance.com:9443"
	if f.Testnet {
		host = "testnet.binance.vision"
	}
	streams := make([]string, 0, len(f.Symbols))
	for _, s := range f.Symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}
	return u.String()
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
