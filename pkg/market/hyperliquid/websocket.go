package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Message is one frame off the Hyperliquid websocket.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

// StreamClient manages streaming from the Hyperliquid websocket.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client for the given chain.
func NewStreamClient(testnet bool) *StreamClient {
	endpoint := "wss://api.hyperliquid.xyz/ws"
	if testnet {
		endpoint = "wss://api.hyperliquid-testnet.xyz/ws"
	}
	return &StreamClient{StreamURL: endpoint, dialer: websocket.DefaultDialer}
}

const idleWatchdog = 10 * time.Second

// Subscribe opens one connection, subscribes l2Book, trades and
// activeAssetCtx for every coin, and pushes raw frames into a channel.
// Reconnects with bounded backoff and re-subscribes; a silent stream warns
// without disconnecting. Returns the channel and a stop function.
func (c *StreamClient) Subscribe(ctx context.Context, coins []string) (<-chan Message, func(), error) {
	if len(coins) == 0 {
		return nil, nil, fmt.Errorf("no coins requested")
	}

	out := make(chan Message, 400)
	runCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer close(out)
		backoff := time.Second
		for {
			if runCtx.Err() != nil {
				return
			}
			conn, _, err := c.dialer.DialContext(runCtx, c.StreamURL, nil)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				log.Printf("❌ hyperliquid ws dial: %v (retry in %v)", err, backoff)
				select {
				case <-runCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			ok := true
			for _, coin := range coins {
				for _, typ := range []string{"l2Book", "trades", "activeAssetCtx"} {
					req := subscribeRequest{Method: "subscribe", Subscription: subscription{Type: typ, Coin: coin}}
					if err := conn.WriteJSON(req); err != nil {
						log.Printf("hyperliquid ws subscribe %s/%s: %v", typ, coin, err)
						ok = false
						break
					}
				}
				if !ok {
					break
				}
			}
			if ok {
				log.Printf("✓ hyperliquid ws connected: %d coins", len(coins))
				c.readLoop(runCtx, conn, out)
			}
			_ = conn.Close()
		}
	}()

	return out, stop, nil
}

func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Message) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	var lastMsg atomic.Int64
	lastMsg.Store(time.Now().UnixNano())
	watchdog := time.NewTicker(idleWatchdog)
	defer watchdog.Stop()
	go func() {
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-ping.C:
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			case <-watchdog.C:
				since := time.Since(time.Unix(0, lastMsg.Load()))
				if since > idleWatchdog {
					log.Printf("⚠️ hyperliquid ws idle for %v", since.Round(time.Second))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("hyperliquid ws read error: %v", err)
			return
		}
		lastMsg.Store(time.Now().UnixNano())

		var parsed Message
		if err := json.Unmarshal(msg, &parsed); err != nil {
			log.Printf("hyperliquid ws parse error: %v", err)
			continue
		}
		if parsed.Channel == "pong" || parsed.Channel == "subscriptionResponse" {
			continue
		}
		out <- parsed
	}
}

// ParseL2Book decodes an l2Book frame.
func ParseL2Book(data json.RawMessage) (L2Book, error) {
	var raw struct {
		Coin   string `json:"coin"`
		Time   int64  `json:"time"`
		Levels [2][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
			N  int    `json:"n"`
		} `json:"levels"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return L2Book{}, err
	}
	book := L2Book{Coin: raw.Coin, Time: raw.Time}
	for _, l := range raw.Levels[0] {
		book.Bids = append(book.Bids, L2Level{Px: parseFloat(l.Px), Sz: parseFloat(l.Sz), N: l.N})
	}
	for _, l := range raw.Levels[1] {
		book.Asks = append(book.Asks, L2Level{Px: parseFloat(l.Px), Sz: parseFloat(l.Sz), N: l.N})
	}
	return book, nil
}

// ParseTrades decodes a trades frame (a batch of fills).
func ParseTrades(data json.RawMessage) ([]Trade, error) {
	var raw []struct {
		Coin string `json:"coin"`
		Side string `json:"side"`
		Px   string `json:"px"`
		Sz   string `json:"sz"`
		Time int64  `json:"time"`
		TID  uint64 `json:"tid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(raw))
	for _, t := range raw {
		out = append(out, Trade{
			Coin: t.Coin,
			Side: t.Side,
			Px:   parseFloat(t.Px),
			Sz:   parseFloat(t.Sz),
			Time: t.Time,
			TID:  t.TID,
		})
	}
	return out, nil
}

// ParseActiveAssetCtx decodes an activeAssetCtx frame.
func ParseActiveAssetCtx(data json.RawMessage) (AssetCtx, error) {
	var raw struct {
		Coin string `json:"coin"`
		Ctx  struct {
			Funding      string `json:"funding"`
			OpenInterest string `json:"openInterest"`
			OraclePx     string `json:"oraclePx"`
			MarkPx       string `json:"markPx"`
			MidPx        string `json:"midPx"`
		} `json:"ctx"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return AssetCtx{}, err
	}
	return AssetCtx{
		Coin:         raw.Coin,
		Funding:      parseFloat(raw.Ctx.Funding),
		OpenInterest: parseFloat(raw.Ctx.OpenInterest),
		OraclePx:     parseFloat(raw.Ctx.OraclePx),
		MarkPx:       parseFloat(raw.Ctx.MarkPx),
		MidPx:        parseFloat(raw.Ctx.MidPx),
		Time:         time.Now().UnixMilli(),
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
