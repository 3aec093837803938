package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CombinedMessage is one frame off a combined stream connection.
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// StreamClient manages streaming from the Binance USDM futures websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// idleWatchdog is how long a stream may stay silent before we warn.
const idleWatchdog = 10 * time.Second

// SubscribeCombined opens one connection carrying all given streams
// (e.g. "btcusdt@bookTicker", "btcusdt@markPrice@1s") and pushes raw frames
// into a channel. The connection reconnects with bounded backoff; a silent
// stream triggers a warning, not a disconnect. Returns the channel and a
// stop function.
func (c *StreamClient) SubscribeCombined(ctx context.Context, streams []string) (<-chan CombinedMessage, func(), error) {
	if len(streams) == 0 {
		return nil, nil, fmt.Errorf("no streams requested")
	}
	// stream names carry lowercase symbols, e.g. btcusdt@bookTicker
	endpoint := fmt.Sprintf("%s/stream?streams=%s", c.StreamURL, strings.Join(streams, "/"))

	out := make(chan CombinedMessage, 400)
	runCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
		})
	}

	go func() {
		defer close(out)
		backoff := time.Second
		for {
			if runCtx.Err() != nil {
				return
			}
			conn, _, err := c.dialer.DialContext(runCtx, endpoint, nil)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				log.Printf("❌ binance ws dial: %v (retry in %v)", err, backoff)
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
			log.Printf("✓ binance ws connected: %d streams", len(streams))
			c.readLoop(runCtx, conn, out)
			_ = conn.Close()
		}
	}()

	return out, stop, nil
}

func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- CombinedMessage) {
	// close the connection when the context ends so ReadMessage unblocks
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
		for {
			select {
			case <-done:
				return
			case <-watchdog.C:
				since := time.Since(time.Unix(0, lastMsg.Load()))
				if since > idleWatchdog {
					log.Printf("⚠️ binance ws idle for %v", since.Round(time.Second))
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
			log.Printf("binance ws read error: %v", err)
			return
		}
		lastMsg.Store(time.Now().UnixNano())

		var parsed CombinedMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			log.Printf("binance ws parse error: %v", err)
			continue
		}
		out <- parsed
	}
}

// ParseBookTicker decodes a bookTicker frame.
func ParseBookTicker(data json.RawMessage) (BookTicker, error) {
	var raw struct {
		Symbol string      `json:"s"`
		Bid    interface{} `json:"b"`
		BidQty interface{} `json:"B"`
		Ask    interface{} `json:"a"`
		AskQty interface{} `json:"A"`
		Time   int64       `json:"E"`
		TxTime int64       `json:"T"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return BookTicker{}, err
	}
	t := raw.TxTime
	if t == 0 {
		t = raw.Time
	}
	return BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: toFloat(raw.Bid),
		BidQty:   toFloat(raw.BidQty),
		AskPrice: toFloat(raw.Ask),
		AskQty:   toFloat(raw.AskQty),
		Time:     t,
	}, nil
}

// ParseMarkPrice decodes a markPrice frame.
func ParseMarkPrice(data json.RawMessage) (MarkPrice, error) {
	var raw struct {
		Symbol          string      `json:"s"`
		Mark            interface{} `json:"p"`
		Index           interface{} `json:"i"`
		FundingRate     interface{} `json:"r"`
		NextFundingTime int64       `json:"T"`
		Time            int64       `json:"E"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return MarkPrice{}, err
	}
	return MarkPrice{
		Symbol:          raw.Symbol,
		MarkPrice:       toFloat(raw.Mark),
		IndexPrice:      toFloat(raw.Index),
		FundingRate:     toFloat(raw.FundingRate),
		NextFundingTime: raw.NextFundingTime,
		Time:            raw.Time,
	}, nil
}

// ParseAggTrade decodes an aggTrade frame.
func ParseAggTrade(data json.RawMessage) (AggTrade, error) {
	var raw struct {
		Symbol    string      `json:"s"`
		Price     interface{} `json:"p"`
		Qty       interface{} `json:"q"`
		TradeTime int64       `json:"T"`
		BuyerIsMM bool        `json:"m"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return AggTrade{}, err
	}
	return AggTrade{
		Symbol:       raw.Symbol,
		Price:        toFloat(raw.Price),
		Qty:          toFloat(raw.Qty),
		Time:         raw.TradeTime,
		IsBuyerMaker: raw.BuyerIsMM,
	}, nil
}

// ParseKline decodes a kline frame.
func ParseKline(data json.RawMessage) (Kline, error) {
	var raw struct {
		K struct {
			StartTime int64       `json:"t"`
			CloseTime int64       `json:"T"`
			Symbol    string      `json:"s"`
			Interval  string      `json:"i"`
			Open      interface{} `json:"o"`
			Close     interface{} `json:"c"`
			High      interface{} `json:"h"`
			Low       interface{} `json:"l"`
			Volume    interface{} `json:"v"`
			Closed    bool        `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Kline{}, err
	}
	return Kline{
		Symbol:    raw.K.Symbol,
		Interval:  raw.K.Interval,
		OpenTime:  raw.K.StartTime,
		CloseTime: raw.K.CloseTime,
		Open:      toFloat(raw.K.Open),
		High:      toFloat(raw.K.High),
		Low:       toFloat(raw.K.Low),
		Close:     toFloat(raw.K.Close),
		Volume:    toFloat(raw.K.Volume),
		Closed:    raw.K.Closed,
	}, nil
}

// ParseDepth decodes a partial depth frame.
func ParseDepth(data json.RawMessage) (DepthUpdate, error) {
	var raw struct {
		Symbol string          `json:"s"`
		Time   int64           `json:"E"`
		Bids   [][]interface{} `json:"b"`
		Asks   [][]interface{} `json:"a"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DepthUpdate{}, err
	}
	var bids [][2]float64
	for _, b := range raw.Bids {
		if len(b) < 2 {
			continue
		}
		bids = append(bids, [2]float64{toFloat(b[0]), toFloat(b[1])})
	}
	var asks [][2]float64
	for _, a := range raw.Asks {
		if len(a) < 2 {
			continue
		}
		asks = append(asks, [2]float64{toFloat(a[0]), toFloat(a[1])})
	}
	return DepthUpdate{Symbol: raw.Symbol, Bids: bids, Asks: asks, Time: raw.Time}, nil
}
