package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arb-engine/pkg/exchanges/common"
)

const listenKeyKeepAlive = 25 * time.Minute

// CreateListenKey opens a user-data stream key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("create listen key status %d: %s", res.StatusCode, string(b))
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends listen key life.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/fapi/v1/listenKey?listenKey="+listenKey, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("keepalive listen key status %d: %s", res.StatusCode, string(b))
	}
	return nil
}

// UserStream owns the user-data websocket: it renews the listen key,
// reconnects on failure, and emits normalized responses.
type UserStream struct {
	client *Client
	out    chan<- common.ExecutionResponse

	stopOnce sync.Once
	stop     chan struct{}
}

func NewUserStream(client *Client, out chan<- common.ExecutionResponse) *UserStream {
	return &UserStream{client: client, out: out, stop: make(chan struct{})}
}

// Stop terminates the stream. Safe to call more than once.
func (s *UserStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run connects and blocks until ctx ends or Stop is called.
func (s *UserStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}

		err := s.session(ctx)
		if err == nil {
			return nil
		}
		log.Printf("⚠️ binance user stream: %v, reconnecting in %s", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *UserStream) session(ctx context.Context) error {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("listen key: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.client.wsURL+"/ws/"+key, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Println("✓ binance user stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-s.stop:
				conn.Close()
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(ctx, key); err != nil {
					log.Printf("⚠️ binance user stream: keepalive failed: %v", err)
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stop:
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		s.dispatch(msg)
	}
}

type streamEnvelope struct {
	Event string `json:"e"`
	Time  int64  `json:"E"`
}

func (s *UserStream) dispatch(msg []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}
	switch env.Event {
	case "ORDER_TRADE_UPDATE":
		s.onOrderTradeUpdate(msg)
	case "ACCOUNT_UPDATE":
		s.onAccountUpdate(msg)
	case "listenKeyExpired":
		log.Println("⚠️ binance user stream: listen key expired")
	case "MARGIN_CALL":
		log.Println("⚠️ binance user stream: margin call")
	}
}

type orderTradeUpdate struct {
	Time  int64 `json:"E"`
	Order struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		TIF           string `json:"f"`
		OrigQty       string `json:"q"`
		Price         string `json:"p"`
		AvgPrice      string `json:"ap"`
		ExecType      string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastFilledQty string `json:"l"`
		FilledQty     string `json:"z"`
		LastPrice     string `json:"L"`
		Commission    string `json:"n"`
		CommissionAst string `json:"N"`
		TradeTime     int64  `json:"T"`
		TradeID       int64  `json:"t"`
		ReduceOnly    bool   `json:"R"`
	} `json:"o"`
}

func (s *UserStream) onOrderTradeUpdate(msg []byte) {
	var u orderTradeUpdate
	if err := json.Unmarshal(msg, &u); err != nil {
		log.Printf("⚠️ binance user stream: bad ORDER_TRADE_UPDATE: %v", err)
		return
	}
	o := u.Order
	effect := common.EffectOpen
	if o.ReduceOnly {
		effect = common.EffectClose
	}
	filled := toFloat(o.FilledQty)
	avg := toFloat(o.AvgPrice)
	s.out <- common.UpdateOrder{
		Exchange:       common.ExchangeBinanceFutures,
		Symbol:         o.Symbol,
		ClientID:       o.ClientOrderID,
		ServerID:       strconv.FormatInt(o.OrderID, 10),
		Side:           common.Side(o.Side),
		Type:           common.OrderType(o.Type),
		TIF:            common.TimeInForce(o.TIF),
		Effect:         effect,
		Price:          toFloat(o.Price),
		Size:           toFloat(o.OrigQty),
		FilledSize:     filled,
		FilledCost:     filled * avg,
		LastFilledSize: toFloat(o.LastFilledQty),
		AvgPrice:       avg,
		Status:         mapStatus(o.Status),
		UpdateTst:      o.TradeTime,
	}
	if o.ExecType == "TRADE" && o.TradeID != 0 {
		s.out <- common.UpdateTrade{
			Exchange:     common.ExchangeBinanceFutures,
			Symbol:       o.Symbol,
			TradeID:      strconv.FormatInt(o.TradeID, 10),
			ServerID:     strconv.FormatInt(o.OrderID, 10),
			ClientID:     o.ClientOrderID,
			Side:         common.Side(o.Side),
			Price:        toFloat(o.LastPrice),
			Size:         toFloat(o.LastFilledQty),
			Fee:          toFloat(o.Commission),
			FeeAsset:     o.CommissionAst,
			ExchangeTime: u.Time,
		}
	}
}

type accountUpdate struct {
	Time int64 `json:"E"`
	Data struct {
		Reason   string `json:"m"`
		Balances []struct {
			Asset   string `json:"a"`
			Balance string `json:"wb"`
		} `json:"B"`
		Positions []struct {
			Symbol string `json:"s"`
			Amount string `json:"pa"`
		} `json:"P"`
	} `json:"a"`
}

func (s *UserStream) onAccountUpdate(msg []byte) {
	var u accountUpdate
	if err := json.Unmarshal(msg, &u); err != nil {
		log.Printf("⚠️ binance user stream: bad ACCOUNT_UPDATE: %v", err)
		return
	}
	out := common.UpdatePositions{
		Exchange:     common.ExchangeBinanceFutures,
		ExchangeTime: u.Time,
	}
	for _, b := range u.Data.Balances {
		out.Positions = append(out.Positions, common.PositionReport{
			Exchange: common.ExchangeBinanceFutures,
			Asset:    b.Asset,
			Qty:      toFloat(b.Balance),
		})
	}
	for _, p := range u.Data.Positions {
		out.Positions = append(out.Positions, common.PositionReport{
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   p.Symbol,
			Qty:      toFloat(p.Amount),
		})
	}
	s.out <- out
}

// FetchFunding pulls funding payments from the income endpoint; the
// ACCOUNT_UPDATE event only carries the post-fee balance, not the amount.
func (c *Client) FetchFunding(ctx context.Context, limit int) ([]common.UpdateFunding, error) {
	params := c.signedParams()
	params.Set("incomeType", "FUNDING_FEE")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doSigned(ctx, "GET", c.baseURL+"/fapi/v1/income", params, 30)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol string `json:"symbol"`
		Income string `json:"income"`
		Asset  string `json:"asset"`
		Time   int64  `json:"time"`
		TranID int64  `json:"tranId"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode income: %w", err)
	}
	out := make([]common.UpdateFunding, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.UpdateFunding{
			Exchange:     common.ExchangeBinanceFutures,
			Symbol:       r.Symbol,
			FundingID:    strconv.FormatInt(r.TranID, 10),
			Asset:        r.Asset,
			Quantity:     toFloat(r.Income),
			ExchangeTime: r.Time,
		})
	}
	return out, nil
}
