package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"arb-engine/pkg/exchanges/common"
)

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

// SubmitOrder places an order and returns the normalized ack built from the
// RESULT response.
func (c *Client) SubmitOrder(ctx context.Context, r common.RequestPlaceOrder) (common.UpdateOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.UpdateOrder{}, errors.New("binance futures: API key/secret required")
	}
	params := c.signedParams()
	params.Set("symbol", r.Symbol)
	params.Set("side", string(r.Side))
	params.Set("type", string(r.Type))
	params.Set("quantity", formatFloat(r.Size))
	params.Set("newOrderRespType", "RESULT")
	if r.Type == common.OrderTypeLimit {
		params.Set("price", formatFloat(r.Price))
		tif := r.TIF
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if r.ClientID != "" {
		params.Set("newClientOrderId", r.ClientID)
	}
	if r.ReduceOnly || r.Effect == common.EffectClose {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, "POST", c.baseURL+"/fapi/v1/order", params, 1)
	if err != nil {
		return common.UpdateOrder{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.UpdateOrder{}, fmt.Errorf("decode order: %w", err)
	}
	return c.normalize(resp, r), nil
}

func (c *Client) normalize(resp orderResp, r common.RequestPlaceOrder) common.UpdateOrder {
	filled := toFloat(resp.ExecutedQty)
	return common.UpdateOrder{
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     resp.Symbol,
		LocalID:    r.LocalID,
		ClientID:   resp.ClientOrderID,
		ServerID:   strconv.FormatInt(resp.OrderID, 10),
		Side:       r.Side,
		Type:       r.Type,
		TIF:        r.TIF,
		Effect:     r.Effect,
		Price:      toFloat(resp.Price),
		Size:       toFloat(resp.OrigQty),
		FilledSize: filled,
		FilledCost: toFloat(resp.CumQuote),
		AvgPrice:   toFloat(resp.AvgPrice),
		Status:     mapStatus(resp.Status),
		StrategyID: r.StrategyID,
		EventID:    r.EventID,
		UpdateTst:  resp.UpdateTime,
	}
}

// CancelOrder cancels by server id or client id.
func (c *Client) CancelOrder(ctx context.Context, r common.RequestCancelOrder) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("binance futures: API key/secret required")
	}
	params := c.signedParams()
	params.Set("symbol", r.Symbol)
	switch {
	case r.ServerID != "":
		params.Set("orderId", r.ServerID)
	case r.ClientID != "":
		params.Set("origClientOrderId", r.ClientID)
	default:
		return errors.New("binance futures: cancel needs a server or client id")
	}
	_, err := c.doSigned(ctx, "DELETE", c.baseURL+"/fapi/v1/order", params, 1)
	return err
}

type openOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"timeInForce"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

// SyncOrders re-fetches open orders, symbol optional.
func (c *Client) SyncOrders(ctx context.Context, r common.RequestSyncOrders) (common.SyncOrdersReport, error) {
	params := c.signedParams()
	weight := 40
	if r.Symbol != "" {
		params.Set("symbol", r.Symbol)
		weight = 1
	}
	body, err := c.doSigned(ctx, "GET", c.baseURL+"/fapi/v1/openOrders", params, weight)
	if err != nil {
		return common.SyncOrdersReport{}, err
	}
	var rows []openOrder
	if err := json.Unmarshal(body, &rows); err != nil {
		return common.SyncOrdersReport{}, fmt.Errorf("decode open orders: %w", err)
	}
	report := common.SyncOrdersReport{Exchange: common.ExchangeBinanceFutures}
	for _, o := range rows {
		effect := common.EffectOpen
		if o.ReduceOnly {
			effect = common.EffectClose
		}
		report.Orders = append(report.Orders, common.UpdateOrder{
			Exchange:   common.ExchangeBinanceFutures,
			Symbol:     o.Symbol,
			ClientID:   o.ClientOrderID,
			ServerID:   strconv.FormatInt(o.OrderID, 10),
			Side:       common.Side(strings.ToUpper(o.Side)),
			Type:       common.OrderType(strings.ToUpper(o.Type)),
			TIF:        common.TimeInForce(o.TimeInForce),
			Effect:     effect,
			Price:      toFloat(o.Price),
			Size:       toFloat(o.OrigQty),
			FilledSize: toFloat(o.ExecutedQty),
			FilledCost: toFloat(o.CumQuote),
			AvgPrice:   toFloat(o.AvgPrice),
			Status:     mapStatus(o.Status),
			UpdateTst:  o.UpdateTime,
		})
	}
	return report, nil
}

type accountInfo struct {
	UpdateTime int64 `json:"updateTime"`
	Assets     []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
	Positions []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	} `json:"positions"`
}

// QueryAssets reports balances and positions as one snapshot.
func (c *Client) QueryAssets(ctx context.Context) (common.UpdatePositions, error) {
	params := c.signedParams()
	body, err := c.doSigned(ctx, "GET", c.baseURL+"/fapi/v2/account", params, 5)
	if err != nil {
		return common.UpdatePositions{}, err
	}
	var info accountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return common.UpdatePositions{}, fmt.Errorf("decode account: %w", err)
	}
	out := common.UpdatePositions{
		Exchange:     common.ExchangeBinanceFutures,
		ExchangeTime: info.UpdateTime,
		IsSnapshot:   true,
	}
	for _, a := range info.Assets {
		out.Positions = append(out.Positions, common.PositionReport{
			Exchange:  common.ExchangeBinanceFutures,
			Asset:     a.Asset,
			Qty:       toFloat(a.WalletBalance),
			Available: toFloat(a.AvailableBalance),
		})
	}
	for _, p := range info.Positions {
		amt := toFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		out.Positions = append(out.Positions, common.PositionReport{
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   p.Symbol,
			Qty:      amt,
		})
	}
	return out, nil
}
