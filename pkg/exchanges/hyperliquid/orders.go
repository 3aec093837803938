package hyperliquid

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"arb-engine/pkg/exchanges/common"
)

// The wire structs carry matching json and msgpack tags: the body ships as
// JSON while the signature hashes the msgpack encoding of the same action.

type limitTif struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type orderTypeWire struct {
	Limit *limitTif `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

type orderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	Price      string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	Type       orderTypeWire `json:"t" msgpack:"t"`
	Cloid      string        `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []orderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

func wireTif(t common.OrderType, tif common.TimeInForce) string {
	// market orders ride as aggressive IOC limits
	if t == common.OrderTypeMarket {
		return "Ioc"
	}
	switch tif {
	case common.TIFIOC:
		return "Ioc"
	case common.TIFGTX:
		return "Alo"
	default:
		return "Gtc"
	}
}

// SubmitOrder places one order and normalizes the immediate status.
func (c *Client) SubmitOrder(ctx context.Context, r common.RequestPlaceOrder) (common.UpdateOrder, error) {
	idx, ok := c.assetIndex(r.Symbol)
	if !ok {
		return common.UpdateOrder{}, fmt.Errorf("hyperliquid: unknown asset %q", r.Symbol)
	}
	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      idx,
			IsBuy:      r.Side == common.SideBuy,
			Price:      strconv.FormatFloat(r.Price, 'f', -1, 64),
			Size:       strconv.FormatFloat(r.Size, 'f', -1, 64),
			ReduceOnly: r.ReduceOnly || r.Effect == common.EffectClose,
			Type:       orderTypeWire{Limit: &limitTif{Tif: wireTif(r.Type, r.TIF)}},
			Cloid:      r.ClientID,
		}},
		Grouping: "na",
	}
	resp, err := c.postExchange(ctx, action)
	if err != nil {
		return common.UpdateOrder{}, err
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return common.UpdateOrder{}, fmt.Errorf("hyperliquid: empty order status")
	}

	now := time.Now().UnixMilli()
	u := common.UpdateOrder{
		Exchange:   common.ExchangeHyperliquid,
		Symbol:     r.Symbol,
		LocalID:    r.LocalID,
		ClientID:   r.ClientID,
		Side:       r.Side,
		Type:       r.Type,
		TIF:        r.TIF,
		Effect:     r.Effect,
		Price:      r.Price,
		Size:       r.Size,
		StrategyID: r.StrategyID,
		EventID:    r.EventID,
		UpdateTst:  now,
	}
	st := resp.Response.Data.Statuses[0]
	switch {
	case st.Error != "":
		u.Status = common.StatusRejected
		u.Reason = st.Error
	case st.Filled != nil:
		u.ServerID = strconv.FormatInt(st.Filled.Oid, 10)
		u.FilledSize = parseFloat(st.Filled.TotalSz)
		u.AvgPrice = parseFloat(st.Filled.AvgPx)
		u.FilledCost = u.FilledSize * u.AvgPrice
		if u.FilledSize >= u.Size {
			u.Status = common.StatusFilled
		} else {
			u.Status = common.StatusPartial
		}
	case st.Resting != nil:
		u.ServerID = strconv.FormatInt(st.Resting.Oid, 10)
		u.Status = common.StatusNew
	default:
		u.Status = common.StatusUnknown
	}
	return u, nil
}

type cancelWire struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

type cancelAction struct {
	Type    string       `json:"type" msgpack:"type"`
	Cancels []cancelWire `json:"cancels" msgpack:"cancels"`
}

type cancelByCloidWire struct {
	Asset int    `json:"asset" msgpack:"asset"`
	Cloid string `json:"cloid" msgpack:"cloid"`
}

type cancelByCloidAction struct {
	Type    string              `json:"type" msgpack:"type"`
	Cancels []cancelByCloidWire `json:"cancels" msgpack:"cancels"`
}

// CancelOrder cancels by server oid when known, else by client id.
func (c *Client) CancelOrder(ctx context.Context, r common.RequestCancelOrder) error {
	idx, ok := c.assetIndex(r.Symbol)
	if !ok {
		return fmt.Errorf("hyperliquid: unknown asset %q", r.Symbol)
	}
	if r.ServerID != "" {
		oid, err := strconv.ParseInt(r.ServerID, 10, 64)
		if err != nil {
			return fmt.Errorf("hyperliquid: bad oid %q", r.ServerID)
		}
		a := cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: idx, Oid: oid}}}
		_, err = c.postExchange(ctx, a)
		return err
	}
	if r.ClientID == "" {
		return fmt.Errorf("hyperliquid: cancel needs an oid or cloid")
	}
	a := cancelByCloidAction{Type: "cancelByCloid", Cancels: []cancelByCloidWire{{Asset: idx, Cloid: r.ClientID}}}
	_, err := c.postExchange(ctx, a)
	return err
}

type clearinghouseState struct {
	Withdrawable   string `json:"withdrawable"`
	CrossMarginSum struct {
		AccountValue string `json:"accountValue"`
	} `json:"crossMarginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin string `json:"coin"`
			Szi  string `json:"szi"`
		} `json:"position"`
	} `json:"assetPositions"`
	Time int64 `json:"time"`
}

// QueryAssets reports the account's margin balance and open positions.
func (c *Client) QueryAssets(ctx context.Context) (common.UpdatePositions, error) {
	var state clearinghouseState
	err := c.postInfo(ctx, map[string]string{
		"type": "clearinghouseState",
		"user": c.cfg.Address,
	}, &state)
	if err != nil {
		return common.UpdatePositions{}, err
	}
	ts := state.Time
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	out := common.UpdatePositions{
		Exchange:     common.ExchangeHyperliquid,
		ExchangeTime: ts,
		IsSnapshot:   true,
	}
	out.Positions = append(out.Positions, common.PositionReport{
		Exchange:  common.ExchangeHyperliquid,
		Asset:     "USDC",
		Qty:       parseFloat(state.CrossMarginSum.AccountValue),
		Available: parseFloat(state.Withdrawable),
	})
	for _, ap := range state.AssetPositions {
		szi := parseFloat(ap.Position.Szi)
		if szi == 0 {
			continue
		}
		out.Positions = append(out.Positions, common.PositionReport{
			Exchange: common.ExchangeHyperliquid,
			Symbol:   ap.Position.Coin,
			Qty:      szi,
		})
	}
	return out, nil
}

type openOrderRow struct {
	Coin      string `json:"coin"`
	Oid       int64  `json:"oid"`
	Cloid     string `json:"cloid"`
	Side      string `json:"side"` // "B" | "A"
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	OrigSz    string `json:"origSz"`
	Timestamp int64  `json:"timestamp"`
}

// SyncOrders re-fetches the account's open orders.
func (c *Client) SyncOrders(ctx context.Context, r common.RequestSyncOrders) (common.SyncOrdersReport, error) {
	var rows []openOrderRow
	err := c.postInfo(ctx, map[string]string{
		"type": "openOrders",
		"user": c.cfg.Address,
	}, &rows)
	if err != nil {
		return common.SyncOrdersReport{}, err
	}
	report := common.SyncOrdersReport{Exchange: common.ExchangeHyperliquid}
	for _, o := range rows {
		if r.Symbol != "" && o.Coin != r.Symbol {
			continue
		}
		side := common.SideSell
		if o.Side == "B" {
			side = common.SideBuy
		}
		orig := parseFloat(o.OrigSz)
		remaining := parseFloat(o.Sz)
		report.Orders = append(report.Orders, common.UpdateOrder{
			Exchange:   common.ExchangeHyperliquid,
			Symbol:     o.Coin,
			ClientID:   o.Cloid,
			ServerID:   strconv.FormatInt(o.Oid, 10),
			Side:       side,
			Type:       common.OrderTypeLimit,
			Price:      parseFloat(o.LimitPx),
			Size:       orig,
			FilledSize: orig - remaining,
			Status:     common.StatusNew,
			UpdateTst:  o.Timestamp,
		})
	}
	return report, nil
}
