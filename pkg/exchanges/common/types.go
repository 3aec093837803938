package common

// Exchange identifies a trading venue.
type Exchange string

const (
	ExchangeBinanceFutures Exchange = "BinanceUsdmFutures"
	ExchangeHyperliquid    Exchange = "Hyperliquid"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING" // locally created, not yet acked
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Closed reports whether the status is terminal.
func (s OrderStatus) Closed() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// PositionEffect captures the portfolio intent of an order.
type PositionEffect string

const (
	EffectOpen  PositionEffect = "OPEN"
	EffectClose PositionEffect = "CLOSE"
	EffectAuto  PositionEffect = "AUTO"
)

// StrategyID tags requests and orders with their originating strategy.
type StrategyID int

const (
	StrategyZero  StrategyID = 0
	StrategyOne   StrategyID = 1
	StrategyTwo   StrategyID = 2
	StrategyThree StrategyID = 3
)

// RequestPlaceOrder is a strategy's intent to place a single order.
type RequestPlaceOrder struct {
	LocalID    uint64
	ClientID   string // exchange-facing idempotency key
	Exchange   Exchange
	Symbol     string
	Side       Side
	Type       OrderType
	TIF        TimeInForce
	Effect     PositionEffect
	Price      float64
	Size       float64
	StrategyID StrategyID
	EventID    uint64
	// OpenClientID references the opening order when Effect is Close.
	OpenClientID string
	ReduceOnly   bool
	CreateLt     int64 // local creation time, ms
}

// Notional returns price*size in quote units.
func (r RequestPlaceOrder) Notional() float64 { return r.Price * r.Size }

// RequestCancelOrder cancels a working order. Any one identifier suffices.
type RequestCancelOrder struct {
	Exchange Exchange
	Symbol   string
	LocalID  uint64
	ClientID string
	ServerID string
}

// RequestSyncOrders asks a venue client to re-fetch open orders.
type RequestSyncOrders struct {
	Exchange Exchange
	Symbol   string
}

// RequestQueryAssets asks a venue client to report balances and positions.
type RequestQueryAssets struct {
	Exchange Exchange
}

// ExecutionRequest is the tagged request vocabulary routed to venue clients.
type ExecutionRequest interface{ isExecutionRequest() }

func (RequestPlaceOrder) isExecutionRequest()  {}
func (RequestCancelOrder) isExecutionRequest() {}
func (RequestSyncOrders) isExecutionRequest()  {}
func (RequestQueryAssets) isExecutionRequest() {}

// UpdateOrder is the normalized order status report from a venue.
type UpdateOrder struct {
	Exchange       Exchange
	Symbol         string
	LocalID        uint64
	ClientID       string
	ServerID       string
	Side           Side
	Type           OrderType
	TIF            TimeInForce
	Effect         PositionEffect
	Price          float64
	Size           float64
	FilledSize     float64
	FilledCost     float64
	LastFilledSize float64
	AvgPrice       float64
	Status         OrderStatus
	Reason         string // populated when Status is REJECTED
	StrategyID     StrategyID
	EventID        uint64
	UpdateTst      int64 // authoritative exchange timestamp, ms
}

// UpdateTrade is a normalized fill report.
type UpdateTrade struct {
	Exchange     Exchange
	Symbol       string
	TradeID      string
	OrderLocalID uint64
	ClientID     string
	ServerID     string
	Side         Side
	Price        float64
	Size         float64
	Fee          float64
	FeeAsset     string
	ExchangeTime int64 // ms
}

// PositionReport is one venue-reported position or balance line.
type PositionReport struct {
	Exchange  Exchange
	Symbol    string
	Asset     string
	Qty       float64
	Available float64
	Locked    float64
}

// UpdatePositions is a venue snapshot of positions and balances.
type UpdatePositions struct {
	Exchange     Exchange
	Positions    []PositionReport
	ExchangeTime int64 // ms
	IsSnapshot   bool
}

// UpdateFunding is a normalized funding payment report.
type UpdateFunding struct {
	Exchange     Exchange
	Symbol       string
	FundingID    string
	Asset        string
	Quantity     float64 // signed
	ExchangeTime int64   // ms
}

// SyncOrdersReport carries the venue's open-order list after a sync.
type SyncOrdersReport struct {
	Exchange Exchange
	Orders   []UpdateOrder
}

// ResponseError is a venue-level failure tied to a request.
type ResponseError struct {
	Exchange Exchange
	LocalID  uint64
	ClientID string
	Reason   string
}

// ExecutionResponse is the tagged response vocabulary from venue clients.
type ExecutionResponse interface{ isExecutionResponse() }

func (UpdateOrder) isExecutionResponse()      {}
func (UpdateTrade) isExecutionResponse()      {}
func (UpdatePositions) isExecutionResponse()  {}
func (UpdateFunding) isExecutionResponse()    {}
func (SyncOrdersReport) isExecutionResponse() {}
func (ResponseError) isExecutionResponse()    {}
