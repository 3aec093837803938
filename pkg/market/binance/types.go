package market

// BookTicker is the best bid/ask update for one symbol.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     int64 // ms
}

// MarkPrice carries mark/index price plus the current funding rate.
type MarkPrice struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	FundingRate     float64
	NextFundingTime int64
	Time            int64
}

// AggTrade is an aggregated public trade.
type AggTrade struct {
	Symbol       string
	Price        float64
	Qty          float64
	Time         int64
	IsBuyerMaker bool
}

// Kline is one OHLCV bar.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// DepthUpdate carries the top levels of the partial book stream.
type DepthUpdate struct {
	Symbol string
	Bids   [][2]float64 // price, qty
	Asks   [][2]float64
	Time   int64
}

// SymbolInfo is the subset of exchangeInfo the engine needs.
type SymbolInfo struct {
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	ContractType      string
	QuantityPrecision int
	PricePrecision    int
	MinNotional       float64
	Status            string
}
