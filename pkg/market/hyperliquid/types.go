package market

// L2Level is one side level of the book.
type L2Level struct {
	Px float64
	Sz float64
	N  int
}

// L2Book is a top-of-book snapshot for one coin.
type L2Book struct {
	Coin string
	Bids []L2Level
	Asks []L2Level
	Time int64 // ms
}

// Trade is one public fill.
type Trade struct {
	Coin  string
	Side  string // "A" ask-side (sell), "B" bid-side (buy)
	Px    float64
	Sz    float64
	Time  int64
	TID   uint64
}

// AssetCtx carries the per-coin derived prices and funding.
type AssetCtx struct {
	Coin       string
	Funding    float64
	OraclePx   float64
	MarkPx     float64
	MidPx      float64
	OpenInterest float64
	Time       int64
}

// AssetMeta is one row of the exchange universe.
type AssetMeta struct {
	Name       string
	SzDecimals int
	MaxLeverage int
	Index      int
}
