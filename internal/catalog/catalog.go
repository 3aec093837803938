package catalog

import (
	"fmt"
	"math"
	"sync"

	"arb-engine/pkg/exchanges/common"
)

// InstrumentType distinguishes settlement mechanics.
type InstrumentType string

const (
	TypeSpot      InstrumentType = "SPOT"
	TypePerpetual InstrumentType = "PERPETUAL"
	TypeDelivery  InstrumentType = "DELIVERY"
	TypeOption    InstrumentType = "OPTION"
)

// SizeUnit says which dimension an order size is denominated in.
type SizeUnit string

const (
	UnitBase  SizeUnit = "BASE"
	UnitQuote SizeUnit = "QUOTE"
)

// Instrument is the canonical description of one tradable contract on one
// venue. Loaded at startup from exchange metadata; immutable thereafter.
type Instrument struct {
	Exchange     common.Exchange
	Symbol       string // exchange-native symbol
	Base         Asset
	Quote        Asset
	Type         InstrumentType
	SizeUnit     SizeUnit
	LotDecimals  int
	TickDecimals int
	MinNotional  float64
}

// Code is the unified instrument code used for cross-venue keying.
func (i Instrument) Code() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.Symbol)
}

// RoundSize truncates a size down to the instrument's lot precision.
func (i Instrument) RoundSize(size float64) float64 {
	return roundDown(size, i.LotDecimals)
}

// RoundPrice truncates a price down to the instrument's tick precision.
func (i Instrument) RoundPrice(price float64) float64 {
	return roundDown(price, i.TickDecimals)
}

func roundDown(v float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Floor(v*pow) / pow
}

// Catalog maps exchange-native symbols to instruments and resolves the
// venue-specific symbol for an asset.
type Catalog struct {
	mu       sync.RWMutex
	bySymbol map[common.Exchange]map[string]Instrument
	byBase   map[Asset]map[common.Exchange]Instrument
}

func New() *Catalog {
	return &Catalog{
		bySymbol: make(map[common.Exchange]map[string]Instrument),
		byBase:   make(map[Asset]map[common.Exchange]Instrument),
	}
}

// Insert registers an instrument under both its symbol and its base asset.
// The base-asset index also carries the alias form so either name resolves.
func (c *Catalog) Insert(ins Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bySymbol[ins.Exchange] == nil {
		c.bySymbol[ins.Exchange] = make(map[string]Instrument)
	}
	c.bySymbol[ins.Exchange][ins.Symbol] = ins

	c.indexBase(ins.Base, ins)
	if alias, ok := ins.Base.Alias(); ok {
		c.indexBase(alias, ins)
	}
}

func (c *Catalog) indexBase(a Asset, ins Instrument) {
	if c.byBase[a] == nil {
		c.byBase[a] = make(map[common.Exchange]Instrument)
	}
	c.byBase[a][ins.Exchange] = ins
}

// Lookup resolves an instrument by exchange-native symbol.
func (c *Catalog) Lookup(exchange common.Exchange, symbol string) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ins, ok := c.bySymbol[exchange][symbol]
	return ins, ok
}

// ByBase resolves the instrument trading a base asset on a venue.
func (c *Catalog) ByBase(a Asset, exchange common.Exchange) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ins, ok := c.byBase[a][exchange]
	return ins, ok
}

// Symbols lists all known symbols on a venue.
func (c *Catalog) Symbols(exchange common.Exchange) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.bySymbol[exchange]))
	for s := range c.bySymbol[exchange] {
		out = append(out, s)
	}
	return out
}

// Assets lists base assets available on every given venue (cross-venue
// universe for hedged strategies).
func (c *Catalog) Assets(exchanges ...common.Exchange) []Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Asset
	for a, venues := range c.byBase {
		if _, aliased := aliasPairs[a]; aliased {
			// keep only the canonical form in the universe
			continue
		}
		all := true
		for _, ex := range exchanges {
			if _, ok := venues[ex]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of instruments on a venue.
func (c *Catalog) Len(exchange common.Exchange) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySymbol[exchange])
}
