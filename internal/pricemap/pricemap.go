package pricemap

import (
	"sync"
	"time"

	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// PriceType is the dimension of a stored market value.
type PriceType string

const (
	TypeAsk     PriceType = "ASK"
	TypeBid     PriceType = "BID"
	TypeAskSize PriceType = "ASK_SIZE"
	TypeBidSize PriceType = "BID_SIZE"
	TypeOracle  PriceType = "ORACLE"
	TypeMark    PriceType = "MARK"
	TypeLast    PriceType = "LAST"
)

// Key addresses one stored value.
type Key struct {
	Asset    catalog.Asset
	Exchange common.Exchange
	Type     PriceType
}

// Entry is the last observed value with its exchange timestamp.
type Entry struct {
	Value    float64
	Datetime int64 // ms
}

// activeUpdatesPerMinute is the threshold above which a feed counts as live.
const activeUpdatesPerMinute = 55

// activeness tracks update frequency over a rolling one-minute window.
type activeness struct {
	windowStart int64 // ms
	count       int
	prevCount   int
}

func (a *activeness) bump(now int64) {
	if now-a.windowStart >= 60_000 {
		if now-a.windowStart < 120_000 {
			a.prevCount = a.count
		} else {
			a.prevCount = 0
		}
		a.windowStart = now
		a.count = 0
	}
	a.count++
}

func (a *activeness) active(now int64) bool {
	if now-a.windowStart >= 120_000 {
		return false
	}
	if now-a.windowStart >= 60_000 {
		return a.count > activeUpdatesPerMinute
	}
	return a.count > activeUpdatesPerMinute || a.prevCount > activeUpdatesPerMinute
}

// Map is the keyed store of last (value, timestamp) tuples per
// (asset, exchange, price-type), with per-key activeness tracking.
// Writes to one alias of a normalized pair mirror to the other.
type Map struct {
	mu       sync.RWMutex
	entries  map[Key]Entry
	activity map[Key]*activeness
	nowFn    func() int64
}

func New() *Map {
	return &Map{
		entries:  make(map[Key]Entry),
		activity: make(map[Key]*activeness),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Set stores the value under the key and under its alias counterpart.
func (m *Map) Set(k Key, value float64, datetime int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(k, value, datetime)
	if alias, ok := k.Asset.Alias(); ok {
		m.set(Key{Asset: alias, Exchange: k.Exchange, Type: k.Type}, value, datetime)
	}
}

func (m *Map) set(k Key, value float64, datetime int64) {
	m.entries[k] = Entry{Value: value, Datetime: datetime}
	act := m.activity[k]
	if act == nil {
		act = &activeness{windowStart: m.nowFn()}
		m.activity[k] = act
	}
	act.bump(m.nowFn())
}

// Get returns the last stored entry for the key.
func (m *Map) Get(k Key) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	return e, ok
}

// Active reports whether the key's feed exceeds the liveness threshold.
func (m *Map) Active(k Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	act, ok := m.activity[k]
	if !ok {
		return false
	}
	return act.active(m.nowFn())
}

// SetQuote stores the four top-of-book values of a quote in one lock scope.
func (m *Map) SetQuote(asset catalog.Asset, exchange common.Exchange, ask, askSize, bid, bidSize float64, datetime int64) {
	m.Set(Key{asset, exchange, TypeAsk}, ask, datetime)
	m.Set(Key{asset, exchange, TypeAskSize}, askSize, datetime)
	m.Set(Key{asset, exchange, TypeBid}, bid, datetime)
	m.Set(Key{asset, exchange, TypeBidSize}, bidSize, datetime)
}
