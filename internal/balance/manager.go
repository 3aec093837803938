// Package balance tracks the USD-valued spendable balance per exchange and
// answers gating queries from the event generators and strategies.
package balance

import (
	"context"
	"log"
	"sync"

	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
)

// Snapshot is one exchange's balance view at a point in time.
type Snapshot struct {
	Total     float64
	Available float64
	Locked    float64
	Seeded    bool
}

// Query is one request-reply balance lookup. Reply must be buffered.
type Query struct {
	Exchange common.Exchange
	Reply    chan Snapshot
}

type book struct {
	total     float64
	available float64
	locked    float64
	seeded    bool
}

// Manager owns the balance books. Mutations come from the execution router
// (deductions, refunds, position snapshots); reads go through Snapshot or
// the channel query surface.
type Manager struct {
	mu      sync.RWMutex
	books   map[common.Exchange]*book
	queries chan Query
	// cumulative close-credits per order, guards double crediting; kept
	// until the order is swept so late echoes stay idempotent
	credited map[uint64]float64
	// live Open reservations per order; refunds release exactly this
	reserved map[uint64]float64
}

func NewManager() *Manager {
	return &Manager{
		books:    make(map[common.Exchange]*book),
		queries:  make(chan Query, 16),
		credited: make(map[uint64]float64),
		reserved: make(map[uint64]float64),
	}
}

// Queries exposes the request-reply surface served by Run.
func (m *Manager) Queries() chan<- Query { return m.queries }

// Run serves balance queries until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	log.Println("✓ balance manager started")
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-m.queries:
			q.Reply <- m.Snapshot(q.Exchange)
		}
	}
}

// Query is a convenience wrapper around the channel surface.
func (m *Manager) Query(ctx context.Context, exchange common.Exchange) (Snapshot, error) {
	q := Query{Exchange: exchange, Reply: make(chan Snapshot, 1)}
	select {
	case m.queries <- q:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-q.Reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot reads one exchange's current figures.
func (m *Manager) Snapshot(exchange common.Exchange) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[exchange]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Total: b.total, Available: b.available, Locked: b.locked, Seeded: b.seeded}
}

func (m *Manager) bookLocked(exchange common.Exchange) *book {
	b, ok := m.books[exchange]
	if !ok {
		b = &book{}
		m.books[exchange] = b
	}
	return b
}

// TryDeduct reserves notional for an Open placement, keyed by the order's
// local id. Returns false, leaving the book untouched, when available funds
// do not cover it.
func (m *Manager) TryDeduct(exchange common.Exchange, localID uint64, notional float64) bool {
	if notional <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookLocked(exchange)
	if b.available < notional {
		return false
	}
	b.available -= notional
	b.locked += notional
	m.reserved[localID] = notional
	return true
}

// Forget drops the per-order bookkeeping once the order is swept from the
// work table.
func (m *Manager) Forget(localID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credited, localID)
	delete(m.reserved, localID)
}

// OnPositions folds a venue balance report in. The USD-like lines
// (USD/USDT/USDC) value the book; the first report for an exchange seeds it.
func (m *Manager) OnPositions(u common.UpdatePositions) {
	var usd float64
	seen := false
	for _, p := range u.Positions {
		if catalog.IsUSDLike(catalog.Asset(p.Asset)) {
			usd += p.Qty
			seen = true
		}
	}
	if !seen {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookLocked(u.Exchange)
	if !b.seeded {
		b.total = usd
		b.available = usd
		b.seeded = true
		log.Printf("💰 balance: %s seeded with %.2f USD", u.Exchange, usd)
		return
	}
	if u.IsSnapshot {
		b.total = usd
		b.available = b.total - b.locked
		if b.available < 0 {
			b.available = 0
		}
	}
}

// OnOrderUpdate applies the refund and credit rules:
//   - Cancelled/Rejected/Expired Open releases exactly the reservation
//     TryDeduct took; locally rejected orders that never reserved release
//     nothing.
//   - Filled Open spends the reservation for good.
//   - Filled Close credits price*size.
//   - PartiallyFilled Close credits price*filled_size, but only while the
//     fill ratio is below 0.9; later updates credit just the uncovered part.
func (m *Manager) OnOrderUpdate(u common.UpdateOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookLocked(u.Exchange)

	switch u.Status {
	case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
		if u.Effect == common.EffectOpen {
			if n := m.reserved[u.LocalID]; n > 0 {
				b.locked -= n
				b.available += n
				if b.locked < 0 {
					b.locked = 0
				}
				delete(m.reserved, u.LocalID)
			}
		}
	case common.StatusPartial:
		if u.Effect == common.EffectClose && u.Size > 0 && u.FilledSize/u.Size < 0.9 {
			m.creditLocked(b, u.LocalID, u.Price*u.FilledSize)
		}
	case common.StatusFilled:
		if u.Effect == common.EffectClose {
			m.creditLocked(b, u.LocalID, u.Price*u.Size)
		} else if u.Effect == common.EffectOpen {
			if n := m.reserved[u.LocalID]; n > 0 {
				b.locked -= n
				if b.locked < 0 {
					b.locked = 0
				}
				delete(m.reserved, u.LocalID)
			}
		}
	}
}

// creditLocked raises the order's cumulative credit to target.
func (m *Manager) creditLocked(b *book, localID uint64, target float64) {
	already := m.credited[localID]
	if target <= already {
		return
	}
	delta := target - already
	m.credited[localID] = target
	b.total += delta
	b.available += delta
}
