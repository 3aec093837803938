// Package batch groups the legs of a hedged pair under one lifecycle:
// armed, legs placed, partially filled, released or settled, expired.
package batch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"arb-engine/pkg/exchanges/common"
)

// Status is a batch lifecycle stage.
type Status string

const (
	StatusArmed       Status = "ARMED"
	StatusLegsPlaced  Status = "LEGS_PLACED"
	StatusPartialFill Status = "PARTIALLY_FILLED"
	StatusReleased    Status = "RELEASED"
	StatusSettled     Status = "SETTLED"
	StatusExpired     Status = "EXPIRED"
)

const (
	maxLegRetries   = 3
	maintainEvery   = 300 * time.Millisecond
	settledLingerMs = 5_000
)

// Leg is one order of a batch.
type Leg struct {
	ClientID   string
	Request    common.RequestPlaceOrder
	Status     common.OrderStatus
	FilledSize float64
	AvgPrice   float64
	Retries    int
	Inverted   bool // emitted a compensating close
}

func (l *Leg) filledOut() bool {
	return l.Status == common.StatusFilled
}

// Batch is a set of legs sharing one correlation id, keyed by event id.
type Batch struct {
	EventID       uint64
	CorrelationID string
	Status        Status
	Legs          []*Leg
	StrategyID    common.StrategyID
	CreatedLt     int64
	ExpiresLt     int64 // 0 = never
	CompletedLt   int64
}

// Manager owns the live batches and routes their leg updates. Requests go
// out through the execution request channel handed in at construction.
type Manager struct {
	mu       sync.Mutex
	requests chan<- common.ExecutionRequest
	batches  map[uint64]*Batch
	byCid    map[string]uint64

	nowFn func() int64
}

func NewManager(requests chan<- common.ExecutionRequest) *Manager {
	return &Manager{
		requests: requests,
		batches:  make(map[uint64]*Batch),
		byCid:    make(map[string]uint64),
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Register arms a batch for an event and dispatches its legs. Every leg is
// stamped with a fresh client id sharing the batch correlation id in the
// work-table's open-reference column. expiresInMs of 0 disables expiry.
func (m *Manager) Register(eventID uint64, strategyID common.StrategyID, expiresInMs int64, legs ...common.RequestPlaceOrder) *Batch {
	now := m.nowFn()
	b := &Batch{
		EventID:       eventID,
		CorrelationID: uuid.NewString(),
		Status:        StatusArmed,
		StrategyID:    strategyID,
		CreatedLt:     now,
	}
	if expiresInMs > 0 {
		b.ExpiresLt = now + expiresInMs
	}

	m.mu.Lock()
	for i := range legs {
		legs[i].ClientID = uuid.NewString()
		legs[i].StrategyID = strategyID
		legs[i].EventID = eventID
		legs[i].CreateLt = now
		leg := &Leg{ClientID: legs[i].ClientID, Request: legs[i], Status: common.StatusPending}
		b.Legs = append(b.Legs, leg)
		m.byCid[leg.ClientID] = eventID
	}
	m.batches[eventID] = b
	m.mu.Unlock()

	for _, leg := range b.Legs {
		m.requests <- leg.Request
	}
	m.mu.Lock()
	b.Status = StatusLegsPlaced
	m.mu.Unlock()
	return b
}

// Get returns the live batch for an event id.
func (m *Manager) Get(eventID uint64) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[eventID]
	return b, ok
}

// ByClientID resolves a leg's batch from an order client id.
func (m *Manager) ByClientID(cid string) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eid, ok := m.byCid[cid]
	if !ok {
		return nil, false
	}
	b, ok := m.batches[eid]
	return b, ok
}

// OnOrderUpdate folds an execution report into the owning batch. Rejected
// legs are retried with fresh client ids up to the retry budget; a leg dead
// after retries triggers inversion of whatever the other legs filled.
func (m *Manager) OnOrderUpdate(u common.UpdateOrder) {
	m.mu.Lock()
	eid, ok := m.byCid[u.ClientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	b := m.batches[eid]
	var leg *Leg
	for _, l := range b.Legs {
		if l.ClientID == u.ClientID {
			leg = l
			break
		}
	}
	if leg == nil {
		m.mu.Unlock()
		return
	}

	leg.Status = u.Status
	if u.FilledSize > leg.FilledSize {
		leg.FilledSize = u.FilledSize
	}
	if u.AvgPrice > 0 {
		leg.AvgPrice = u.AvgPrice
	}

	var redispatch *common.RequestPlaceOrder
	var invert []common.ExecutionRequest

	switch u.Status {
	case common.StatusRejected:
		if leg.Retries < maxLegRetries {
			leg.Retries++
			delete(m.byCid, leg.ClientID)
			leg.ClientID = uuid.NewString()
			leg.Request.ClientID = leg.ClientID
			leg.Request.CreateLt = m.nowFn()
			leg.Status = common.StatusPending
			m.byCid[leg.ClientID] = eid
			req := leg.Request
			redispatch = &req
			log.Printf("🔄 batch %d: leg %s rejected (%s), retry %d/%d",
				eid, u.Symbol, u.Reason, leg.Retries, maxLegRetries)
		} else {
			invert = m.invertSurvivorsLocked(b, leg)
		}
	case common.StatusPartial:
		if b.Status == StatusLegsPlaced {
			b.Status = StatusPartialFill
		}
	case common.StatusFilled:
		if m.allLegsDoneLocked(b) {
			b.Status = StatusSettled
			b.CompletedLt = m.nowFn()
		} else if b.Status == StatusLegsPlaced {
			b.Status = StatusPartialFill
		}
	}
	m.mu.Unlock()

	if redispatch != nil {
		m.requests <- *redispatch
	}
	for _, r := range invert {
		m.requests <- r
	}
}

// invertSurvivorsLocked builds the compensating requests after one leg dies
// for good: filled survivors are closed at market, working survivors are
// cancelled. The batch is released.
func (m *Manager) invertSurvivorsLocked(b *Batch, dead *Leg) []common.ExecutionRequest {
	var out []common.ExecutionRequest
	for _, l := range b.Legs {
		if l == dead || l.Inverted {
			continue
		}
		if l.FilledSize > 0 {
			l.Inverted = true
			out = append(out, common.RequestPlaceOrder{
				ClientID:     uuid.NewString(),
				Exchange:     l.Request.Exchange,
				Symbol:       l.Request.Symbol,
				Side:         l.Request.Side.Opposite(),
				Type:         common.OrderTypeMarket,
				TIF:          common.TIFIOC,
				Effect:       common.EffectClose,
				Size:         l.FilledSize,
				StrategyID:   b.StrategyID,
				EventID:      b.EventID,
				OpenClientID: l.ClientID,
				ReduceOnly:   true,
				CreateLt:     m.nowFn(),
			})
		}
		if !l.Status.Closed() {
			out = append(out, common.RequestCancelOrder{
				Exchange: l.Request.Exchange,
				Symbol:   l.Request.Symbol,
				ClientID: l.ClientID,
			})
		}
	}
	b.Status = StatusReleased
	b.CompletedLt = m.nowFn()
	log.Printf("⚠️ batch %d: leg %s dead after %d retries, inverting %d surviving leg(s)",
		b.EventID, dead.Request.Symbol, dead.Retries, len(out))
	return out
}

func (m *Manager) allLegsDoneLocked(b *Batch) bool {
	for _, l := range b.Legs {
		if !l.filledOut() {
			return false
		}
	}
	return true
}

// Run drives the maintain loop until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maintain()
		}
	}
}

// maintain expires overdue batches and drops completed ones once they have
// lingered long enough for late echoes.
func (m *Manager) maintain() {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	for eid, b := range m.batches {
		switch b.Status {
		case StatusSettled, StatusReleased, StatusExpired:
			if now-b.CompletedLt >= settledLingerMs {
				for _, l := range b.Legs {
					delete(m.byCid, l.ClientID)
				}
				delete(m.batches, eid)
			}
		case StatusArmed, StatusLegsPlaced:
			if b.ExpiresLt > 0 && now > b.ExpiresLt && !m.anyFillLocked(b) {
				b.Status = StatusExpired
				b.CompletedLt = now
			}
		}
	}
}

func (m *Manager) anyFillLocked(b *Batch) bool {
	for _, l := range b.Legs {
		if l.FilledSize > 0 {
			return true
		}
	}
	return false
}

// Len is the number of live batches.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
