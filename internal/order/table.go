// Package order keeps the engine's working set of orders in one indexed
// in-memory table, mirrored to sqlite on every mutation.
package order

import (
	"context"
	"log"
	"sync"
	"time"

	"arb-engine/pkg/db"
	"arb-engine/pkg/exchanges/common"
)

// Order is one work-table row. The table owns the struct; callers receive
// copies.
type Order struct {
	LocalID           uint64
	ClientID          string
	ServerID          string
	Exchange          common.Exchange
	Symbol            string
	Side              common.Side
	Type              common.OrderType
	TIF               common.TimeInForce
	Effect            common.PositionEffect
	Price             float64
	Size              float64
	FilledSize        float64
	FilledCost        float64
	AvgPrice          float64
	LastFilledSize    float64
	Status            common.OrderStatus
	Reason            string
	StrategyID        common.StrategyID
	EventID           uint64
	OpenOrderClientID string
	CreateLt          int64 // local ms
	UpdateLt          int64
	UpdateTst         int64 // exchange ms
}

// Active reports whether the order can still fill.
func (o *Order) Active() bool { return !o.Status.Closed() }

// AgeMs is the local time since creation.
func (o *Order) AgeMs(now int64) int64 { return now - o.CreateLt }

func (o *Order) row() db.OrderRow {
	return db.OrderRow{
		LocalID:           o.LocalID,
		Exchange:          string(o.Exchange),
		Symbol:            o.Symbol,
		ClientID:          o.ClientID,
		ServerID:          o.ServerID,
		Price:             o.Price,
		Size:              o.Size,
		FilledSize:        o.FilledSize,
		OrderType:         string(o.Type),
		Side:              string(o.Side),
		PositionEffect:    string(o.Effect),
		Status:            string(o.Status),
		TIF:               string(o.TIF),
		CreateLt:          o.CreateLt,
		UpdateLt:          o.UpdateLt,
		UpdateTst:         o.UpdateTst,
		StrategyID:        int(o.StrategyID),
		EventID:           o.EventID,
		OpenOrderClientID: o.OpenOrderClientID,
	}
}

// Table is the indexed order store. Rows are reachable by local id,
// client id and, once the exchange acks, server id.
type Table struct {
	mu        sync.RWMutex
	store     *db.Store // nil in dry tests
	nextLocal uint64

	byLocal  map[uint64]*Order
	byClient map[string]uint64
	byServer map[string]uint64
}

func NewTable(store *db.Store) *Table {
	return &Table{
		store:    store,
		byLocal:  make(map[uint64]*Order),
		byClient: make(map[string]uint64),
		byServer: make(map[string]uint64),
	}
}

// Insert registers a new order, assigning a local id when unset, and
// mirrors it to sqlite. Returns the local id.
func (t *Table) Insert(o Order) uint64 {
	t.mu.Lock()
	if o.LocalID == 0 {
		t.nextLocal++
		o.LocalID = t.nextLocal
	} else if o.LocalID > t.nextLocal {
		t.nextLocal = o.LocalID
	}
	if o.Status == "" {
		o.Status = common.StatusPending
	}
	if o.CreateLt == 0 {
		o.CreateLt = time.Now().UnixMilli()
	}
	o.UpdateLt = o.CreateLt
	row := &o
	t.byLocal[o.LocalID] = row
	if o.ClientID != "" {
		t.byClient[o.ClientID] = o.LocalID
	}
	if o.ServerID != "" {
		t.byServer[o.ServerID] = o.LocalID
	}
	t.mu.Unlock()

	t.persist(o)
	return o.LocalID
}

// Get returns a copy of the row, found by local id.
func (t *Table) Get(localID uint64) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.byLocal[localID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (t *Table) GetByClientID(clientID string) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lid, ok := t.byClient[clientID]
	if !ok {
		return Order{}, false
	}
	return *t.byLocal[lid], true
}

func (t *Table) GetByServerID(serverID string) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lid, ok := t.byServer[serverID]
	if !ok {
		return Order{}, false
	}
	return *t.byLocal[lid], true
}

// ApplyUpdate folds an execution report into the matching row, resolving it
// by local id, then client id, then server id. Fill progress is monotone;
// stale reports cannot regress it. Returns a copy of the updated row.
func (t *Table) ApplyUpdate(u common.UpdateOrder) (Order, bool) {
	t.mu.Lock()
	o := t.resolveLocked(u)
	if o == nil {
		t.mu.Unlock()
		log.Printf("⚠️ order table: update for unknown order lid=%d cid=%s sid=%s (%s %s)",
			u.LocalID, u.ClientID, u.ServerID, u.Exchange, u.Symbol)
		return Order{}, false
	}
	if u.ServerID != "" && o.ServerID == "" {
		o.ServerID = u.ServerID
		t.byServer[u.ServerID] = o.LocalID
	}
	if u.FilledSize > o.FilledSize {
		o.FilledSize = u.FilledSize
	}
	if u.FilledCost > o.FilledCost {
		o.FilledCost = u.FilledCost
	}
	if u.AvgPrice > 0 {
		o.AvgPrice = u.AvgPrice
	}
	o.LastFilledSize = u.LastFilledSize
	// a terminal status is sticky against late out-of-order acks
	if !o.Status.Closed() || u.Status.Closed() {
		o.Status = u.Status
	}
	if u.Reason != "" {
		o.Reason = u.Reason
	}
	if u.UpdateTst > o.UpdateTst {
		o.UpdateTst = u.UpdateTst
	}
	o.UpdateLt = time.Now().UnixMilli()
	snapshot := *o
	t.mu.Unlock()

	t.persist(snapshot)
	return snapshot, true
}

// MarkStatus force-sets a row's status locally (dispatch failures, local
// rejects) and mirrors it.
func (t *Table) MarkStatus(localID uint64, status common.OrderStatus, reason string) {
	t.mu.Lock()
	o, ok := t.byLocal[localID]
	if !ok {
		t.mu.Unlock()
		return
	}
	o.Status = status
	if reason != "" {
		o.Reason = reason
	}
	o.UpdateLt = time.Now().UnixMilli()
	snapshot := *o
	t.mu.Unlock()

	t.persist(snapshot)
}

func (t *Table) resolveLocked(u common.UpdateOrder) *Order {
	if u.LocalID != 0 {
		if o, ok := t.byLocal[u.LocalID]; ok {
			return o
		}
	}
	if u.ClientID != "" {
		if lid, ok := t.byClient[u.ClientID]; ok {
			return t.byLocal[lid]
		}
	}
	if u.ServerID != "" {
		if lid, ok := t.byServer[u.ServerID]; ok {
			return t.byLocal[lid]
		}
	}
	return nil
}

// ByStrategy copies every row owned by a strategy.
func (t *Table) ByStrategy(id common.StrategyID) []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Order
	for _, o := range t.byLocal {
		if o.StrategyID == id {
			out = append(out, *o)
		}
	}
	return out
}

// ByInstrument copies every row on one (exchange, symbol).
func (t *Table) ByInstrument(exchange common.Exchange, symbol string) []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Order
	for _, o := range t.byLocal {
		if o.Exchange == exchange && o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out
}

// ActiveCount counts non-terminal rows for a strategy.
func (t *Table) ActiveCount(id common.StrategyID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, o := range t.byLocal {
		if o.StrategyID == id && o.Active() {
			n++
		}
	}
	return n
}

// SweepClosed drops terminal rows whose last update is older than cutoff,
// returning the swept local ids. The sqlite mirror keeps its copy.
func (t *Table) SweepClosed(cutoffLt int64) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []uint64
	for lid, o := range t.byLocal {
		if !o.Status.Closed() || o.UpdateLt >= cutoffLt {
			continue
		}
		delete(t.byLocal, lid)
		if o.ClientID != "" {
			delete(t.byClient, o.ClientID)
		}
		if o.ServerID != "" {
			delete(t.byServer, o.ServerID)
		}
		removed = append(removed, lid)
	}
	return removed
}

// Len is the number of rows currently held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byLocal)
}

func (t *Table) persist(o Order) {
	if t.store == nil {
		return
	}
	if err := t.store.UpsertOrder(context.Background(), o.row()); err != nil {
		log.Printf("❌ order table: persist order %d failed: %v", o.LocalID, err)
	}
}
