// Package router is the single consumer of execution requests. It gates,
// dispatches to venue clients, and folds normalized responses back into the
// order table, batch manager, balance manager and the reconciler.
package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"arb-engine/internal/accounting"
	"arb-engine/internal/balance"
	"arb-engine/internal/batch"
	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/internal/order"
	"arb-engine/pkg/config"
	"arb-engine/pkg/exchanges/common"
)

const (
	cleanupEvery    = 5 * time.Second
	closedRetainMs  = 60_000
	accountRetainMs = 60_000
)

// VenueClient is what the router needs from one exchange connector.
type VenueClient interface {
	Exchange() common.Exchange
	SubmitOrder(ctx context.Context, r common.RequestPlaceOrder) (common.UpdateOrder, error)
	CancelOrder(ctx context.Context, r common.RequestCancelOrder) error
	SyncOrders(ctx context.Context, r common.RequestSyncOrders) (common.SyncOrdersReport, error)
	QueryAssets(ctx context.Context) (common.UpdatePositions, error)
}

// Router owns the request/response loop between strategies and venues.
type Router struct {
	cfg      *config.Config
	bus      *events.Bus
	cat      *catalog.Catalog
	orders   *order.Table
	balances *balance.Manager
	batches  *batch.Manager

	clients  map[common.Exchange]VenueClient
	accounts map[common.Exchange]*accounting.SourceAccount

	requests  chan common.ExecutionRequest
	responses chan common.ExecutionResponse

	// reconciled positions shared with other tasks
	posMu    sync.RWMutex
	posView  map[common.Exchange]map[string]float64

	nowFn func() int64
}

func New(cfg *config.Config, bus *events.Bus, cat *catalog.Catalog,
	orders *order.Table, balances *balance.Manager,
	clients ...VenueClient) *Router {

	r := &Router{
		cfg:       cfg,
		bus:       bus,
		cat:       cat,
		orders:    orders,
		balances:  balances,
		clients:   make(map[common.Exchange]VenueClient),
		accounts:  make(map[common.Exchange]*accounting.SourceAccount),
		requests:  make(chan common.ExecutionRequest, 256),
		responses: make(chan common.ExecutionResponse, 256),
		posView:   make(map[common.Exchange]map[string]float64),
		nowFn:     func() int64 { return time.Now().UnixMilli() },
	}
	for _, c := range clients {
		r.clients[c.Exchange()] = c
		r.accounts[c.Exchange()] = accounting.NewSourceAccount(c.Exchange(), cfg.MaxDesyncMs)
	}
	return r
}

// Requests is where strategies and the batch manager submit work.
func (r *Router) Requests() chan<- common.ExecutionRequest { return r.requests }

// AttachBatches wires the batch manager in after construction; the manager
// is built around this router's request channel.
func (r *Router) AttachBatches(b *batch.Manager) { r.batches = b }

// Responses is fed by venue user streams.
func (r *Router) Responses() chan<- common.ExecutionResponse { return r.responses }

// Account exposes one venue's reconciled source account.
func (r *Router) Account(exchange common.Exchange) *accounting.SourceAccount {
	return r.accounts[exchange]
}

// Positions copies the reconciled position view for one venue. Safe to call
// from any task.
func (r *Router) Positions(exchange common.Exchange) map[string]float64 {
	r.posMu.RLock()
	defer r.posMu.RUnlock()
	out := make(map[string]float64, len(r.posView[exchange]))
	for k, v := range r.posView[exchange] {
		out[k] = v
	}
	return out
}

func (r *Router) updatePosView(exchange common.Exchange, changed map[string]float64) {
	r.posMu.Lock()
	defer r.posMu.Unlock()
	view, ok := r.posView[exchange]
	if !ok {
		view = make(map[string]float64)
		r.posView[exchange] = view
	}
	for k, v := range changed {
		if v == 0 {
			delete(view, k)
			continue
		}
		view[k] = v
	}
}

// Bootstrap snapshots every venue before the request loop starts: balances
// seed the balance manager, positions and open orders seed the reconciler.
func (r *Router) Bootstrap(ctx context.Context) error {
	for exchange, client := range r.clients {
		positions, err := client.QueryAssets(ctx)
		if err != nil {
			return fmt.Errorf("router: %s asset query: %w", exchange, err)
		}
		r.balances.OnPositions(positions)

		posMap := make(map[string]float64)
		for _, p := range positions.Positions {
			key := p.Symbol
			if key == "" {
				key = p.Asset
			}
			if p.Qty != 0 {
				posMap[key] = p.Qty
			}
		}

		report, err := client.SyncOrders(ctx, common.RequestSyncOrders{Exchange: exchange})
		if err != nil {
			return fmt.Errorf("router: %s order sync: %w", exchange, err)
		}
		var open []accounting.SnapshotOrder
		for _, u := range report.Orders {
			lid := r.adoptOrder(u)
			au, ok := r.toAccountingOrder(u, lid)
			if !ok {
				continue
			}
			open = append(open, accounting.SnapshotOrder{Update: au})
		}

		ts := positions.ExchangeTime
		if ts == 0 {
			ts = r.nowFn()
		}
		if err := r.accounts[exchange].LoadSnapshot(ts, posMap, open); err != nil {
			return fmt.Errorf("router: %s snapshot: %w", exchange, err)
		}
		r.updatePosView(exchange, posMap)
		log.Printf("✓ router: %s bootstrapped, %d positions, %d open orders",
			exchange, len(posMap), len(open))
	}
	return nil
}

// Run is the single consumer loop. A reconciler invariant failure is fatal
// and surfaces as the returned error.
func (r *Router) Run(ctx context.Context) error {
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	log.Printf("✓ router started (%d venues, dry_run=%v)", len(r.clients), r.cfg.DryRun)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.requests:
			if err := r.handleRequest(ctx, req); err != nil {
				return err
			}
		case resp := <-r.responses:
			if err := r.handleResponse(resp); err != nil {
				return err
			}
		case <-cleanup.C:
			if err := r.softCleanup(); err != nil {
				return err
			}
		}
	}
}

func (r *Router) handleRequest(ctx context.Context, req common.ExecutionRequest) error {
	switch q := req.(type) {
	case common.RequestPlaceOrder:
		return r.handlePlace(ctx, q)
	case common.RequestCancelOrder:
		return r.dispatchCancel(ctx, q)
	case common.RequestSyncOrders:
		r.dispatchSync(ctx, q)
	case common.RequestQueryAssets:
		r.dispatchQueryAssets(ctx, q)
	default:
		log.Printf("⚠️ router: unhandled request %T", req)
	}
	return nil
}

func (r *Router) handlePlace(ctx context.Context, q common.RequestPlaceOrder) error {
	if q.CreateLt == 0 {
		q.CreateLt = r.nowFn()
	}
	q.LocalID = r.orders.Insert(order.Order{
		ClientID:          q.ClientID,
		Exchange:          q.Exchange,
		Symbol:            q.Symbol,
		Side:              q.Side,
		Type:              q.Type,
		TIF:               q.TIF,
		Effect:            q.Effect,
		Price:             q.Price,
		Size:              q.Size,
		Status:            common.StatusPending,
		StrategyID:        q.StrategyID,
		EventID:           q.EventID,
		OpenOrderClientID: q.OpenClientID,
		CreateLt:          q.CreateLt,
	})

	if !r.cfg.StrategyEnabled(int(q.StrategyID)) {
		return r.rejectLocally(q, "strategy not enabled")
	}
	client, ok := r.clients[q.Exchange]
	if !ok {
		return r.rejectLocally(q, fmt.Sprintf("no client for %s", q.Exchange))
	}
	if q.Effect == common.EffectOpen {
		if !r.balances.TryDeduct(q.Exchange, q.LocalID, q.Notional()) {
			return r.rejectLocally(q, "insufficient balance")
		}
	}

	if r.cfg.DryRun {
		log.Printf("✓ router: dry-run %s %s %s %v@%v", q.Exchange, q.Side, q.Symbol, q.Size, q.Price)
		ack := common.UpdateOrder{
			Exchange:   q.Exchange,
			Symbol:     q.Symbol,
			LocalID:    q.LocalID,
			ClientID:   q.ClientID,
			ServerID:   fmt.Sprintf("dry-%d", q.LocalID),
			Side:       q.Side,
			Type:       q.Type,
			TIF:        q.TIF,
			Effect:     q.Effect,
			Price:      q.Price,
			Size:       q.Size,
			Status:     common.StatusNew,
			StrategyID: q.StrategyID,
			EventID:    q.EventID,
			UpdateTst:  r.nowFn(),
		}
		return r.foldLocal(ack)
	}

	go func() {
		u, err := client.SubmitOrder(ctx, q)
		if err != nil {
			r.responses <- common.ResponseError{
				Exchange: q.Exchange,
				LocalID:  q.LocalID,
				ClientID: q.ClientID,
				Reason:   err.Error(),
			}
			return
		}
		u.LocalID = q.LocalID
		r.responses <- u
	}()
	return nil
}

// foldLocal applies a router-synthesized update in place. The run loop is the
// only drainer of the responses channel, so updates born inside it must never
// go back through that channel.
func (r *Router) foldLocal(u common.UpdateOrder) error {
	pending := make(map[common.Exchange][]accounting.Update)
	r.foldOrderUpdate(u, pending)
	return r.flushAccounting(pending)
}

// rejectLocally synthesizes the rejection a venue would have sent so that
// every downstream consumer sees one uniform UpdateOrder stream.
func (r *Router) rejectLocally(q common.RequestPlaceOrder, reason string) error {
	log.Printf("⚠️ router: rejected %s %s locally: %s", q.Exchange, q.Symbol, reason)
	return r.foldLocal(common.UpdateOrder{
		Exchange:   q.Exchange,
		Symbol:     q.Symbol,
		LocalID:    q.LocalID,
		ClientID:   q.ClientID,
		Side:       q.Side,
		Type:       q.Type,
		TIF:        q.TIF,
		Effect:     q.Effect,
		Price:      q.Price,
		Size:       q.Size,
		Status:     common.StatusRejected,
		Reason:     reason,
		StrategyID: q.StrategyID,
		EventID:    q.EventID,
		UpdateTst:  r.nowFn(),
	})
}

func (r *Router) dispatchCancel(ctx context.Context, q common.RequestCancelOrder) error {
	client, ok := r.clients[q.Exchange]
	if !ok {
		log.Printf("❌ router: cancel for unknown venue %s", q.Exchange)
		return nil
	}
	if r.cfg.DryRun {
		if o, found := r.orders.Get(q.LocalID); found && o.Active() {
			return r.foldLocal(common.UpdateOrder{
				Exchange:  o.Exchange,
				Symbol:    o.Symbol,
				LocalID:   o.LocalID,
				ClientID:  o.ClientID,
				ServerID:  o.ServerID,
				Side:      o.Side,
				Effect:    o.Effect,
				Price:     o.Price,
				Size:      o.Size,
				Status:    common.StatusCanceled,
				UpdateTst: r.nowFn(),
			})
		}
		return nil
	}
	go func() {
		if err := client.CancelOrder(ctx, q); err != nil {
			// the user stream remains authoritative; a failed cancel
			// usually means the order already closed
			log.Printf("⚠️ router: cancel %s/%s failed: %v", q.Exchange, q.ClientID, err)
		}
	}()
	return nil
}

func (r *Router) dispatchSync(ctx context.Context, q common.RequestSyncOrders) {
	client, ok := r.clients[q.Exchange]
	if !ok {
		return
	}
	go func() {
		report, err := client.SyncOrders(ctx, q)
		if err != nil {
			log.Printf("❌ router: %s order sync failed: %v", q.Exchange, err)
			return
		}
		r.responses <- report
	}()
}

func (r *Router) dispatchQueryAssets(ctx context.Context, q common.RequestQueryAssets) {
	client, ok := r.clients[q.Exchange]
	if !ok {
		return
	}
	go func() {
		positions, err := client.QueryAssets(ctx)
		if err != nil {
			log.Printf("❌ router: %s asset query failed: %v", q.Exchange, err)
			return
		}
		r.responses <- positions
	}()
}

func (r *Router) handleResponse(resp common.ExecutionResponse) error {
	pending := make(map[common.Exchange][]accounting.Update)

	if err := r.foldResponse(resp, pending); err != nil {
		return err
	}
	return r.flushAccounting(pending)
}

func (r *Router) foldResponse(resp common.ExecutionResponse, pending map[common.Exchange][]accounting.Update) error {
	switch u := resp.(type) {
	case common.UpdateOrder:
		r.foldOrderUpdate(u, pending)
	case common.UpdateTrade:
		r.foldTrade(u, pending)
	case common.UpdatePositions:
		r.balances.OnPositions(u)
		r.bus.Publish(events.TopicExecutionResponse, u)
	case common.UpdateFunding:
		ins, ok := r.cat.Lookup(u.Exchange, u.Symbol)
		if !ok {
			log.Printf("⚠️ router: funding for unknown symbol %s/%s", u.Exchange, u.Symbol)
			return nil
		}
		pending[u.Exchange] = append(pending[u.Exchange], accounting.Funding{
			FundingLid:      fmt.Sprintf("%s:%s", u.Exchange, u.FundingID),
			Instrument:      ins,
			Asset:           catalog.Asset(u.Asset),
			Quantity:        u.Quantity,
			SourceTimestamp: u.ExchangeTime,
		})
	case common.SyncOrdersReport:
		for _, o := range u.Orders {
			r.foldOrderUpdate(o, pending)
		}
	case common.ResponseError:
		r.foldError(u)
	default:
		log.Printf("⚠️ router: unhandled response %T", resp)
	}
	return nil
}

func (r *Router) foldOrderUpdate(u common.UpdateOrder, pending map[common.Exchange][]accounting.Update) {
	o, known := r.orders.ApplyUpdate(u)
	if !known {
		u.LocalID = r.adoptOrder(u)
		o, _ = r.orders.Get(u.LocalID)
	}
	u.LocalID = o.LocalID
	if u.Size == 0 {
		u.Size = o.Size
	}
	if u.Effect == "" {
		u.Effect = o.Effect
	}

	r.balances.OnOrderUpdate(u)
	if r.batches != nil {
		r.batches.OnOrderUpdate(u)
	}
	r.bus.Publish(events.TopicOrderUpdate, u)

	au, ok := r.toAccountingOrder(u, o.LocalID)
	if ok {
		pending[u.Exchange] = append(pending[u.Exchange], au)
	}
}

func (r *Router) foldTrade(u common.UpdateTrade, pending map[common.Exchange][]accounting.Update) {
	lid := u.OrderLocalID
	if lid == 0 {
		if o, ok := r.orders.GetByClientID(u.ClientID); ok {
			lid = o.LocalID
		} else if o, ok := r.orders.GetByServerID(u.ServerID); ok {
			lid = o.LocalID
		}
	}
	if lid == 0 {
		log.Printf("⚠️ router: trade %s for unknown order (cid=%s sid=%s)", u.TradeID, u.ClientID, u.ServerID)
		return
	}
	ins, ok := r.cat.Lookup(u.Exchange, u.Symbol)
	if !ok {
		log.Printf("⚠️ router: trade for unknown symbol %s/%s", u.Exchange, u.Symbol)
		return
	}
	pending[u.Exchange] = append(pending[u.Exchange], accounting.Trade{
		TradeLid:     fmt.Sprintf("%s:%s", u.Exchange, u.TradeID),
		OrderLid:     lid,
		Instrument:   ins,
		Side:         u.Side,
		Price:        u.Price,
		Size:         u.Size,
		Cost:         u.Price * u.Size,
		Fee:          u.Fee,
		FeeAsset:     catalog.Asset(u.FeeAsset),
		ExchangeTime: u.ExchangeTime,
	})
	r.bus.Publish(events.TopicExecutionResponse, u)
}

func (r *Router) foldError(e common.ResponseError) {
	o, ok := r.orders.Get(e.LocalID)
	if !ok && e.ClientID != "" {
		o, ok = r.orders.GetByClientID(e.ClientID)
	}
	if !ok {
		log.Printf("❌ router: venue error for unknown order: %s", e.Reason)
		return
	}
	rejected := common.UpdateOrder{
		Exchange:   o.Exchange,
		Symbol:     o.Symbol,
		LocalID:    o.LocalID,
		ClientID:   o.ClientID,
		Side:       o.Side,
		Type:       o.Type,
		Effect:     o.Effect,
		Price:      o.Price,
		Size:       o.Size,
		Status:     common.StatusRejected,
		Reason:     e.Reason,
		StrategyID: o.StrategyID,
		EventID:    o.EventID,
		UpdateTst:  r.nowFn(),
	}
	pending := make(map[common.Exchange][]accounting.Update)
	r.foldOrderUpdate(rejected, pending)
	if err := r.flushAccounting(pending); err != nil {
		// rejections carry no fills; the reconciler cannot trip here
		log.Printf("❌ router: %v", err)
	}
}

// adoptOrder registers an order first seen through a venue report, e.g. one
// placed before a restart.
func (r *Router) adoptOrder(u common.UpdateOrder) uint64 {
	return r.orders.Insert(order.Order{
		ClientID:   u.ClientID,
		ServerID:   u.ServerID,
		Exchange:   u.Exchange,
		Symbol:     u.Symbol,
		Side:       u.Side,
		Type:       u.Type,
		TIF:        u.TIF,
		Effect:     u.Effect,
		Price:      u.Price,
		Size:       u.Size,
		FilledSize: u.FilledSize,
		FilledCost: u.FilledCost,
		AvgPrice:   u.AvgPrice,
		Status:     u.Status,
		StrategyID: u.StrategyID,
		EventID:    u.EventID,
		CreateLt:   r.nowFn(),
		UpdateTst:  u.UpdateTst,
	})
}

func (r *Router) toAccountingOrder(u common.UpdateOrder, lid uint64) (accounting.OrderUpdate, bool) {
	ins, ok := r.cat.Lookup(u.Exchange, u.Symbol)
	if !ok {
		log.Printf("⚠️ router: order update for unknown symbol %s/%s", u.Exchange, u.Symbol)
		return accounting.OrderUpdate{}, false
	}
	ts := u.UpdateTst
	if ts == 0 {
		ts = r.nowFn()
	}
	return accounting.OrderUpdate{
		OrderLid:        lid,
		Instrument:      ins,
		Side:            u.Side,
		TotalQuantity:   u.Size,
		FilledQuantity:  u.FilledSize,
		FilledCost:      u.FilledCost,
		Closed:          u.Status.Closed(),
		SourceTimestamp: ts,
	}, true
}

func (r *Router) flushAccounting(pending map[common.Exchange][]accounting.Update) error {
	for exchange, updates := range pending {
		account, ok := r.accounts[exchange]
		if !ok {
			continue
		}
		book, err := account.ProcessUpdates(updates)
		if err != nil {
			return fmt.Errorf("router: %s reconcile: %w", exchange, err)
		}
		if book != nil {
			r.updatePosView(exchange, book.Positions)
			r.bus.Publish(events.TopicAccountingBook, book)
		}
	}
	return nil
}

func (r *Router) softCleanup() error {
	now := r.nowFn()
	if swept := r.orders.SweepClosed(now - closedRetainMs); len(swept) > 0 {
		for _, lid := range swept {
			r.balances.Forget(lid)
		}
		log.Printf("🔄 router: swept %d closed orders", len(swept))
	}
	for exchange, account := range r.accounts {
		if err := account.AdvanceCleanupTime(now - accountRetainMs); err != nil {
			return fmt.Errorf("router: %s cleanup: %w", exchange, err)
		}
	}
	return nil
}
