package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/pkg/exchanges/common"
)

func sampleOrder(cid string) Order {
	return Order{
		ClientID:   cid,
		Exchange:   common.ExchangeBinanceFutures,
		Symbol:     "BTCUSDT",
		Side:       common.SideBuy,
		Type:       common.OrderTypeLimit,
		TIF:        common.TIFGTC,
		Effect:     common.EffectOpen,
		Price:      30_000,
		Size:       0.5,
		StrategyID: common.StrategyOne,
	}
}

func TestInsertAndLookups(t *testing.T) {
	tbl := NewTable(nil)
	lid := tbl.Insert(sampleOrder("cid-1"))
	require.NotZero(t, lid)

	byLid, ok := tbl.Get(lid)
	require.True(t, ok)
	assert.Equal(t, common.StatusPending, byLid.Status)

	byCid, ok := tbl.GetByClientID("cid-1")
	require.True(t, ok)
	assert.Equal(t, lid, byCid.LocalID)

	_, ok = tbl.GetByServerID("srv-1")
	assert.False(t, ok, "no server id before the ack")
}

func TestApplyUpdateIndexesServerID(t *testing.T) {
	tbl := NewTable(nil)
	lid := tbl.Insert(sampleOrder("cid-1"))

	updated, ok := tbl.ApplyUpdate(common.UpdateOrder{
		ClientID:   "cid-1",
		ServerID:   "srv-9",
		Status:     common.StatusNew,
		FilledSize: 0,
		UpdateTst:  1_000,
	})
	require.True(t, ok)
	assert.Equal(t, lid, updated.LocalID)
	assert.Equal(t, common.StatusNew, updated.Status)

	bySid, ok := tbl.GetByServerID("srv-9")
	require.True(t, ok)
	assert.Equal(t, lid, bySid.LocalID)
}

func TestApplyUpdateMonotoneFill(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Insert(sampleOrder("cid-1"))

	updated, ok := tbl.ApplyUpdate(common.UpdateOrder{
		ClientID: "cid-1", Status: common.StatusPartial,
		FilledSize: 0.3, FilledCost: 9_000, AvgPrice: 30_000, LastFilledSize: 0.3, UpdateTst: 2_000,
	})
	require.True(t, ok)
	assert.InDelta(t, 0.3, updated.FilledSize, 1e-12)

	// stale echo cannot roll the fill back
	updated, ok = tbl.ApplyUpdate(common.UpdateOrder{
		ClientID: "cid-1", Status: common.StatusPartial,
		FilledSize: 0.1, UpdateTst: 1_500,
	})
	require.True(t, ok)
	assert.InDelta(t, 0.3, updated.FilledSize, 1e-12)
	assert.EqualValues(t, 2_000, updated.UpdateTst)
}

func TestTerminalStatusSticky(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Insert(sampleOrder("cid-1"))

	_, ok := tbl.ApplyUpdate(common.UpdateOrder{ClientID: "cid-1", Status: common.StatusFilled, FilledSize: 0.5})
	require.True(t, ok)

	updated, ok := tbl.ApplyUpdate(common.UpdateOrder{ClientID: "cid-1", Status: common.StatusPartial})
	require.True(t, ok)
	assert.Equal(t, common.StatusFilled, updated.Status)
}

func TestUnknownUpdateDropped(t *testing.T) {
	tbl := NewTable(nil)
	_, ok := tbl.ApplyUpdate(common.UpdateOrder{ClientID: "who", ServerID: "dis"})
	assert.False(t, ok)
}

func TestIterators(t *testing.T) {
	tbl := NewTable(nil)
	a := sampleOrder("cid-a")
	b := sampleOrder("cid-b")
	b.Symbol = "ETHUSDT"
	b.StrategyID = common.StrategyTwo
	tbl.Insert(a)
	tbl.Insert(b)

	s1 := tbl.ByStrategy(common.StrategyOne)
	require.Len(t, s1, 1)
	assert.Equal(t, "cid-a", s1[0].ClientID)

	eth := tbl.ByInstrument(common.ExchangeBinanceFutures, "ETHUSDT")
	require.Len(t, eth, 1)
	assert.Equal(t, "cid-b", eth[0].ClientID)

	assert.Equal(t, 1, tbl.ActiveCount(common.StrategyTwo))
}

func TestSweepClosed(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Insert(sampleOrder("cid-a"))
	tbl.Insert(sampleOrder("cid-b"))
	_, ok := tbl.ApplyUpdate(common.UpdateOrder{ClientID: "cid-a", ServerID: "srv-a", Status: common.StatusCanceled})
	require.True(t, ok)

	removed := tbl.SweepClosed(time.Now().UnixMilli() + 1)
	require.Len(t, removed, 1)
	assert.Equal(t, 1, tbl.Len())

	_, ok = tbl.GetByClientID("cid-a")
	assert.False(t, ok)
	_, ok = tbl.GetByServerID("srv-a")
	assert.False(t, ok)
}
