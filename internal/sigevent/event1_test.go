package sigevent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/internal/events"
	"arb-engine/pkg/db"
)

func memStore(t *testing.T) *db.Store {
	t.Helper()
	d, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return db.NewStore(d)
}

func TestJoinAgreeingDirections(t *testing.T) {
	bus := events.NewBus()
	g := NewEvent1Generator(bus, memStore(t))
	out, unsub := bus.Subscribe(events.TopicEventOne, 8)
	defer unsub()
	ctx := context.Background()

	g.onChange(ctx, db.SignalPriceChange{
		ID: 3, Datetime: 10_000, Asset: "BTC", Price: 30_000, High: 30_000, Low: 29_900,
		Bp: 33, IsRising: true, Level: db.LevelHigh,
	})
	select {
	case <-out:
		t.Fatal("half a join must not emit")
	default:
	}

	g.onDifference(ctx, db.SignalPriceDifference{
		ID: 9, Datetime: 10_400, Asset: "BTC", Binance: 30_010, Hyper: 30_055,
		Bp: 15, Level: db.LevelCritical,
	})

	raw := <-out
	ev, ok := raw.(db.EventPriceChangeAndDiff)
	require.True(t, ok)
	assert.Equal(t, "BTC", ev.Asset)
	assert.True(t, ev.IsRising)
	assert.EqualValues(t, 9, ev.SignalDifferenceID)
	assert.EqualValues(t, 3, ev.SignalChangeID)
	assert.Equal(t, db.LevelHigh, ev.SignalLevel, "weaker leg caps the level")
	assert.InDelta(t, 29_900, ev.LastPrice, 1e-9, "rising trend departs from the low")
	assert.Equal(t, db.EventGenerated, ev.Status)

	// each signal joins once
	g.onDifference(ctx, db.SignalPriceDifference{
		ID: 10, Datetime: 10_500, Asset: "BTC", Bp: 15, Level: db.LevelCritical,
	})
	select {
	case <-out:
		t.Fatal("consumed change leg must not join again")
	default:
	}
}

func TestJoinRejectsDisagreeingDirections(t *testing.T) {
	bus := events.NewBus()
	g := NewEvent1Generator(bus, memStore(t))
	out, unsub := bus.Subscribe(events.TopicEventOne, 8)
	defer unsub()
	ctx := context.Background()

	g.onChange(ctx, db.SignalPriceChange{ID: 1, Datetime: 10_000, Asset: "ETH", IsRising: true, Level: db.LevelHigh})
	g.onDifference(ctx, db.SignalPriceDifference{ID: 2, Datetime: 10_100, Asset: "ETH", Bp: -20, Level: db.LevelHigh})

	select {
	case <-out:
		t.Fatal("rising trend against a negative gap must not join")
	default:
	}
}

func TestJoinRespectsWindow(t *testing.T) {
	bus := events.NewBus()
	g := NewEvent1Generator(bus, memStore(t))
	out, unsub := bus.Subscribe(events.TopicEventOne, 8)
	defer unsub()
	ctx := context.Background()

	g.onChange(ctx, db.SignalPriceChange{ID: 1, Datetime: 10_000, Asset: "SOL", IsRising: false, Level: db.LevelHigh})
	g.onDifference(ctx, db.SignalPriceDifference{ID: 2, Datetime: 10_000 + joinWindowMs + 1, Asset: "SOL", Bp: -8, Level: db.LevelHigh})

	select {
	case <-out:
		t.Fatal("legs outside the join window must not pair")
	default:
	}
}
