package feed

import (
	"context"
	"fmt"
	"log"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/pkg/exchanges/common"
	market "arb-engine/pkg/market/hyperliquid"
)

// HyperliquidFeed subscribes l2Book, trades and activeAssetCtx for a coin
// set and publishes normalized market events.
type HyperliquidFeed struct {
	stream  *market.StreamClient
	catalog *catalog.Catalog
	bus     *events.Bus
	coins   []string
}

func NewHyperliquidFeed(stream *market.StreamClient, cat *catalog.Catalog, bus *events.Bus, coins []string) *HyperliquidFeed {
	return &HyperliquidFeed{stream: stream, catalog: cat, bus: bus, coins: coins}
}

// Run pumps events until the context ends.
func (f *HyperliquidFeed) Run(ctx context.Context) error {
	ch, stop, err := f.stream.Subscribe(ctx, f.coins)
	if err != nil {
		return fmt.Errorf("hyperliquid feed subscribe: %w", err)
	}
	defer stop()
	log.Printf("✓ hyperliquid feed started: %d coins", len(f.coins))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("hyperliquid feed connection closed")
			}
			f.dispatch(msg)
		}
	}
}

func (f *HyperliquidFeed) dispatch(msg market.Message) {
	switch msg.Channel {
	case "l2Book":
		book, err := market.ParseL2Book(msg.Data)
		if err != nil {
			log.Printf("hyperliquid l2Book parse: %v", err)
			return
		}
		if len(book.Bids) == 0 || len(book.Asks) == 0 {
			return
		}
		ev := MarketEvent{
			Kind:     KindQuote,
			Exchange: common.ExchangeHyperliquid,
			Symbol:   book.Coin,
			Asset:    catalog.Asset(book.Coin),
			Datetime: book.Time,
			Bid:      book.Bids[0].Px,
			BidSize:  book.Bids[0].Sz,
			Ask:      book.Asks[0].Px,
			AskSize:  book.Asks[0].Sz,
		}
		f.publish(ev)

		depth := MarketEvent{
			Kind:     KindDepth,
			Exchange: common.ExchangeHyperliquid,
			Symbol:   book.Coin,
			Asset:    catalog.Asset(book.Coin),
			Datetime: book.Time,
		}
		for i, l := range book.Bids {
			if i == 5 {
				break
			}
			depth.Bids = append(depth.Bids, [2]float64{l.Px, l.Sz})
		}
		for i, l := range book.Asks {
			if i == 5 {
				break
			}
			depth.Asks = append(depth.Asks, [2]float64{l.Px, l.Sz})
		}
		f.publish(depth)

	case "trades":
		trades, err := market.ParseTrades(msg.Data)
		if err != nil {
			log.Printf("hyperliquid trades parse: %v", err)
			return
		}
		for _, t := range trades {
			f.publish(MarketEvent{
				Kind:     KindTrade,
				Exchange: common.ExchangeHyperliquid,
				Symbol:   t.Coin,
				Asset:    catalog.Asset(t.Coin),
				Datetime: t.Time,
				Price:    t.Px,
				Size:     t.Sz,
			})
		}

	case "activeAssetCtx":
		ctx, err := market.ParseActiveAssetCtx(msg.Data)
		if err != nil {
			log.Printf("hyperliquid assetCtx parse: %v", err)
			return
		}
		asset := catalog.Asset(ctx.Coin)
		f.publish(MarketEvent{
			Kind:     KindOracle,
			Exchange: common.ExchangeHyperliquid,
			Symbol:   ctx.Coin,
			Asset:    asset,
			Datetime: ctx.Time,
			Price:    ctx.OraclePx,
		})
		f.publish(MarketEvent{
			Kind:     KindMark,
			Exchange: common.ExchangeHyperliquid,
			Symbol:   ctx.Coin,
			Asset:    asset,
			Datetime: ctx.Time,
			Price:    ctx.MarkPx,
		})
		f.publish(MarketEvent{
			Kind:     KindFundingRate,
			Exchange: common.ExchangeHyperliquid,
			Symbol:   ctx.Coin,
			Asset:    asset,
			Datetime: ctx.Time,
			Rate:     ctx.Funding,
		})
	}
}

func (f *HyperliquidFeed) publish(ev MarketEvent) {
	f.bus.Publish(events.TopicMarketEvent, ev)
}
