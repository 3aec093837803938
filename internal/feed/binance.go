package feed

import (
	"context"
	"fmt"
	"log"
	"strings"

	"arb-engine/internal/catalog"
	"arb-engine/internal/events"
	"arb-engine/pkg/exchanges/common"
	market "arb-engine/pkg/market/binance"
)

// BinanceFeed subscribes the USDM futures streams for a symbol set and
// publishes normalized market events.
type BinanceFeed struct {
	stream       *market.StreamClient
	catalog      *catalog.Catalog
	bus          *events.Bus
	symbols      []string
	perConn      int
}

func NewBinanceFeed(stream *market.StreamClient, cat *catalog.Catalog, bus *events.Bus, symbols []string, symbolsPerConnection int) *BinanceFeed {
	if symbolsPerConnection <= 0 {
		symbolsPerConnection = 50
	}
	return &BinanceFeed{
		stream:  stream,
		catalog: cat,
		bus:     bus,
		symbols: symbols,
		perConn: symbolsPerConnection,
	}
}

// Run opens one combined connection per symbol chunk and pumps events until
// the context ends.
func (f *BinanceFeed) Run(ctx context.Context) error {
	var stops []func()
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	chans := make([]<-chan market.CombinedMessage, 0)
	for start := 0; start < len(f.symbols); start += f.perConn {
		end := start + f.perConn
		if end > len(f.symbols) {
			end = len(f.symbols)
		}
		var streams []string
		for _, sym := range f.symbols[start:end] {
			s := strings.ToLower(sym)
			streams = append(streams,
				s+"@bookTicker",
				s+"@markPrice@1s",
				s+"@aggTrade",
				s+"@depth5@100ms",
				s+"@kline_1m",
			)
		}
		ch, stop, err := f.stream.SubscribeCombined(ctx, streams)
		if err != nil {
			return fmt.Errorf("binance feed subscribe: %w", err)
		}
		stops = append(stops, stop)
		chans = append(chans, ch)
	}
	log.Printf("✓ binance feed started: %d symbols over %d connections", len(f.symbols), len(chans))

	done := make(chan struct{})
	for _, ch := range chans {
		go func(ch <-chan market.CombinedMessage) {
			for msg := range ch {
				f.dispatch(msg)
			}
			select {
			case done <- struct{}{}:
			default:
			}
		}(ch)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return fmt.Errorf("binance feed connection closed")
	}
}

func (f *BinanceFeed) dispatch(msg market.CombinedMessage) {
	switch {
	case strings.HasSuffix(msg.Stream, "@bookTicker"):
		bt, err := market.ParseBookTicker(msg.Data)
		if err != nil {
			log.Printf("binance bookTicker parse: %v", err)
			return
		}
		f.publish(MarketEvent{
			Kind:     KindQuote,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   bt.Symbol,
			Asset:    catalog.AssetFromBinanceFuturesSymbol(bt.Symbol),
			Datetime: bt.Time,
			Ask:      bt.AskPrice,
			AskSize:  bt.AskQty,
			Bid:      bt.BidPrice,
			BidSize:  bt.BidQty,
		})

	case strings.Contains(msg.Stream, "@markPrice"):
		mp, err := market.ParseMarkPrice(msg.Data)
		if err != nil {
			log.Printf("binance markPrice parse: %v", err)
			return
		}
		asset := catalog.AssetFromBinanceFuturesSymbol(mp.Symbol)
		f.publish(MarketEvent{
			Kind:     KindMark,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   mp.Symbol,
			Asset:    asset,
			Datetime: mp.Time,
			Price:    mp.MarkPrice,
		})
		f.publish(MarketEvent{
			Kind:     KindFundingRate,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   mp.Symbol,
			Asset:    asset,
			Datetime: mp.Time,
			Rate:     mp.FundingRate,
		})

	case strings.HasSuffix(msg.Stream, "@aggTrade"):
		tr, err := market.ParseAggTrade(msg.Data)
		if err != nil {
			log.Printf("binance aggTrade parse: %v", err)
			return
		}
		f.publish(MarketEvent{
			Kind:     KindTrade,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   tr.Symbol,
			Asset:    catalog.AssetFromBinanceFuturesSymbol(tr.Symbol),
			Datetime: tr.Time,
			Price:    tr.Price,
			Size:     tr.Qty,
		})

	case strings.Contains(msg.Stream, "@depth"):
		d, err := market.ParseDepth(msg.Data)
		if err != nil {
			log.Printf("binance depth parse: %v", err)
			return
		}
		f.publish(MarketEvent{
			Kind:     KindDepth,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   d.Symbol,
			Asset:    catalog.AssetFromBinanceFuturesSymbol(d.Symbol),
			Datetime: d.Time,
			Bids:     d.Bids,
			Asks:     d.Asks,
		})

	case strings.Contains(msg.Stream, "@kline"):
		k, err := market.ParseKline(msg.Data)
		if err != nil {
			log.Printf("binance kline parse: %v", err)
			return
		}
		f.publish(MarketEvent{
			Kind:     KindOHLCVT,
			Exchange: common.ExchangeBinanceFutures,
			Symbol:   k.Symbol,
			Asset:    catalog.AssetFromBinanceFuturesSymbol(k.Symbol),
			Datetime: k.CloseTime,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
			OpenTime: k.OpenTime,
		})
	}
}

func (f *BinanceFeed) publish(ev MarketEvent) {
	f.bus.Publish(events.TopicMarketEvent, ev)
}
