package feed

import (
	"context"
	"fmt"
	"log"

	"arb-engine/internal/catalog"
	"arb-engine/pkg/exchanges/common"
	binmarket "arb-engine/pkg/market/binance"
	hypmarket "arb-engine/pkg/market/hyperliquid"
)

// LoadBinanceInstruments populates the catalog from exchangeInfo. Only
// trading USDT perpetuals are kept.
func LoadBinanceInstruments(ctx context.Context, rest *binmarket.RestClient, cat *catalog.Catalog) error {
	infos, err := rest.GetExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("load binance instruments: %w", err)
	}
	n := 0
	for _, s := range infos {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" {
			continue
		}
		cat.Insert(catalog.Instrument{
			Exchange:     common.ExchangeBinanceFutures,
			Symbol:       s.Symbol,
			Base:         catalog.AssetFromBinanceFuturesSymbol(s.Symbol),
			Quote:        catalog.Asset(s.QuoteAsset),
			Type:         catalog.TypePerpetual,
			SizeUnit:     catalog.UnitBase,
			LotDecimals:  s.QuantityPrecision,
			TickDecimals: s.PricePrecision,
			MinNotional:  s.MinNotional,
		})
		n++
	}
	log.Printf("✓ loaded %d binance perpetuals", n)
	return nil
}

// hyperliquidPriceDecimals: perp prices allow 6 significant figures capped
// at MAX_DECIMALS(6) - szDecimals.
func hyperliquidPriceDecimals(szDecimals int) int {
	d := 6 - szDecimals
	if d < 0 {
		d = 0
	}
	return d
}

// LoadHyperliquidInstruments populates the catalog from the meta universe.
func LoadHyperliquidInstruments(ctx context.Context, info *hypmarket.InfoClient, cat *catalog.Catalog) error {
	metas, err := info.GetMeta(ctx)
	if err != nil {
		return fmt.Errorf("load hyperliquid instruments: %w", err)
	}
	for _, m := range metas {
		cat.Insert(catalog.Instrument{
			Exchange:     common.ExchangeHyperliquid,
			Symbol:       m.Name,
			Base:         catalog.Asset(m.Name),
			Quote:        "USDC",
			Type:         catalog.TypePerpetual,
			SizeUnit:     catalog.UnitBase,
			LotDecimals:  m.SzDecimals,
			TickDecimals: hyperliquidPriceDecimals(m.SzDecimals),
		})
	}
	log.Printf("✓ loaded %d hyperliquid perpetuals", len(metas))
	return nil
}
