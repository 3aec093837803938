package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-engine/pkg/exchanges/common"
)

func TestAssetFromBinanceFuturesSymbol(t *testing.T) {
	assert.Equal(t, Asset("BTC"), AssetFromBinanceFuturesSymbol("BTCUSDT"))
	assert.Equal(t, Asset("kPEPE"), AssetFromBinanceFuturesSymbol("1000PEPEUSDT"))
	assert.Equal(t, Asset("SOL"), AssetFromBinanceFuturesSymbol("SOLUSDC"))
}

func TestAliasMirrorsBothDirections(t *testing.T) {
	canon, ok := Asset("kPEPE").Alias()
	require.True(t, ok)
	assert.Equal(t, Asset("PEPE"), canon)

	k, ok := Asset("PEPE").Alias()
	require.True(t, ok)
	assert.Equal(t, Asset("kPEPE"), k)

	_, ok = Asset("BTC").Alias()
	assert.False(t, ok)
}

func TestRoundingTruncatesToPrecision(t *testing.T) {
	ins := Instrument{LotDecimals: 3, TickDecimals: 1}
	assert.Equal(t, 0.123, ins.RoundSize(0.12399))
	assert.Equal(t, 30000.1, ins.RoundPrice(30000.19))
}

func TestInsertIndexesAliasedBase(t *testing.T) {
	c := New()
	c.Insert(Instrument{
		Exchange: common.ExchangeBinanceFutures,
		Symbol:   "1000PEPEUSDT",
		Base:     "kPEPE",
		Quote:    "USDT",
		Type:     TypePerpetual,
	})

	byK, ok := c.ByBase("kPEPE", common.ExchangeBinanceFutures)
	require.True(t, ok)
	byCanon, ok := c.ByBase("PEPE", common.ExchangeBinanceFutures)
	require.True(t, ok)
	assert.Equal(t, byK.Symbol, byCanon.Symbol)
}

func TestAssetsRequiresEveryVenue(t *testing.T) {
	c := New()
	c.Insert(Instrument{Exchange: common.ExchangeBinanceFutures, Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"})
	c.Insert(Instrument{Exchange: common.ExchangeHyperliquid, Symbol: "BTC", Base: "BTC", Quote: "USDC"})
	c.Insert(Instrument{Exchange: common.ExchangeBinanceFutures, Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"})

	universe := c.Assets(common.ExchangeBinanceFutures, common.ExchangeHyperliquid)
	assert.Equal(t, []Asset{"BTC"}, universe)
}

func TestAssetsKeepsOnlyCanonicalAliasForm(t *testing.T) {
	c := New()
	c.Insert(Instrument{Exchange: common.ExchangeBinanceFutures, Symbol: "1000PEPEUSDT", Base: "kPEPE", Quote: "USDT"})
	c.Insert(Instrument{Exchange: common.ExchangeHyperliquid, Symbol: "kPEPE", Base: "kPEPE", Quote: "USDC"})

	universe := c.Assets(common.ExchangeBinanceFutures, common.ExchangeHyperliquid)
	assert.Equal(t, []Asset{"PEPE"}, universe)
}
