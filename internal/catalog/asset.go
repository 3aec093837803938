package catalog

import (
	"hash/fnv"
	"strings"
)

// Asset is a fungible unit identified by name, addressable by stable hash.
type Asset string

// Hash returns the stable 64-bit FNV-1a hash used for compact keying.
func (a Asset) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a))
	return h.Sum64()
}

// aliasPairs maps 1000x-denominated variants to their canonical asset.
// Hyperliquid lists thousand-unit contracts with a "k" prefix while
// Binance prefixes the same contracts with "1000".
var aliasPairs = map[Asset]Asset{
	"kPEPE":  "PEPE",
	"kBONK":  "BONK",
	"kSHIB":  "SHIB",
	"kFLOKI": "FLOKI",
	"kLUNC":  "LUNC",
	"kDOGS":  "DOGS",
}

// Alias returns the mirror name of a normalized-pair asset, if any.
// Writes to one form must mirror to the other.
func (a Asset) Alias() (Asset, bool) {
	if canon, ok := aliasPairs[a]; ok {
		return canon, true
	}
	for k, v := range aliasPairs {
		if v == a {
			return k, true
		}
	}
	return "", false
}

// AssetFromBinanceFuturesSymbol derives the base asset from a USDM symbol,
// e.g. BTCUSDT -> BTC, 1000PEPEUSDT -> kPEPE.
func AssetFromBinanceFuturesSymbol(symbol string) Asset {
	base := strings.TrimSuffix(strings.TrimSuffix(symbol, "USDT"), "USDC")
	if rest, ok := strings.CutPrefix(base, "1000"); ok && rest != "" {
		return Asset("k" + rest)
	}
	return Asset(base)
}

// IsUSDLike reports whether an asset is a dollar stand-in.
func IsUSDLike(a Asset) bool {
	switch a {
	case "USD", "USDT", "USDC":
		return true
	}
	return false
}
