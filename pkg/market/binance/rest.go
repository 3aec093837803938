package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RestClient fetches public USDM futures market metadata.
type RestClient struct {
	BaseURL    string
	httpClient *http.Client
}

// NewRestClient builds a public REST client; testnet toggles the host.
func NewRestClient(testnet bool) *RestClient {
	base := "https://fapi.binance.com"
	if testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &RestClient{
		BaseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetExchangeInfo loads the tradable perpetual universe with precisions.
func (c *RestClient) GetExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("exchange info status %d: %s", res.StatusCode, string(b))
	}

	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			BaseAsset         string `json:"baseAsset"`
			QuoteAsset        string `json:"quoteAsset"`
			ContractType      string `json:"contractType"`
			Status            string `json:"status"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType  string      `json:"filterType"`
				MinNotional interface{} `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	out := make([]SymbolInfo, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		info := SymbolInfo{
			Symbol:            s.Symbol,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			ContractType:      s.ContractType,
			QuantityPrecision: s.QuantityPrecision,
			PricePrecision:    s.PricePrecision,
			Status:            s.Status,
		}
		for _, f := range s.Filters {
			if f.FilterType == "MIN_NOTIONAL" {
				info.MinNotional = toFloat(f.MinNotional)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// toFloat tolerates both numeric and string JSON encodings.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}
