package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InfoClient queries the public /info endpoint.
type InfoClient struct {
	BaseURL    string
	httpClient *http.Client
}

// NewInfoClient builds a public info client.
func NewInfoClient(testnet bool) *InfoClient {
	base := "https://api.hyperliquid.xyz"
	if testnet {
		base = "https://api.hyperliquid-testnet.xyz"
	}
	return &InfoClient{
		BaseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *InfoClient) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hyperliquid info: %w", err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("hyperliquid info status %d: %s", res.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}

// GetMeta loads the perpetual universe with size precisions.
func (c *InfoClient) GetMeta(ctx context.Context) ([]AssetMeta, error) {
	var raw struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := c.post(ctx, map[string]string{"type": "meta"}, &raw); err != nil {
		return nil, err
	}
	out := make([]AssetMeta, 0, len(raw.Universe))
	for i, u := range raw.Universe {
		out = append(out, AssetMeta{
			Name:        u.Name,
			SzDecimals:  u.SzDecimals,
			MaxLeverage: u.MaxLeverage,
			Index:       i,
		})
	}
	return out, nil
}

// GetAllMids returns the current mid price per coin.
func (c *InfoClient) GetAllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.post(ctx, map[string]string{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for coin, px := range raw {
		out[coin] = parseFloat(px)
	}
	return out, nil
}
