// Package hyperliquid is the Hyperliquid execution client: JSON POSTs to the
// /exchange and /info endpoints with per-request nonces and injected
// EIP-712 signing.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"arb-engine/pkg/exchanges/common"
)

// Chain selects the signing domain.
type Chain string

const (
	ChainArbitrum       Chain = "Arbitrum"
	ChainArbitrumGoerli Chain = "ArbitrumGoerli"
	ChainDev            Chain = "Dev"
)

// Signer produces the EIP-712 signature over an action payload. The wallet
// implementation is injected; the client only manages nonces and transport.
// The action value is hashed from its msgpack encoding, so implementations
// receive the struct rather than its JSON form.
type Signer interface {
	Sign(action any, nonce uint64, chain Chain) (json.RawMessage, error)
}

// Config holds Hyperliquid account parameters.
type Config struct {
	Address string // 0x account address
	Chain   Chain
	BaseURL string // override for testnets
}

// Client handles Hyperliquid order placement and account queries.
type Client struct {
	cfg        Config
	signer     Signer
	httpClient *http.Client

	// nonce book: monotonic, unique within the last 20
	nonceMu sync.Mutex
	nonces  []uint64

	// coin -> universe index, loaded from the meta endpoint
	assetMu      sync.RWMutex
	assetIndexes map[string]int
}

func NewClient(cfg Config, signer Signer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Chain == "" {
		cfg.Chain = ChainArbitrum
	}
	return &Client{
		cfg:          cfg,
		signer:       signer,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		assetIndexes: make(map[string]int),
	}
}

// SetAssetIndexes installs the coin -> universe index mapping order actions
// reference.
func (c *Client) SetAssetIndexes(m map[string]int) {
	c.assetMu.Lock()
	defer c.assetMu.Unlock()
	c.assetIndexes = m
}

func (c *Client) assetIndex(coin string) (int, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	i, ok := c.assetIndexes[coin]
	return i, ok
}

// Exchange tags every response from this client.
func (c *Client) Exchange() common.Exchange { return common.ExchangeHyperliquid }

// nextNonce returns a ms timestamp nonce strictly greater than every nonce
// in the recent window.
func (c *Client) nextNonce() uint64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := uint64(time.Now().UnixMilli())
	if len(c.nonces) > 0 && n <= c.nonces[len(c.nonces)-1] {
		n = c.nonces[len(c.nonces)-1] + 1
	}
	c.nonces = append(c.nonces, n)
	if len(c.nonces) > 20 {
		c.nonces = c.nonces[len(c.nonces)-20:]
	}
	return n
}

type exchangeRequest struct {
	Action    json.RawMessage `json:"action"`
	Nonce     uint64          `json:"nonce"`
	Signature json.RawMessage `json:"signature"`
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *Client) postExchange(ctx context.Context, action any) (*exchangeResponse, error) {
	if c.signer == nil {
		return nil, errors.New("hyperliquid: no signer configured")
	}
	nonce := c.nextNonce()
	sig, err := c.signer.Sign(action, nonce, c.cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(exchangeRequest{Action: raw, Nonce: nonce, Signature: sig})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	payload, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("hyperliquid exchange status %d: %s", res.StatusCode, string(payload))
	}
	var out exchangeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("hyperliquid exchange: %s", string(payload))
	}
	return &out, nil
}

func (c *Client) postInfo(ctx context.Context, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		payload, _ := io.ReadAll(res.Body)
		return fmt.Errorf("hyperliquid info status %d: %s", res.StatusCode, string(payload))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
