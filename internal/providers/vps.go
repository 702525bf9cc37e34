package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// VPSClient fetches order-book depth snapshots from the VPS Securities
// market data feed. Unlike the OHLC brokers, VPS's payload is a flat
// bid/ask depth snapshot consumed by internal/variables as a scalar series
// (the best bid/ask spread) rather than a candle sequence.
type VPSClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// DepthSnapshot is one order-book depth reading for a symbol.
type DepthSnapshot struct {
	Symbol   string
	BestBid  float64
	BestAsk  float64
	BidDepth float64
	AskDepth float64
}

type vpsDepthResponse struct {
	Symbol   string  `json:"sym"`
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	BidDepth float64 `json:"bid_depth"`
	AskDepth float64 `json:"ask_depth"`
}

func NewVPSClient(baseURL string, log zerolog.Logger) *VPSClient {
	if baseURL == "" {
		baseURL = "https://bgapidatafeed.vps.com.vn"
	}
	return &VPSClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "vps").Logger(),
	}
}

// ListSymbols fetches the constituent symbol list for a named product
// (e.g. "VN30", "VN100", "hose"), per spec.md §6's VPS list feed.
func (c *VPSClient) ListSymbols(ctx context.Context, product string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/getlistckindex/%s", c.baseURL, url.PathEscape(product))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers/vps: failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers/vps: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers/vps: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: vps status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var symbols []string
	if err := json.Unmarshal(body, &symbols); err != nil {
		return nil, fmt.Errorf("%w: vps: %v", ErrMalformedBody, err)
	}
	return symbols, nil
}

// FetchDepth fetches the current order-book depth snapshot for symbol.
func (c *VPSClient) FetchDepth(ctx context.Context, symbol string) (DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	reqURL := fmt.Sprintf("%s/depth?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("providers/vps: failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("providers/vps: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("providers/vps: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DepthSnapshot{}, fmt.Errorf("%w: vps status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var out vpsDepthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return DepthSnapshot{}, fmt.Errorf("%w: vps: %v", ErrMalformedBody, err)
	}

	return DepthSnapshot{
		Symbol:   out.Symbol,
		BestBid:  out.BestBid,
		BestAsk:  out.BestAsk,
		BidDepth: out.BidDepth,
		AskDepth: out.AskDepth,
	}, nil
}
