package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

// DragonClient fetches OHLC candles from the Dragon Capital market data API.
// Dragon serializes OHLCV columns as arrays of strings, so every value must
// be parsed with explicit error propagation rather than trusted as numeric
// JSON, per spec.md §4.5(d).
type DragonClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

type dragonResponse struct {
	T []int64  `json:"t"`
	O []string `json:"o"`
	H []string `json:"h"`
	L []string `json:"l"`
	C []string `json:"c"`
	V []string `json:"v"`
}

func NewDragonClient(baseURL string, log zerolog.Logger) *DragonClient {
	if baseURL == "" {
		baseURL = "https://dragon-api.dragoncapital.com.vn"
	}
	return &DragonClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "dragon").Logger(),
	}
}

func (c *DragonClient) FetchOHCL(ctx context.Context, req Request) ([]Candle, error) {
	segment := "stock"
	if isIndexSymbol(req.Symbol) {
		segment = "index"
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("resolution", req.Resolution)
	params.Set("from", strconv.FormatInt(req.From, 10))
	params.Set("to", strconv.FormatInt(req.To, 10))

	reqURL := fmt.Sprintf("%s/api/v1/%s/candles?%s", c.baseURL, segment, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers/dragon: failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers/dragon: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers/dragon: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: dragon status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var out dragonResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: dragon: %v", ErrMalformedBody, err)
	}

	n := len(out.T)
	candles := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		o, err := parseFloatColumn(out.O, i, "o")
		if err != nil {
			return nil, err
		}
		h, err := parseFloatColumn(out.H, i, "h")
		if err != nil {
			return nil, err
		}
		l, err := parseFloatColumn(out.L, i, "l")
		if err != nil {
			return nil, err
		}
		cl, err := parseFloatColumn(out.C, i, "c")
		if err != nil {
			return nil, err
		}
		v, err := parseFloatColumn(out.V, i, "v")
		if err != nil {
			return nil, err
		}
		candles = append(candles, Candle{T: out.T[i], O: o, H: h, L: l, C: cl, V: v})
	}
	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[len(candles)-req.Limit:]
	}
	return candles, nil
}

// parseFloatColumn parses the i-th string in col, wrapping any parse failure
// with the column name and index so upstream callers can identify which
// field of which row was malformed.
func parseFloatColumn(col []string, i int, field string) (float64, error) {
	if i < 0 || i >= len(col) {
		return 0, fmt.Errorf("%w: dragon: missing %s at index %d", ErrMalformedBody, field, i)
	}
	v, err := strconv.ParseFloat(col[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: dragon: failed to parse %s at index %d: %v", ErrMalformedBody, field, i, err)
	}
	return v, nil
}
