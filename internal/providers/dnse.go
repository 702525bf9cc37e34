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

// DNSEClient fetches OHLC candles from the DNSE market data API. Like SSI,
// DNSE returns column-oriented t/o/h/l/c/v arrays, and routes indices
// through an "index" URL segment instead of "stock".
type DNSEClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

type dnseResponse struct {
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

func NewDNSEClient(baseURL string, log zerolog.Logger) *DNSEClient {
	if baseURL == "" {
		baseURL = "https://api.dnse.com.vn/chart-api"
	}
	return &DNSEClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "dnse").Logger(),
	}
}

func (c *DNSEClient) FetchOHCL(ctx context.Context, req Request) ([]Candle, error) {
	segment := "stock"
	if isIndexSymbol(req.Symbol) {
		segment = "index"
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("resolution", req.Resolution)
	params.Set("from", strconv.FormatInt(req.From, 10))
	params.Set("to", strconv.FormatInt(req.To, 10))

	reqURL := fmt.Sprintf("%s/history/%s?%s", c.baseURL, segment, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers/dnse: failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers/dnse: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers/dnse: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: dnse status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var out dnseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: dnse: %v", ErrMalformedBody, err)
	}

	n := len(out.T)
	candles := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, Candle{
			T: out.T[i],
			O: valueAt(out.O, i),
			H: valueAt(out.H, i),
			L: valueAt(out.L, i),
			C: valueAt(out.C, i),
			V: valueAt(out.V, i),
		})
	}
	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[len(candles)-req.Limit:]
	}
	return candles, nil
}
