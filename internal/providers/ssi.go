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

// SSIClient fetches OHLC candles from the SSI iBoard API. SSI wraps its
// payload in an envelope and returns column-oriented arrays of t/o/h/l/c/v.
type SSIClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// ssiEnvelope is SSI's wrapper response shape.
type ssiEnvelope struct {
	Status string  `json:"status"`
	Data   ssiData `json:"data"`
}

type ssiData struct {
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

// NewSSIClient constructs an SSIClient. baseURL defaults to the production
// iBoard host when empty.
func NewSSIClient(baseURL string, log zerolog.Logger) *SSIClient {
	if baseURL == "" {
		baseURL = "https://iboard-query.ssi.com.vn"
	}
	return &SSIClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "ssi").Logger(),
	}
}

func (c *SSIClient) FetchOHCL(ctx context.Context, req Request) ([]Candle, error) {
	segment := "stock"
	if isIndexSymbol(req.Symbol) {
		segment = "index"
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("resolution", req.Resolution)
	params.Set("from", strconv.FormatInt(req.From, 10))
	params.Set("to", strconv.FormatInt(req.To, 10))

	reqURL := fmt.Sprintf("%s/v2/%s/history?%s", c.baseURL, segment, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers/ssi: failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers/ssi: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers/ssi: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: ssi status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var env ssiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: ssi: %v", ErrMalformedBody, err)
	}

	n := len(env.Data.T)
	candles := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, Candle{
			T: env.Data.T[i],
			O: valueAt(env.Data.O, i),
			H: valueAt(env.Data.H, i),
			L: valueAt(env.Data.L, i),
			C: valueAt(env.Data.C, i),
			V: valueAt(env.Data.V, i),
		})
	}
	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[len(candles)-req.Limit:]
	}
	return candles, nil
}

func valueAt(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}
