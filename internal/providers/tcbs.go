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

// TCBSClient fetches order-matching tick depth from TCBS's public market
// data API, feeding the "tcbs_market" variable scope with a rolling trade-intensity
// series (matched volume per poll) independent of the OHLC cache.
type TCBSClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

type tcbsMatchedResponse struct {
	Data []struct {
		MatchedVolume float64 `json:"mv"`
		MatchedPrice  float64 `json:"mp"`
	} `json:"data"`
}

func NewTCBSClient(baseURL string, log zerolog.Logger) *TCBSClient {
	if baseURL == "" {
		baseURL = "https://apipubaws.tcbs.com.vn"
	}
	return &TCBSClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "tcbs").Logger(),
	}
}

// FetchMatchedVolume returns the most recent aggregate matched volume and
// price for symbol from TCBS's price-depth endpoint.
func (c *TCBSClient) FetchMatchedVolume(ctx context.Context, symbol string, depth int) (volume float64, price float64, err error) {
	params := url.Values{}
	params.Set("ticker", symbol)
	params.Set("depth", strconv.Itoa(depth))

	reqURL := fmt.Sprintf("%s/stock-insight/v1/stock/matched-volume?%s", c.baseURL, params.Encode())

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if reqErr != nil {
		return 0, 0, fmt.Errorf("providers/tcbs: failed to build request: %w", reqErr)
	}

	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		return 0, 0, fmt.Errorf("providers/tcbs: request failed: %w", doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return 0, 0, fmt.Errorf("providers/tcbs: failed to read body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("%w: tcbs status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var out tcbsMatchedResponse
	if unmarshalErr := json.Unmarshal(body, &out); unmarshalErr != nil {
		return 0, 0, fmt.Errorf("%w: tcbs: %v", ErrMalformedBody, unmarshalErr)
	}
	if len(out.Data) == 0 {
		return 0, 0, nil
	}

	latest := out.Data[0]
	return latest.MatchedVolume, latest.MatchedPrice, nil
}
