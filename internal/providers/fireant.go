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

// FireantClient fetches Fireant's crowd-sourced sentiment score, a
// bearer-token authenticated supplementary signal that the ingestion job
// writes into the fireant_sentiment variable; the simulator does not read it.
type FireantClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        zerolog.Logger
}

type fireantSentimentResponse struct {
	Symbol          string  `json:"symbol"`
	SentimentScore  float64 `json:"sentimentScore"`
	PostVolume24h   int     `json:"postVolume24h"`
}

func NewFireantClient(baseURL, token string, log zerolog.Logger) *FireantClient {
	if baseURL == "" {
		baseURL = "https://restv2.fireant.vn"
	}
	return &FireantClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		token:      token,
		log:        log.With().Str("client", "fireant").Logger(),
	}
}

// FetchSentiment returns the current crowd sentiment score for symbol, in
// [-1, 1].
func (c *FireantClient) FetchSentiment(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	reqURL := fmt.Sprintf("%s/symbols/%s/sentiment?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("providers/fireant: failed to build request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("providers/fireant: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("providers/fireant: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: fireant status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var out fireantSentimentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("%w: fireant: %v", ErrMalformedBody, err)
	}
	return out.SentimentScore, nil
}
