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

// BinanceClient fetches OHLC candles from Binance's klines REST endpoint.
// Binance returns row-oriented arrays where every OHLCV field is a JSON
// string, and paginates: the client keeps re-issuing requests starting 1 ms
// after the open_time of the last kline until limit is reached, the window comes
// back empty, or a batch's first and last timestamps are identical
// (stagnation), per spec.md §4.5.
type BinanceClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// binanceKline is one row of Binance's [ open_time, open, high, low, close,
// volume, close_time, ... ] array response.
type binanceKline []json.RawMessage

func NewBinanceClient(baseURL string, log zerolog.Logger) *BinanceClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		log:        log.With().Str("client", "binance").Logger(),
	}
}

const binanceMaxPerRequest = 1000

func (c *BinanceClient) FetchOHCL(ctx context.Context, req Request) ([]Candle, error) {
	var all []Candle
	startTime := req.From * 1000 // Binance wants milliseconds

	for {
		remaining := req.Limit - len(all)
		if req.Limit > 0 && remaining <= 0 {
			break
		}
		batchLimit := binanceMaxPerRequest
		if req.Limit > 0 && remaining < batchLimit {
			batchLimit = remaining
		}

		batch, err := c.fetchBatch(ctx, req.Symbol, req.Resolution, startTime, req.To*1000, batchLimit)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		all = append(all, batch...)

		first := batch[0].T
		last := batch[len(batch)-1].T
		if first == last {
			break // stagnation: the upstream window stopped advancing
		}
		startTime = last*1000 + 1

		if req.Limit > 0 && len(all) >= req.Limit {
			break
		}
	}

	if req.Limit > 0 && len(all) > req.Limit {
		all = all[len(all)-req.Limit:]
	}
	return all, nil
}

func (c *BinanceClient) fetchBatch(ctx context.Context, symbol, resolution string, startMs, endMs int64, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", binanceInterval(resolution))
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	if endMs > 0 {
		params.Set("endTime", strconv.FormatInt(endMs, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	reqURL := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("providers/binance: failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers/binance: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers/binance: failed to read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: binance status %d: %s", ErrUpstreamStatus, resp.StatusCode, string(body))
	}

	var rows []binanceKline
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: binance: %v", ErrMalformedBody, err)
	}

	candles := make([]Candle, 0, len(rows))
	for idx, row := range rows {
		candle, err := parseBinanceRow(row)
		if err != nil {
			return nil, fmt.Errorf("providers/binance: row %d: %w", idx, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseBinanceRow decodes one kline row:
// [open_time, open, high, low, close, volume, close_time, ...]. Open/high/
// low/close/volume arrive as JSON strings and must be parsed with explicit
// error propagation per spec.md §4.5(d); open_time is a JSON number.
func parseBinanceRow(row binanceKline) (Candle, error) {
	if len(row) < 7 {
		return Candle{}, fmt.Errorf("%w: binance: expected at least 7 fields, got %d", ErrMalformedBody, len(row))
	}

	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return Candle{}, fmt.Errorf("%w: binance: failed to parse open_time: %v", ErrMalformedBody, err)
	}

	o, err := unmarshalBinanceFloat(row[1])
	if err != nil {
		return Candle{}, fmt.Errorf("open: %w", err)
	}
	h, err := unmarshalBinanceFloat(row[2])
	if err != nil {
		return Candle{}, fmt.Errorf("high: %w", err)
	}
	l, err := unmarshalBinanceFloat(row[3])
	if err != nil {
		return Candle{}, fmt.Errorf("low: %w", err)
	}
	cl, err := unmarshalBinanceFloat(row[4])
	if err != nil {
		return Candle{}, fmt.Errorf("close: %w", err)
	}
	v, err := unmarshalBinanceFloat(row[5])
	if err != nil {
		return Candle{}, fmt.Errorf("volume: %w", err)
	}

	return Candle{T: openTimeMs / 1000, O: o, H: h, L: l, C: cl, V: v}, nil
}

func unmarshalBinanceFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return v, nil
}

// binanceInterval maps the shared resolution strings onto Binance's kline
// interval vocabulary (e.g. "1H" -> "1h", "1D" -> "1d").
func binanceInterval(resolution string) string {
	switch resolution {
	case "1", "3", "5", "15", "30", "45":
		return resolution + "m"
	case "1H", "4H":
		return resolution[:len(resolution)-1] + "h"
	case "1D":
		return "1d"
	case "1W":
		return "1w"
	case "1M":
		return "1M"
	default:
		return resolution
	}
}
