package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSIClientParsesEnvelopeAndIndexRouting(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(ssiEnvelope{
			Status: "ok",
			Data: ssiData{
				T: []int64{100, 160},
				O: []float64{10, 11},
				H: []float64{12, 13},
				L: []float64{9, 10},
				C: []float64{11, 12},
				V: []float64{1000, 1200},
			},
		})
	}))
	defer srv.Close()

	client := NewSSIClient(srv.URL, zerolog.Nop())
	candles, err := client.FetchOHCL(context.Background(), Request{Symbol: "VNINDEX", Resolution: "1", From: 0, To: 200})
	require.NoError(t, err)
	assert.Equal(t, "/v2/index/history", gotPath, "expected index segment routing")
	require.Len(t, candles, 2)
	assert.Equal(t, int64(100), candles[0].T)
	assert.Equal(t, 12.0, candles[1].C)
}

func TestSSIClientUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewSSIClient(srv.URL, zerolog.Nop())
	_, err := client.FetchOHCL(context.Background(), Request{Symbol: "FPT", Resolution: "1D"})
	assert.Error(t, err, "expected error on 500 response")
}

func TestDragonClientParsesStringColumnsAndPropagatesParseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dragonResponse{
			T: []int64{1, 2},
			O: []string{"1.5", "not-a-number"},
			H: []string{"2.0", "2.1"},
			L: []string{"1.0", "1.1"},
			C: []string{"1.8", "1.9"},
			V: []string{"100", "200"},
		})
	}))
	defer srv.Close()

	client := NewDragonClient(srv.URL, zerolog.Nop())
	_, err := client.FetchOHCL(context.Background(), Request{Symbol: "VIC", Resolution: "1D"})
	assert.Error(t, err, "malformed open value should propagate as a parse error")
}

func TestDragonClientHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dragonResponse{
			T: []int64{1},
			O: []string{"1.5"},
			H: []string{"2.0"},
			L: []string{"1.0"},
			C: []string{"1.8"},
			V: []string{"100"},
		})
	}))
	defer srv.Close()

	client := NewDragonClient(srv.URL, zerolog.Nop())
	candles, err := client.FetchOHCL(context.Background(), Request{Symbol: "VIC", Resolution: "1D"})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1.5, candles[0].O)
	assert.Equal(t, 100.0, candles[0].V)
}

// binanceKlineRow builds one raw Binance kline row with the given open_time,
// ohlcv strings, and close_time.
func binanceKlineRow(openTime int64, o, h, l, c, v string, closeTime int64) []interface{} {
	return []interface{}{openTime, o, h, l, c, v, closeTime, "0", 0, "0", "0", "0"}
}

func TestBinanceClientStopsOnStagnation(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var rows [][]interface{}
		if calls == 1 {
			rows = [][]interface{}{
				binanceKlineRow(1000, "1", "2", "0.5", "1.5", "10", 1000),
			}
		} else {
			rows = [][]interface{}{} // empty window on the second call
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL, zerolog.Nop())
	candles, err := client.FetchOHCL(context.Background(), Request{Symbol: "BTCUSDT", Resolution: "1D", From: 0, To: 10})
	require.NoError(t, err)
	assert.Len(t, candles, 1, "stagnation (first==last timestamp) should stop after one batch")
	assert.Equal(t, 1, calls, "expected exactly one request before stagnation halted pagination")
}

func TestBinanceClientPaginatesUntilEmptyWindow(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var rows [][]interface{}
		switch calls {
		case 1:
			rows = [][]interface{}{
				binanceKlineRow(1000, "1", "2", "0.5", "1.5", "10", 1000),
				binanceKlineRow(2000, "2", "3", "1.5", "2.5", "20", 2000),
			}
		default:
			rows = [][]interface{}{}
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL, zerolog.Nop())
	candles, err := client.FetchOHCL(context.Background(), Request{Symbol: "BTCUSDT", Resolution: "1D", From: 0, To: 100})
	require.NoError(t, err)
	assert.Len(t, candles, 2, "expected 2 candles from the first batch before the empty window stopped pagination")
	assert.Equal(t, 2, calls, "expected exactly 2 requests (one with data, one empty)")
}

func TestBinanceIntervalMapping(t *testing.T) {
	cases := map[string]string{
		"1":  "1m",
		"15": "15m",
		"1H": "1h",
		"4H": "4h",
		"1D": "1d",
		"1W": "1w",
		"1M": "1M",
	}
	for in, want := range cases {
		assert.Equal(t, want, binanceInterval(in), "binanceInterval(%s)", in)
	}
}

type fakeResolver struct{ target string }

func (f fakeResolver) ResolveBroker(string) string { return f.target }

func TestRegistryResolvesAliasAndDispatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ssiEnvelope{Data: ssiData{T: []int64{1}, O: []float64{1}, H: []float64{1}, L: []float64{1}, C: []float64{1}, V: []float64{1}}})
	}))
	defer srv.Close()

	reg := NewRegistry(Clients{
		SSI:      NewSSIClient(srv.URL, zerolog.Nop()),
		Resolver: fakeResolver{target: "ssi"},
	}, zerolog.Nop())

	candles, err := reg.FetchOHCL(context.Background(), "stock", Request{Symbol: "FPT", Resolution: "1D"})
	require.NoError(t, err)
	assert.Len(t, candles, 1, "alias resolution should route to the ssi client")
}

func TestRegistryUnknownBroker(t *testing.T) {
	reg := NewRegistry(Clients{}, zerolog.Nop())
	_, err := reg.FetchOHCL(context.Background(), "nope", Request{Symbol: "X"})
	assert.Error(t, err, "expected ErrUnknownBroker")
}

func TestVPSClientParsesDepthSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(vpsDepthResponse{
			Symbol: "FPT", BestBid: 100.1, BestAsk: 100.3, BidDepth: 5000, AskDepth: 4200,
		})
	}))
	defer srv.Close()

	client := NewVPSClient(srv.URL, zerolog.Nop())
	snap, err := client.FetchDepth(context.Background(), "FPT")
	require.NoError(t, err)
	assert.Equal(t, 100.1, snap.BestBid)
	assert.Equal(t, 100.3, snap.BestAsk)
}

func TestTCBSClientParsesMatchedVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tcbsMatchedResponse{
			Data: []struct {
				MatchedVolume float64 `json:"mv"`
				MatchedPrice  float64 `json:"mp"`
			}{{MatchedVolume: 15000, MatchedPrice: 42.5}},
		})
	}))
	defer srv.Close()

	client := NewTCBSClient(srv.URL, zerolog.Nop())
	vol, price, err := client.FetchMatchedVolume(context.Background(), "FPT", 100)
	require.NoError(t, err)
	assert.Equal(t, 15000.0, vol)
	assert.Equal(t, 42.5, price)
}

func TestTCBSClientEmptyDataReturnsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tcbsMatchedResponse{})
	}))
	defer srv.Close()

	client := NewTCBSClient(srv.URL, zerolog.Nop())
	vol, price, err := client.FetchMatchedVolume(context.Background(), "FPT", 100)
	require.NoError(t, err)
	assert.Zero(t, vol)
	assert.Zero(t, price)
}

func TestFireantClientSendsBearerTokenAndParsesSentiment(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(fireantSentimentResponse{Symbol: "FPT", SentimentScore: 0.42})
	}))
	defer srv.Close()

	client := NewFireantClient(srv.URL, "secret-token", zerolog.Nop())
	score, err := client.FetchSentiment(context.Background(), "FPT")
	require.NoError(t, err)
	assert.Equal(t, 0.42, score)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestFetchRespectsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(ssiEnvelope{})
	}))
	defer srv.Close()

	client := NewSSIClient(srv.URL, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()

	_, err := client.FetchOHCL(ctx, Request{Symbol: "FPT", Resolution: "1D"})
	assert.Error(t, err, "expected context deadline to cancel the request")
}
