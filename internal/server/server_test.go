package server

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

	"github.com/aristath/marketpulse/internal/appstate"
	"github.com/aristath/marketpulse/internal/priceservice"
	"github.com/aristath/marketpulse/internal/providers"
)

type fixedTTL struct{ ttl time.Duration }

func (f fixedTTL) TTLFor(string) time.Duration { return f.ttl }

type fakeFetcher struct {
	candles []providers.Candle
}

func (f *fakeFetcher) FetchOHCL(ctx context.Context, broker string, req providers.Request) ([]providers.Candle, error) {
	return f.candles, nil
}

type fakeScheduler struct{ healthy bool }

func (f *fakeScheduler) Tick(ctx context.Context, now time.Time) (int, error) { return 0, nil }
func (f *fakeScheduler) Health() bool                                         { return f.healthy }
func (f *fakeScheduler) Stats() (int64, int64, int64)                         { return 1, 0, 0 }

func newTestServer() *Server {
	ps := priceservice.New(priceservice.Config{
		TTL:      fixedTTL{time.Minute},
		Registry: &fakeFetcher{candles: []providers.Candle{{T: 1000, O: 1, H: 2, L: 0.5, C: 1.5, V: 10}}},
	}, zerolog.Nop())

	as := appstate.New(appstate.Config{Scheduler: &fakeScheduler{healthy: true}}, zerolog.Nop())

	return New(Config{
		Port:         0,
		Log:          zerolog.Nop(),
		PriceService: ps,
		AppState:     as,
	})
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s := newTestServer()
	_, err := s.appstate.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var h appstate.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.True(t, h.Status, "expected healthy status")
}

func TestGetOhclServesCandles(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/investing/v1/ohcl/binance/BTCUSDT?resolution=1D&from=0&to=2000", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ohclResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Ohcl, 1)
	assert.Equal(t, 1.5, resp.Ohcl[0].C)
}

func TestCronLockUnlockRoundTrip(t *testing.T) {
	s := newTestServer()

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/config/v1/cronjobs/lock", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.appstate.Locked(), "expected appstate to be locked after lock call")

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/config/v1/cronjobs/unlock", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.appstate.Locked(), "expected appstate to be unlocked after unlock call")
}

func TestSynchronizeDefaultsToNoop(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/config/v1/cronjobs/synchronize", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

type fakeEvolutionStats struct {
	stats Statistics
	err   error
}

func (f fakeEvolutionStats) Statistics() (Statistics, error) { return f.stats, f.err }

func TestEvolutionStatsServesPopulationStatistics(t *testing.T) {
	ps := priceservice.New(priceservice.Config{
		TTL:      fixedTTL{time.Minute},
		Registry: &fakeFetcher{},
	}, zerolog.Nop())
	as := appstate.New(appstate.Config{Scheduler: &fakeScheduler{healthy: true}}, zerolog.Nop())

	s := New(Config{
		Port:         0,
		Log:          zerolog.Nop(),
		PriceService: ps,
		AppState:     as,
		Evolution:    fakeEvolutionStats{stats: Statistics{Best: 5, Worst: 1, Median: 3}},
	})

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolution/v1/stats", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp evolutionStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5.0, resp.Stats.Best)
}

func TestEvolutionStatsUnconfiguredReturnsError(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/evolution/v1/stats", nil))
	assert.NotEqual(t, http.StatusOK, w.Code, "expected an error response when no evolution runner is configured")
}
