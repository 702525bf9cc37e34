// Package priceservice implements the OHLC cache (C8): a two-level map of
// symbol -> resolution -> block-keyed LRU, backed by internal/lrucache and
// fed from internal/providers on cache misses. TTL/invalidation bookkeeping
// follows the teacher's internal/clientdata response-cache pattern (a last-
// write timer table consulted before trusting cached data).
package priceservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/clientdata"
	"github.com/aristath/marketpulse/internal/lrucache"
	"github.com/aristath/marketpulse/internal/providers"
)

// staleCacheTTL is how long a successful fetch's response_cache write-through
// stays eligible as a last-resort fallback once a provider goes dark.
const staleCacheTTL = 7 * 24 * time.Hour

const (
	blockSizeSeconds = 604_800 // one week
	blockCapacity    = 70
)

// TTLSource resolves a resolution string to its cache TTL, satisfied by
// internal/config.Config.TTLFor.
type TTLSource interface {
	TTLFor(resolution string) time.Duration
}

// Fetcher is the subset of internal/providers.Registry the price service
// depends on, kept as an interface so tests can substitute a stub broker.
type Fetcher interface {
	FetchOHCL(ctx context.Context, broker string, req providers.Request) ([]providers.Candle, error)
}

// StaleCache is the subset of internal/clientdata.Repository the price
// service writes successful fetches through to and reads from as a
// last-resort fallback when every provider call fails, per spec.md
// §4.8/§7. *clientdata.Repository satisfies this directly.
type StaleCache interface {
	Store(key clientdata.Key, payload interface{}, ttl time.Duration) error
	Get(key clientdata.Key) (json.RawMessage, error)
}

type symbolRes struct {
	symbol     string
	resolution string
}

// Service is the C8 price cache.
type Service struct {
	mu      sync.Mutex
	blocks  map[symbolRes]*lrucache.Cache[int64, []providers.Candle]
	timers  map[symbolRes]int64 // last write, unix seconds

	ttl          TTLSource
	registry     Fetcher
	staleCache   StaleCache
	fetchTimeout time.Duration
	log          zerolog.Logger

	now func() time.Time
}

// Config controls Service construction.
type Config struct {
	TTL          TTLSource
	Registry     Fetcher
	StaleCache   StaleCache
	FetchTimeout time.Duration
}

// New constructs an empty Service.
func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Service{
		blocks:       make(map[symbolRes]*lrucache.Cache[int64, []providers.Candle]),
		timers:       make(map[symbolRes]int64),
		ttl:          cfg.TTL,
		registry:     cfg.Registry,
		staleCache:   cfg.StaleCache,
		fetchTimeout: cfg.FetchTimeout,
		log:          log.With().Str("component", "priceservice").Logger(),
		now:          time.Now,
	}
}

func (s *Service) cacheFor(key symbolRes) *lrucache.Cache[int64, []providers.Candle] {
	c, ok := s.blocks[key]
	if !ok {
		c = lrucache.New[int64, []providers.Candle](blockCapacity)
		s.blocks[key] = c
	}
	return c
}

// UpdateOhclToCache rebuckets candles by block_id = t/block_size_seconds and
// writes each bucket into that (symbol, resolution)'s LRU, then refreshes
// the write timer.
func (s *Service) UpdateOhclToCache(symbol, resolution string, candles []providers.Candle) {
	if len(candles) == 0 {
		return
	}

	buckets := make(map[int64][]providers.Candle)
	for _, c := range candles {
		blockID := c.T / blockSizeSeconds
		buckets[blockID] = append(buckets[blockID], c)
	}

	maxLen := 0
	for _, bucket := range buckets {
		if len(bucket) > maxLen {
			maxLen = len(bucket)
		}
	}

	s.mu.Lock()
	key := symbolRes{symbol, resolution}
	cache := s.cacheFor(key)

	var tailBlock int64 = -1
	for blockID := range buckets {
		if blockID > tailBlock {
			tailBlock = blockID
		}
	}

	for blockID, bucket := range buckets {
		cache.Put(blockID, bucket)
		if blockID != tailBlock && maxLen > 0 && float64(len(bucket))/float64(maxLen) < 0.95 {
			s.log.Warn().
				Str("symbol", symbol).
				Str("resolution", resolution).
				Int64("block_id", blockID).
				Int("length", len(bucket)).
				Int("max_length", maxLen).
				Msg("non-tail block fill ratio below 95%")
		}
	}
	s.timers[key] = s.now().Unix()
	s.mu.Unlock()
}

// GetOhcl returns candles in [from, to), preferring the cache and falling
// back to broker through internal/providers on insufficient coverage, per
// spec.md §4.8. The second return value reports whether the caller should
// write the result through UpdateOhclToCache.
func (s *Service) GetOhcl(ctx context.Context, broker, symbol, resolution string, from, to int64, limit int) ([]providers.Candle, bool, error) {
	key := symbolRes{symbol, resolution}

	ttl := 60 * time.Second
	if s.ttl != nil {
		ttl = s.ttl.TTLFor(resolution)
	}

	s.mu.Lock()
	lastWrite, hasTimer := s.timers[key]
	invalidated := !hasTimer || s.now().Unix()-lastWrite > int64(ttl.Seconds())
	s.mu.Unlock()

	if invalidated {
		candles, err := s.fetchFromSource(ctx, broker, symbol, resolution, from, to, limit)
		if err != nil {
			if stale, staleErr := s.staleFallback(broker, symbol, resolution, from, to); staleErr == nil && len(stale) > 0 {
				return stale, false, nil
			}
			return nil, false, err
		}
		return candles, true, nil
	}

	result, effectiveFrom := s.readFromCache(key, from, to, limit)

	if to > effectiveFrom {
		coverage := 0.0
		if len(result) > 0 {
			first := result[0].T
			last := result[len(result)-1].T
			if to > from {
				coverage = float64(last-first) / float64(to-from)
			}
		}
		if coverage >= 0.90 {
			return result, false, nil
		}
	}

	slack := int64(2 * blockSizeSeconds)
	fetchLimit := limit
	if fetchLimit > 0 {
		fetchLimit += int(slack / blockSizeSeconds)
	}
	fetched, err := s.fetchFromSource(ctx, broker, symbol, resolution, effectiveFrom, to, fetchLimit)
	if err != nil {
		if len(result) > 0 {
			return result, false, nil
		}
		if stale, staleErr := s.staleFallback(broker, symbol, resolution, effectiveFrom, to); staleErr == nil && len(stale) > 0 {
			return stale, false, nil
		}
		return nil, false, err
	}

	merged := mergeCandles(result, fetched)
	return merged, true, nil
}

// readFromCache walks blocks covering [from, to), extending result with
// cached candles in range. When a block is missing it records the gap by
// moving the effective lower bound back to the start of the preceding
// block, matching spec.md §4.8's "recompute from to the start of the
// preceding block" rule.
func (s *Service) readFromCache(key symbolRes, from, to int64, limit int) (result []providers.Candle, effectiveFrom int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, ok := s.blocks[key]
	if !ok {
		return nil, from
	}

	effectiveFrom = from
	firstBlock := from / blockSizeSeconds
	lastBlock := to / blockSizeSeconds

	for b := firstBlock; b <= lastBlock; b++ {
		bucket, ok := cache.Get(b)
		if !ok {
			effectiveFrom = (b - 1) * blockSizeSeconds
			if effectiveFrom < 0 {
				effectiveFrom = 0
			}
			continue
		}
		for _, c := range bucket {
			if c.T >= from && c.T < to {
				result = append(result, c)
				if limit > 0 && len(result) >= limit {
					return result, effectiveFrom
				}
			}
		}
	}
	return result, effectiveFrom
}

func (s *Service) fetchFromSource(ctx context.Context, broker, symbol, resolution string, from, to int64, limit int) ([]providers.Candle, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("priceservice: no provider registry configured")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	candles, err := s.registry.FetchOHCL(fetchCtx, broker, providers.Request{
		Symbol:     symbol,
		Resolution: resolution,
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	if s.staleCache != nil && len(candles) > 0 {
		key := clientdata.Key{Broker: broker, Symbol: symbol, Resolution: resolution, From: from, To: to}
		if err := s.staleCache.Store(key, candles, staleCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to write through to response cache")
		}
	}

	return candles, nil
}

// staleFallback consults the response_cache store when every live fetch
// attempt has failed, serving whatever was last seen rather than an empty
// result, per spec.md §4.8/§7.
func (s *Service) staleFallback(broker, symbol, resolution string, from, to int64) ([]providers.Candle, error) {
	if s.staleCache == nil {
		return nil, fmt.Errorf("priceservice: no stale cache configured")
	}
	key := clientdata.Key{Broker: broker, Symbol: symbol, Resolution: resolution, From: from, To: to}
	raw, err := s.staleCache.Get(key)
	if err != nil || raw == nil {
		return nil, fmt.Errorf("priceservice: no stale response available")
	}
	var candles []providers.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("priceservice: malformed stale response: %w", err)
	}
	s.log.Warn().Str("symbol", symbol).Str("broker", broker).Msg("serving stale response_cache fallback, all providers unreachable")
	return candles, nil
}

// mergeCandles appends fetched onto cached, replacing cached's tail entry
// when a fetched candle shares its timestamp (fresher data wins) and
// appending when it's strictly newer.
func mergeCandles(cached, fetched []providers.Candle) []providers.Candle {
	result := make([]providers.Candle, len(cached))
	copy(result, cached)

	for _, c := range fetched {
		if len(result) == 0 {
			result = append(result, c)
			continue
		}
		tail := result[len(result)-1]
		switch {
		case c.T > tail.T:
			result = append(result, c)
		case c.T == tail.T:
			result[len(result)-1] = c
		}
	}
	return result
}
