package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/priceservice"
	"github.com/aristath/marketpulse/internal/providers"
	"github.com/aristath/marketpulse/internal/resolver"
	"github.com/aristath/marketpulse/internal/variables"
)

// registerIngestionJob declares the variables fed by live market data and
// installs the "ingest_market_data" route (C7): the job spec.md §2's data
// flow actually needs — "C6 ticks -> fires jobs in C7 -> jobs write into
// C4" — since RegisterVariable/RegisterScope alone never push a value.
// Each source writes into its own single-member scope so a VPS or TCBS
// outage can't desync a sibling's flush buffer; close_price stays in the
// "candles" scope already registered by main.
func registerIngestionJob(
	resolverRegistry *resolver.Registry,
	variablesStore *variables.Store,
	priceSvc *priceservice.Service,
	registry *providers.Registry,
	cfg *config.Config,
	log zerolog.Logger,
) {
	variablesStore.RegisterVariable("vps_spread", cfg.VPSTimeseries)
	variablesStore.RegisterScope("vps_market", []string{"vps_spread"})

	variablesStore.RegisterVariable("tcbs_matched_volume", cfg.TCBSTimeseries)
	variablesStore.RegisterScope("tcbs_market", []string{"tcbs_matched_volume"})

	variablesStore.RegisterVariable("fireant_sentiment", cfg.FireantTimeseries)
	variablesStore.RegisterScope("fireant_market", []string{"fireant_sentiment"})

	ilog := log.With().Str("job", "ingest_market_data").Logger()

	resolverRegistry.Resolve("ingest_market_data", func(ctx context.Context, args map[string]interface{}, _, _ int64) error {
		symbol := cfg.EvolutionSymbol
		now := time.Now()

		candles, isFromSource, err := priceSvc.GetOhcl(ctx, cfg.EvolutionBroker, symbol, cfg.EvolutionResolution, now.Add(-24*time.Hour).Unix(), now.Unix(), 1)
		if err != nil {
			ilog.Warn().Err(err).Msg("failed to fetch latest close price")
		} else if len(candles) > 0 {
			if isFromSource {
				priceSvc.UpdateOhclToCache(symbol, cfg.EvolutionResolution, candles)
			}
			latest := candles[len(candles)-1]
			if err := variablesStore.Update(ctx, "candles", "close_price", latest.C); err != nil {
				ilog.Warn().Err(err).Msg("failed to update close_price")
			}
		}

		if vps := registry.VPS(); vps != nil {
			snapshot, err := vps.FetchDepth(ctx, symbol)
			if err != nil {
				ilog.Warn().Err(err).Msg("failed to fetch VPS depth snapshot")
			} else if err := variablesStore.Update(ctx, "vps_market", "vps_spread", snapshot.BestAsk-snapshot.BestBid); err != nil {
				ilog.Warn().Err(err).Msg("failed to update vps_spread")
			}
		}

		if tcbs := registry.TCBS(); tcbs != nil {
			volume, _, err := tcbs.FetchMatchedVolume(ctx, symbol, cfg.TCBSDepth)
			if err != nil {
				ilog.Warn().Err(err).Msg("failed to fetch TCBS matched volume")
			} else if err := variablesStore.Update(ctx, "tcbs_market", "tcbs_matched_volume", volume); err != nil {
				ilog.Warn().Err(err).Msg("failed to update tcbs_matched_volume")
			}
		}

		if fireant := registry.Fireant(); fireant != nil {
			score, err := fireant.FetchSentiment(ctx, symbol)
			if err != nil {
				ilog.Warn().Err(err).Msg("failed to fetch Fireant sentiment")
			} else if err := variablesStore.Update(ctx, "fireant_market", "fireant_sentiment", score); err != nil {
				ilog.Warn().Err(err).Msg("failed to update fireant_sentiment")
			}
		}

		return nil
	})
}
