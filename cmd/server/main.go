// Command server is the entry point for the market-data ingestion and
// strategy-evolution platform. It wires every component bottom-up: config,
// logger, databases, blob store, variables store, provider clients, price
// service, resolver registry, cron scheduler, the genetic/simulator/CMA-ES
// evolution runner, appstate, and finally the BFF HTTP server — following
// the teacher's single di.Wire() orchestration, simplified to one function
// since this module has far fewer components than the teacher's full DI
// container.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/appstate"
	"github.com/aristath/marketpulse/internal/blobstore"
	"github.com/aristath/marketpulse/internal/clientdata"
	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/cron"
	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/evolution"
	"github.com/aristath/marketpulse/internal/genetic"
	"github.com/aristath/marketpulse/internal/jobhistory"
	"github.com/aristath/marketpulse/internal/priceservice"
	"github.com/aristath/marketpulse/internal/providers"
	"github.com/aristath/marketpulse/internal/resolver"
	"github.com/aristath/marketpulse/internal/server"
	"github.com/aristath/marketpulse/internal/variables"
	"github.com/aristath/marketpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting marketpulse")

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "response_cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open response cache database")
	}
	defer cacheDB.Close()
	if err := clientdata.InitSchema(cacheDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize response_cache schema")
	}

	jobsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "jobs.db"),
		Profile: database.ProfileStandard,
		Name:    "job_history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job history database")
	}
	defer jobsDB.Close()
	if err := jobhistory.InitSchema(jobsDB.Conn()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize job_runs schema")
	}

	durabilityDB, err := openDurabilityDB(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open variables durability database")
	}
	defer durabilityDB.Close()
	if err := variables.InitDurabilitySchema(durabilityDB); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize variable_checkpoints schema")
	}

	uploader := buildUploader(cfg, log)

	durability := variables.NewDurability(durabilityDB)
	variablesStore := variables.New(variables.Config{
		FlushAfterIncrementalSize: cfg.VPSFlush,
		BlobPrefix:                "investing",
		ArtifactName:              "candles",
		Uploader:                  uploader,
		Durability:                durability,
	}, log)
	variablesStore.RegisterVariable("close_price", cfg.VPSTimeseries)
	variablesStore.RegisterScope("candles", []string{"close_price"})

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := variablesStore.Restore(restoreCtx); err != nil {
		log.Warn().Err(err).Msg("failed to restore variable checkpoints")
	}
	restoreCancel()

	registry := providers.NewRegistry(providers.Clients{
		SSI:      providers.NewSSIClient("", log),
		DNSE:     providers.NewDNSEClient("", log),
		Dragon:   providers.NewDragonClient("", log),
		Binance:  providers.NewBinanceClient("", log),
		VPS:      providers.NewVPSClient("", log),
		TCBS:     providers.NewTCBSClient("", log),
		Fireant:  providers.NewFireantClient("", cfg.FireantToken, log),
		Resolver: cfg,
	}, log)

	responseCache := clientdata.NewRepository(cacheDB.Conn())

	priceSvc := priceservice.New(priceservice.Config{
		TTL:        cfg,
		Registry:   registry,
		StaleCache: responseCache,
	}, log)

	resolverRegistry := resolver.New()

	cleanupJob := clientdata.NewCleanupJob(responseCache, log)
	resolverRegistry.Resolve(cleanupJob.Name(), func(ctx context.Context, _ map[string]interface{}, _, _ int64) error {
		return cleanupJob.Run()
	})

	checkpointJob := variables.NewCheckpointJob(variablesStore)
	resolverRegistry.Resolve(checkpointJob.Name(), func(ctx context.Context, _ map[string]interface{}, _, _ int64) error {
		return checkpointJob.Run()
	})

	resolverRegistry.Resolve("fetch_ohcl", func(ctx context.Context, args map[string]interface{}, from, to int64) error {
		broker, _ := args["broker"].(string)
		symbol, _ := args["symbol"].(string)
		resolution, _ := args["resolution"].(string)
		candles, isFromSource, err := priceSvc.GetOhcl(ctx, broker, symbol, resolution, from, to, 0)
		if err != nil {
			return err
		}
		if isFromSource {
			priceSvc.UpdateOhclToCache(symbol, resolution, candles)
		}
		return nil
	})

	registerIngestionJob(resolverRegistry, variablesStore, priceSvc, registry, cfg, log)

	var evolutionRunner *evolution.Runner
	if cfg.EvolutionEnabled {
		now := time.Now().Unix()
		evolutionRunner = evolution.New(evolution.Config{
			Broker:            cfg.EvolutionBroker,
			Symbol:            cfg.EvolutionSymbol,
			Resolution:        cfg.EvolutionResolution,
			From:              now - int64(cfg.EvolutionWindowDays)*86400,
			To:                now,
			PopulationLimit:   cfg.EvolutionPopulationSize,
			LookbackCandle:    cfg.EvolutionLookbackCandle,
			LookbackOrder:     cfg.EvolutionLookbackOrder,
			BatchMoneyForFund: 10,
			Money:             cfg.EvolutionMoney,
			ArgMin:            cfg.EvolutionArgMin,
			ArgMax:            cfg.EvolutionArgMax,
			UseConvex:         cfg.EvolutionUseConvex,
			CheckpointPath:    filepath.Join(cfg.DataDir, "cmaes_checkpoint.msgpack"),
		}, priceSvc, rand.New(rand.NewSource(time.Now().UnixNano())), log)

		evolutionJob := evolution.NewJob(evolutionRunner)
		resolverRegistry.Resolve(evolutionJob.Name(), func(ctx context.Context, _ map[string]interface{}, _, _ int64) error {
			return evolutionJob.Run()
		})
	}

	jobHistory := jobhistory.NewRepository(jobsDB.Conn())

	scheduler := cron.New(resolverRegistry, time.Now(), log)
	scheduler.SetRecorder(jobHistory)

	if _, err := scheduler.Schedule(cleanupJob.Name(), "0 * * * *", 30*time.Second, nil); err != nil {
		log.Warn().Err(err).Msg("failed to schedule response_cache cleanup")
	}
	if _, err := scheduler.Schedule(checkpointJob.Name(), "*/5 * * * *", 10*time.Second, nil); err != nil {
		log.Warn().Err(err).Msg("failed to schedule variable checkpoint")
	}
	if cfg.EvolutionEnabled {
		if _, err := scheduler.Schedule("evolve", cfg.EvolutionCron, 60*time.Second, nil); err != nil {
			log.Warn().Err(err).Msg("failed to schedule evolution generation")
		}
	}
	if _, err := scheduler.Schedule("ingest_market_data", cfg.IngestCron, 30*time.Second, nil); err != nil {
		log.Warn().Err(err).Msg("failed to schedule market data ingestion")
	}

	probes := map[string]appstate.Prober{
		"response_cache_db": dbProbe{cacheDB},
		"job_history_db":    dbProbe{jobsDB},
		"durability_db":     sqlProbe{durabilityDB},
	}
	if client, ok := uploader.(*blobstore.Client); ok {
		probes["blobstore"] = client
	}

	state := appstate.New(appstate.Config{
		Scheduler:      scheduler,
		Probes:         probes,
		Timeframe:      cfg.AppstateTimeframe,
		MaxUpdatedTime: cfg.MaxUpdatedTime,
		MaxInflight:    int64(cfg.MaxInflight),
	}, log)

	var evolutionStats server.EvolutionStats
	if evolutionRunner != nil {
		evolutionStats = evolutionStatsAdapter{evolutionRunner}
	}

	srv := server.New(server.Config{
		Port:         cfg.ServerPort,
		Log:          log,
		PriceService: priceSvc,
		Providers:    registry,
		AppState:     state,
		Synchronizer: fetchSynchronizer{
			resolver:   resolverRegistry,
			broker:     cfg.EvolutionBroker,
			symbol:     cfg.EvolutionSymbol,
			resolution: cfg.EvolutionResolution,
			windowDays: cfg.EvolutionWindowDays,
		},
		Evolution: evolutionStats,
		DevMode:   cfg.LogPretty,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Int("port", cfg.ServerPort).Msg("server started")

	tickCtx, cancelTick := context.WithCancel(context.Background())
	go runTickLoop(tickCtx, state, scheduler, srv, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancelTick()
	scheduler.Stop()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := variablesStore.FlushAll(flushCtx); err != nil {
		log.Warn().Err(err).Msg("failed to flush variable buffers on shutdown")
	}
	if err := variablesStore.Checkpoint(flushCtx); err != nil {
		log.Warn().Err(err).Msg("failed to checkpoint variable buffers on shutdown")
	}
	flushCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}

// runTickLoop drives the once-per-second external tick into appstate and
// fans the resulting tick/inflight/done counters out to /ws/ticks
// subscribers, per spec.md §5's "external driver sends a stop signal"
// shutdown contract.
func runTickLoop(ctx context.Context, state *appstate.State, scheduler *cron.Scheduler, srv *server.Server, log zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := state.Tick(ctx, now); err != nil {
				log.Warn().Err(err).Msg("tick failed")
			}
			tick, inflight, done := scheduler.Stats()
			srv.BroadcastTick(server.TickMessage{Tick: tick, Inflight: inflight, Done: done})
		}
	}
}

// openDurabilityDB opens the variable_checkpoints database over
// github.com/mattn/go-sqlite3 (the cgo driver), kept distinct from the
// pure-Go driver internal/database wraps — see internal/variables/
// durability.go and DESIGN.md for why.
func openDurabilityDB(dataDir string) (*sql.DB, error) {
	path := filepath.Join(dataDir, "variables_durability.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open durability database: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping durability database: %w", err)
	}
	return db, nil
}

// buildUploader constructs the blob store client when S3 credentials are
// configured, falling back to an in-memory uploader in dev so the variables
// store can still exercise its flush path without external dependencies.
func buildUploader(cfg *config.Config, log zerolog.Logger) blobstore.Uploader {
	if cfg.S3Bucket == "" {
		log.Warn().Msg("no S3 bucket configured, falling back to in-memory blob store")
		return blobstore.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := blobstore.New(ctx, blobstore.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to construct blob store client, falling back to in-memory")
		return blobstore.NewMemoryStore()
	}
	return client
}

// fetchSynchronizer drives PUT /api/config/v1/cronjobs/synchronize (C13)
// into the "fetch_ohcl" route (C7) with an explicit window, the RPC-boundary
// trigger spec.md §4.7 describes alongside the scheduler's own cron-driven
// calls (which always pass from=-1, to=-1 and so can't populate a real
// window themselves).
type fetchSynchronizer struct {
	resolver   *resolver.Registry
	broker     string
	symbol     string
	resolution string
	windowDays int
}

func (s fetchSynchronizer) Synchronize(ctx context.Context) error {
	to := time.Now().Unix()
	from := to - int64(s.windowDays)*86400
	return s.resolver.Perform(ctx, "fetch_ohcl", map[string]interface{}{
		"broker":     s.broker,
		"symbol":     s.symbol,
		"resolution": s.resolution,
	}, from, to)
}

// dbProbe adapts *internal/database.DB to internal/appstate.Prober.
type dbProbe struct{ db *database.DB }

func (p dbProbe) Probe(ctx context.Context) error { return p.db.Ping(ctx) }

// sqlProbe adapts a raw *sql.DB (the durability connection) to
// internal/appstate.Prober.
type sqlProbe struct{ db *sql.DB }

func (p sqlProbe) Probe(ctx context.Context) error { return p.db.PingContext(ctx) }

// evolutionStatsAdapter converts internal/genetic.Statistics to
// internal/server.Statistics without internal/server importing
// internal/genetic, avoiding a dependency cycle between the BFF and the
// evolution runner's own dependency chain.
type evolutionStatsAdapter struct {
	runner *evolution.Runner
}

func (a evolutionStatsAdapter) Statistics() (server.Statistics, error) {
	stats, err := a.runner.Statistics()
	if err != nil {
		return server.Statistics{}, err
	}
	return toServerStatistics(stats), nil
}

func toServerStatistics(s genetic.Statistics) server.Statistics {
	return server.Statistics{
		Best:   s.Best,
		Worst:  s.Worst,
		Median: s.Median,
		P55:    s.P55,
		P75:    s.P75,
		P95:    s.P95,
		P99:    s.P99,
		StdDev: s.StdDev,
	}
}
