// Main indexer service: runs one Collector per configured chain against a
// shared Sync Store, and a single Indexing Scheduler consuming all of them
// against a shared Entity Store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/collector"
	entitypostgres "github.com/0xkanth/evmindex/internal/entitystore/postgres"
	"github.com/0xkanth/evmindex/internal/gateway"
	"github.com/0xkanth/evmindex/internal/handler"
	"github.com/0xkanth/evmindex/internal/nats"
	"github.com/0xkanth/evmindex/internal/rpc"
	"github.com/0xkanth/evmindex/internal/scheduler"
	"github.com/0xkanth/evmindex/internal/syncstore"
	syncpostgres "github.com/0xkanth/evmindex/internal/syncstore/postgres"
	syncsqlite "github.com/0xkanth/evmindex/internal/syncstore/sqlite"
	"github.com/0xkanth/evmindex/internal/util"
	"github.com/0xkanth/evmindex/pkg/config"
	"github.com/0xkanth/evmindex/pkg/contracts"
	"github.com/0xkanth/evmindex/pkg/models"
)

func main() {
	logger := util.InitLogger()
	logger.Info().Msg("starting evmindex indexer")

	cfg := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(cfg, logger)

	chainConfigs, err := config.LoadConfig("config/chains.json")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load chain config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openSyncStore(ctx, cfg, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sync store")
	}
	defer store.Close()

	entityStore, err := entitypostgres.NewStore(ctx, cfg.String("postgres.dsn"), *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open entity store")
	}
	defer entityStore.Close()

	registry, err := contracts.NewRegistry()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build contract registry")
	}

	gw, err := gateway.New(cfg.String("gateway.snapshot_path"), *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sync gateway")
	}
	defer gw.Close()

	var publisher *nats.Publisher
	if url := cfg.String("nats.url"); url != "" {
		publisher, err = nats.NewPublisher(url, cfg.Duration("nats.max_age"), cfg.String("nats.subject_prefix"), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer publisher.Close()
	}

	names := make([]string, 0, len(chainConfigs.Chains))
	for name := range chainConfigs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	functions, setups, err := buildResetConfig(chainConfigs, names, registry, publisher)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build indexing function table")
	}

	clients := make(map[uint64]*rpc.Client)
	networks := make(map[uint64]string)
	collectors := make([]*collector.Collector, 0, len(chainConfigs.Chains))

	for _, name := range names {
		cc := chainConfigs.Chains[name]
		if len(cc.RPCUrls) == 0 {
			logger.Fatal().Str("chain", name).Msg("chain has no configured rpc urls")
		}

		wsURL := ""
		if len(cc.WSUrls) > 0 {
			wsURL = cc.WSUrls[0]
		}

		client, err := rpc.Dial(ctx, cc.RPCUrls[0], wsURL, cc.ChainID, store, *logger)
		if err != nil {
			logger.Fatal().Err(err).Str("chain", name).Msg("failed to dial chain rpc")
		}

		clients[cc.ChainID] = client
		networks[cc.ChainID] = name

		col := collector.New(*logger, client, store, gw, collector.Config{
			ChainID:       cc.ChainID,
			NetworkName:   name,
			StartBlock:    cc.StartBlock,
			BatchSize:     defaultUint64(cc.BatchSize, 2000),
			PollInterval:  cc.PollInterval(),
			Confirmations: cc.Confirmations,
			Workers:       defaultInt(cc.Workers, 4),
		}, collector.Sources{
			LogFilters: cc.LogFilters(),
			Factories:  cc.Factories(),
		})
		collectors = append(collectors, col)

		logger.Info().
			Str("chain", name).
			Uint64("chain_id", cc.ChainID).
			Uint64("start_block", cc.StartBlock).
			Uint64("confirmations", cc.Confirmations).
			Msg("configured chain")
	}

	sched, err := scheduler.New(store, entityStore, gw, registry, clients, networks, cfg.String("scheduler.snapshot_path"), *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build scheduler")
	}
	if err := sched.Reset(ctx, scheduler.ResetConfig{Functions: functions, Setups: setups}); err != nil {
		logger.Fatal().Err(err).Msg("failed to reset scheduler")
	}

	if publisher != nil {
		go publisher.Run(ctx, sched.EventsProcessed())
	}

	errChan := make(chan error, len(collectors)+1)
	for _, col := range collectors {
		col := col
		go func() { errChan <- col.Start(ctx) }()
	}
	go func() {
		for err := range sched.Errors() {
			if err != nil {
				errChan <- fmt.Errorf("scheduler: %w", err)
				return
			}
		}
	}()

	metricsAddr := cfg.String("metrics.address")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthAddr := cfg.String("health.address")
	healthServer := &http.Server{Addr: healthAddr, Handler: healthCheckHandler(collectors, publisher)}
	go func() {
		logger.Info().Str("address", healthAddr).Msg("starting health server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	cancel()
	if err := sched.Kill(context.Background()); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func openSyncStore(ctx context.Context, cfg *koanf.Koanf, logger zerolog.Logger) (syncstore.Store, error) {
	if dsn := cfg.String("postgres.dsn"); dsn != "" {
		return syncpostgres.NewStore(ctx, dsn, logger)
	}
	return syncsqlite.NewStore(ctx, cfg.String("sqlite.path"), logger)
}

// buildResetConfig builds the scheduler's function table by matching every
// config source's (Contract, Event) pair against the handler package's
// registered functions, expanding its log filter / factory into fragments
// via the same fingerprinting expansion the collector's Sync Store calls
// use, so both sides key on identical fragment IDs. One config source per
// (contract, event) pair is expected per chain; sources for the same pair
// across multiple chains fold into a single FunctionSpec with multiple
// ChainIDs, per spec §4.3's per-key (not per-chain) function state.
func buildResetConfig(chainConfigs *config.Config, names []string, registry *contracts.Registry, publisher *nats.Publisher) ([]scheduler.FunctionSpec, []scheduler.SetupSpec, error) {
	type key struct{ contract, event string }
	grouped := make(map[key]*scheduler.FunctionSpec)
	var order []key

	for _, name := range names {
		cc := chainConfigs.Chains[name]
		for _, src := range cc.Sources {
			k := key{src.Contract, src.Event}
			fn, ok := handler.ByContractEvent[src.Contract+":"+src.Event]
			if !ok {
				return nil, nil, fmt.Errorf("no registered indexing function for %s:%s", src.Contract, src.Event)
			}
			abiEvent, ok := registry.Event(src.Contract, src.Event)
			if !ok {
				return nil, nil, fmt.Errorf("no ABI event for %s:%s", src.Contract, src.Event)
			}

			spec, ok := grouped[k]
			if !ok {
				spec = &scheduler.FunctionSpec{
					Key:         src.Contract + ":" + src.Event,
					Contract:    src.Contract,
					Event:       src.Event,
					ABIEvent:    abiEvent,
					Handler:     decorate(fn, publisher),
					ReadTables:  []string{src.Contract},
					WriteTables: []string{src.Contract},
				}
				grouped[k] = spec
				order = append(order, k)
			}
			spec.ChainIDs = append(spec.ChainIDs, cc.ChainID)

			if src.LogFilter != nil {
				lf := models.LogFilter{
					ChainID:   cc.ChainID,
					Addresses: src.LogFilter.Addresses,
					Topics0:   src.LogFilter.Topics0,
					Topics1:   src.LogFilter.Topics1,
					Topics2:   src.LogFilter.Topics2,
					Topics3:   src.LogFilter.Topics3,
				}
				spec.LogFilters = append(spec.LogFilters, syncstore.ExpandLogFilter(lf)...)
			}
			if src.Factory != nil {
				f := models.Factory{
					ChainID:              cc.ChainID,
					Address:              src.Factory.Address,
					EventSelector:        src.Factory.EventSelector,
					ChildAddressLocation: models.ChildAddressLocation(src.Factory.ChildAddressLocation),
					ChildTopics0:         src.Factory.ChildTopics0,
				}
				spec.Factories = append(spec.Factories, syncstore.ExpandFactory(f)...)
			}
		}
	}

	functions := make([]scheduler.FunctionSpec, 0, len(order))
	for _, k := range order {
		functions = append(functions, *grouped[k])
	}
	return functions, nil, nil
}

// decorate wraps an indexing function so every invocation also publishes
// the event it was handed to NATS, keeping internal/nats ignorant of the
// function registry (spec §6's `publish` is something a function's wiring
// does, not something the function itself calls).
func decorate(fn scheduler.IndexingFunction, publisher *nats.Publisher) scheduler.IndexingFunction {
	if publisher == nil {
		return fn
	}
	return scheduler.IndexingFunctionFunc(func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
		if err := publisher.PublishEvent(ctx, event); err != nil {
			return err
		}
		return fn.Invoke(ctx, ictx, event)
	})
}

func defaultUint64(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// healthCheckHandler reports unhealthy if any collector's last realtime
// poll failed or the NATS publisher has dropped its connection.
func healthCheckHandler(collectors []*collector.Collector, publisher *nats.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if publisher != nil && !publisher.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: nats\n")
			return
		}
		for _, c := range collectors {
			if !c.Healthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "unhealthy: collector\n")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		for _, c := range collectors {
			synced, latest, _ := c.Status()
			fmt.Fprintf(w, "synced: %d latest: %d behind: %d\n", synced, latest, latest-synced)
		}
	}
}
