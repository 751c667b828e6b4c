// Consumer service - reads decoded events from NATS and materializes them
// into a Postgres read model, independent of the indexer's own Entity
// Store. Generalized from the teacher's nine hand-written storeX functions
// (one fixed table per Polymarket event type) into one generic sink keyed
// by (chain_id, tx_hash, log_index): the new NATS subject taxonomy
// ("{prefix}.{contract}.{event}") carries an arbitrary contract/event
// combination per deployment, not two fixed contracts, so there is no
// longer a fixed set of destination tables to switch over.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/util"
	"github.com/0xkanth/evmindex/pkg/models"
)

var (
	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindex_consumer_events_consumed_total",
		Help: "Total number of events consumed from NATS",
	}, []string{"contract", "event"})

	eventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindex_consumer_events_stored_total",
		Help: "Total number of events stored in the read model",
	}, []string{"contract", "event"})

	consumeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindex_consumer_errors_total",
		Help: "Total number of consume errors",
	}, []string{"error_type"})

	processingLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evmindex_consumer_lag_seconds",
		Help: "Time lag between event occurrence and processing",
	})

	progressLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evmindex_consumer_progress_lag_seconds",
		Help: "Time lag between a progress checkpoint's block and now, per chain",
	}, []string{"chain_id"})
)

func main() {
	logger := util.InitLogger()
	logger.Info().Msg("starting evmindex consumer")

	cfg := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(cfg, logger)

	dbConfig := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.String("postgres.host"),
		cfg.Int("postgres.port"),
		cfg.String("postgres.user"),
		cfg.String("postgres.password"),
		cfg.String("postgres.database"),
		cfg.String("postgres.sslmode"),
	)

	pool, err := pgxpool.New(context.Background(), dbConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	logger.Info().
		Str("host", cfg.String("postgres.host")).
		Str("database", cfg.String("postgres.database")).
		Msg("connected to database")

	nc, err := nats.Connect(cfg.String("nats.url"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.String("nats.url")).Msg("connected to nats")

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jetstream context")
	}

	streamName := cfg.String("nats.stream_name")
	consumerName := cfg.String("nats.consumer_name")
	subjectPrefix := cfg.String("nats.subject_prefix")

	consumer, err := js.CreateOrUpdateConsumer(context.Background(), streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		FilterSubject: subjectPrefix + ".>",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create consumer")
	}
	logger.Info().
		Str("stream", streamName).
		Str("consumer", consumerName).
		Str("filter", subjectPrefix+".>").
		Msg("created consumer")

	metricsAddr := cfg.String("metrics.address")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	progressSuffix := subjectPrefix + ".progress"
	consCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var procErr error
		if msg.Subject() == progressSuffix {
			procErr = processProgress(msg)
		} else {
			procErr = processEvent(ctx, pool, msg, *logger)
		}
		if procErr != nil {
			consumeErrors.WithLabelValues("process_message").Inc()
			logger.Error().Err(procErr).Str("subject", msg.Subject()).Msg("failed to process message")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consCtx.Stop()

	logger.Info().Msg("consumer started, waiting for messages")

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// progressMessage mirrors internal/nats's unexported payload shape for the
// "{prefix}.progress" subject; this package only reads it, so it declares
// its own copy rather than depending on an internal package.
type progressMessage struct {
	BlockTimestamp uint64 `json:"blockTimestamp"`
	ChainID        uint64 `json:"chainId"`
	BlockNumber    uint64 `json:"blockNumber"`
}

func processProgress(msg jetstream.Msg) error {
	var p progressMessage
	if err := json.Unmarshal(msg.Data(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal progress checkpoint: %w", err)
	}
	lag := time.Since(time.Unix(int64(p.BlockTimestamp), 0))
	progressLag.WithLabelValues(fmt.Sprintf("%d", p.ChainID)).Set(lag.Seconds())
	return nil
}

// processEvent processes a single decoded-event NATS message.
func processEvent(ctx context.Context, pool *pgxpool.Pool, msg jetstream.Msg, logger zerolog.Logger) error {
	var event models.DecodedEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	lag := time.Since(time.Unix(int64(event.Block.Timestamp), 0))
	processingLag.Set(lag.Seconds())

	eventsConsumed.WithLabelValues(event.Contract, event.Event).Inc()
	logger.Debug().
		Str("contract", event.Contract).
		Str("event", event.Event).
		Uint64("block", event.Block.Number).
		Str("tx", event.Log.TransactionHash).
		Msg("processing event")

	if err := storeEvent(ctx, pool, event); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	eventsStored.WithLabelValues(event.Contract, event.Event).Inc()
	return nil
}

// storeEvent upserts one decoded event into the generic read-model table,
// keyed by (chain_id, transaction_hash, log_index) so reprocessing a
// re-delivered NATS message (AckExplicit with MaxDeliver>1) is idempotent.
func storeEvent(ctx context.Context, pool *pgxpool.Pool, event models.DecodedEvent) error {
	argsJSON, err := json.Marshal(event.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	query := `
		INSERT INTO indexed_events (
			chain_id, block_number, block_timestamp, transaction_hash, log_index,
			contract_address, contract, event, args
		) VALUES ($1, $2, to_timestamp($3), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain_id, transaction_hash, log_index) DO UPDATE SET
			args = EXCLUDED.args
	`

	_, err = pool.Exec(ctx, query,
		event.ChainID,
		event.Block.Number,
		event.Block.Timestamp,
		event.Log.TransactionHash,
		event.Log.LogIndex,
		strings.ToLower(event.Log.Address),
		event.Contract,
		event.Event,
		argsJSON,
	)
	return err
}
