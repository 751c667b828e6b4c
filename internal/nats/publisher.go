// Package nats provides NATS JetStream publishing functionality.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/pkg/models"
)

const (
	// streamName is the NATS JetStream stream name.
	streamName = "EVMINDEX"

	// streamCreateTimeout is the timeout for stream creation.
	streamCreateTimeout = 10 * time.Second
)

// progressMessage is the payload published to "{prefix}.progress": the
// scheduler's global eventsProcessed checkpoint, the signal downstream
// consumers watch to know how far the totally-ordered event stream has
// advanced (spec §4.3's "Emit eventsProcessed").
type progressMessage struct {
	BlockTimestamp uint64 `json:"blockTimestamp"`
	ChainID        uint64 `json:"chainId"`
	BlockNumber    uint64 `json:"blockNumber"`
}

// Publisher publishes decoded events and scheduler progress to NATS
// JetStream with deduplication.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger *zerolog.Logger
	prefix string
}

// NewPublisher creates a new NATS JetStream publisher. subjectPrefix widens
// the stream's subject space to "{prefix}.{contract}.{event}" for decoded
// events and "{prefix}.progress" for scheduler checkpoints, generalized from
// the teacher's fixed "POLYMARKET.*" single-stream pattern to an arbitrary
// number of contracts/events per deployment.
func NewPublisher(natsURL string, persistDuration time.Duration, subjectPrefix string, logger *zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("evmindex"),
		nats.MaxReconnects(-1), // unlimited reconnects
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	duplicateWindow := 20 * time.Minute
	subjectPattern := subjectPrefix + ".>"
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", subjectPattern).
		Dur("max_age", persistDuration).
		Dur("duplicate_window", duplicateWindow).
		Msg("NATS publisher initialized")

	return &Publisher{
		js:     js,
		nc:     nc,
		logger: logger,
		prefix: subjectPrefix,
	}, nil
}

// PublishEvent publishes a decoded event to "{prefix}.{contract}.{event}"
// with deduplication keyed by (txHash, logIndex).
func (p *Publisher) PublishEvent(ctx context.Context, ev models.DecodedEvent) error {
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, ev.Contract, ev.Event)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%d", ev.Log.TransactionHash, ev.Log.LogIndex)

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("subject", subject).
			Str("msg_id", msgID).
			Uint64("block", ev.Log.BlockNumber).
			Msg("failed to publish event")
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("contract", ev.Contract).
		Str("event", ev.Event).
		Uint64("block", ev.Log.BlockNumber).
		Str("tx", ev.Log.TransactionHash).
		Msg("event published")

	return nil
}

// PublishEvents publishes multiple decoded events in sequence.
func (p *Publisher) PublishEvents(ctx context.Context, events []models.DecodedEvent) error {
	for _, ev := range events {
		if err := p.PublishEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishProgress publishes a scheduler eventsProcessed checkpoint to
// "{prefix}.progress". Deduplicated by the checkpoint itself: re-publishing
// the same (timestamp, chain, block) is a no-op for any consumer tracking
// high-water marks, so no explicit msg-id is needed here.
func (p *Publisher) PublishProgress(ctx context.Context, cp checkpoint.Checkpoint) error {
	subject := p.prefix + ".progress"

	data, err := json.Marshal(progressMessage{
		BlockTimestamp: cp.BlockTimestamp,
		ChainID:        cp.ChainID,
		BlockNumber:    cp.BlockNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal progress checkpoint: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish progress")
		return fmt.Errorf("failed to publish progress to NATS: %w", err)
	}
	return nil
}

// Run drains a scheduler's EventsProcessed channel into PublishProgress
// until ctx is canceled, logging (not failing) individual publish errors so
// a transient NATS hiccup never stalls the scheduler's progress channel.
func (p *Publisher) Run(ctx context.Context, progress <-chan checkpoint.Checkpoint) {
	for {
		select {
		case <-ctx.Done():
			return
		case cp, ok := <-progress:
			if !ok {
				return
			}
			if err := p.PublishProgress(ctx, cp); err != nil {
				p.logger.Error().Err(err).Msg("progress publish failed, continuing")
			}
		}
	}
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("NATS publisher closed")
	}
}

// Healthy checks if the NATS connection is healthy.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
