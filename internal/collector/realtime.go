package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// RunRealtime polls for new blocks at cfg.PollInterval, grounded on the
// teacher's runRealtime/syncToHead: a ticker loop that advances one block at
// a time, tracks health for readiness probes, and falls back to a
// historical catch-up pass if it ever falls too far behind. Reorgs are
// handled by rewinding cfg.Confirmations blocks (the shallow-reorg case
// spec §6 names) rather than walking back to find a common ancestor.
func (c *Collector) RunRealtime(ctx context.Context) error {
	c.logger.Info().Dur("poll_interval", c.cfg.PollInterval).Msg("starting realtime mode")
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.pollOnce(ctx); err != nil {
				c.recordError("poll")
				c.logger.Error().Err(err).Msg("realtime poll failed")
				c.setHealthy(false)
				continue
			}
			c.setHealthy(true)
		}
	}
}

func (c *Collector) pollOnce(ctx context.Context) error {
	latest, err := c.client.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()
	chainHeight.WithLabelValues(c.chainLabel()).Set(float64(latest))

	safe := c.safeHead(latest)

	c.mu.RLock()
	current := c.synced
	c.mu.RUnlock()

	if current >= safe {
		blocksBehind.WithLabelValues(c.chainLabel()).Set(0)
		return nil
	}

	behind := safe - current
	blocksBehind.WithLabelValues(c.chainLabel()).Set(float64(behind))

	if behind > c.cfg.BatchSize*2 {
		c.logger.Warn().Uint64("behind", behind).Msg("fell too far behind realtime, running a historical catch-up pass")
		if err := c.RunHistorical(ctx); err != nil {
			return err
		}
		c.setSynced(safe)
		return nil
	}

	for block := current + 1; block <= safe; block++ {
		reorged, err := c.processRealtimeBlock(ctx, block)
		if err != nil {
			return fmt.Errorf("process block %d: %w", block, err)
		}
		if reorged {
			// processRealtimeBlock already rewound c.synced; restart the poll
			// from the new tip rather than continuing the stale range.
			return nil
		}
	}

	return c.finalizeRealtimeRange(ctx, current, safe)
}

// processRealtimeBlock fetches and inserts one block's data, detecting a
// shallow reorg by comparing the fetched block's parent hash against the
// previously recorded tip. Returns (true, nil) if a reorg was handled and
// the caller should restart its poll.
func (c *Collector) processRealtimeBlock(ctx context.Context, number uint64) (bool, error) {
	block, err := c.client.GetBlockByNumber(ctx, number)
	if err != nil {
		c.recordError("get_block")
		return false, err
	}

	c.mu.RLock()
	expectedParent := c.tipHash
	c.mu.RUnlock()

	if expectedParent != "" && block.ParentHash().Hex() != expectedParent {
		return true, c.handleReorg(ctx, number)
	}

	logs, err := c.client.FilterLogs(ctx, realtimeBlockQuery(number))
	if err != nil {
		c.recordError("filter_logs")
		return false, err
	}
	txs, err := c.transactionsForLogs(ctx, logs, block)
	if err != nil {
		c.recordError("get_block")
		return false, err
	}

	modelBlock := toModelBlock(block, c.cfg.ChainID)
	if err := c.store.InsertRealtimeBlock(ctx, modelBlock, txs, toModelLogs(logs, c.cfg.ChainID)); err != nil {
		return false, fmt.Errorf("insert realtime block %d: %w", number, err)
	}

	c.mu.Lock()
	c.tipHash = block.Hash().Hex()
	c.mu.Unlock()
	c.setSynced(number)
	c.gateway.HandleNewRealtimeCheckpoint(c.blockCheckpoint(modelBlock))
	return false, nil
}

// handleReorg rewinds cfg.Confirmations blocks below the reorg point,
// deletes realtime data back to that point, and notifies the gateway so the
// scheduler can revert entity-store state built on top of it.
func (c *Collector) handleReorg(ctx context.Context, detectedAt uint64) error {
	rewindTo := uint64(0)
	if detectedAt > c.cfg.Confirmations {
		rewindTo = detectedAt - c.cfg.Confirmations
	}

	safeBlock, err := c.client.GetBlockByNumber(ctx, rewindTo)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("reorg: get rewind block %d: %w", rewindTo, err)
	}
	safeCheckpoint := c.blockCheckpoint(toModelBlock(safeBlock, c.cfg.ChainID))

	if err := c.store.DeleteRealtimeData(ctx, c.cfg.ChainID, rewindTo); err != nil {
		return fmt.Errorf("reorg: delete realtime data above %d: %w", rewindTo, err)
	}

	c.mu.Lock()
	c.synced = rewindTo
	c.tipHash = safeBlock.Hash().Hex()
	c.mu.Unlock()
	collectorHeight.WithLabelValues(c.chainLabel()).Set(float64(rewindTo))

	c.logger.Warn().Uint64("detected_at", detectedAt).Uint64("rewound_to", rewindTo).Msg("shallow reorg detected")
	c.gateway.HandleReorg(safeCheckpoint)
	return nil
}

// finalizeRealtimeRange marks [from+1, to] final once it has cleared
// cfg.Confirmations, writing the interval row and emitting a finality
// checkpoint for the scheduler's flush path.
func (c *Collector) finalizeRealtimeRange(ctx context.Context, from, to uint64) error {
	if to <= from {
		return nil
	}
	refs := fragmentRefs(c.sources)
	if len(refs) > 0 {
		iv := models.Interval{Start: from + 1, End: to}
		if err := c.store.InsertRealtimeInterval(ctx, c.cfg.ChainID, refs, iv); err != nil {
			return fmt.Errorf("insert realtime interval %d-%d: %w", from+1, to, err)
		}
	}

	finalBlock, err := c.client.GetBlockByNumber(ctx, to)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("get finality block %d: %w", to, err)
	}
	c.gateway.HandleNewFinalityCheckpoint(c.blockCheckpoint(toModelBlock(finalBlock, c.cfg.ChainID)))
	return nil
}

func fragmentRefs(sources Sources) []syncstore.FragmentRef {
	var refs []syncstore.FragmentRef
	for _, f := range sources.LogFilters {
		for _, frag := range syncstore.ExpandLogFilter(f) {
			refs = append(refs, syncstore.FragmentRef{ID: frag.ID})
		}
	}
	for _, f := range sources.Factories {
		for _, frag := range syncstore.ExpandFactory(f) {
			refs = append(refs, syncstore.FragmentRef{ID: frag.ID, IsFactory: true})
		}
	}
	return refs
}

// realtimeBlockQuery fetches every log in a block with no address/topic
// restriction, mirroring insertRealtimeBlock's full block/tx/log capture
// (spec §6: "same idempotent upserts as historical").
func realtimeBlockQuery(number uint64) ethereum.FilterQuery {
	return buildFilterQuery(nil, nil, number, number)
}
