package collector

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xkanth/evmindex/internal/interval"
	"github.com/0xkanth/evmindex/pkg/models"
)

// RunHistorical backfills every configured log filter and factory from
// cfg.StartBlock up to the current confirmation-depth safe head, grounded on
// the teacher's Syncer.runBackfill: fetch the latest block once, compute a
// safe head below it, then drive batches through a worker pool.
func (c *Collector) RunHistorical(ctx context.Context) error {
	latest, err := c.client.GetLatestBlockNumber(ctx)
	if err != nil {
		c.recordError("get_latest_block")
		return fmt.Errorf("collector: get latest block: %w", err)
	}
	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()
	chainHeight.WithLabelValues(c.chainLabel()).Set(float64(latest))

	safe := c.safeHead(latest)
	c.logger.Info().Uint64("latest", latest).Uint64("safe_head", safe).Msg("starting historical backfill")

	for _, f := range c.sources.LogFilters {
		if err := c.backfillLogFilter(ctx, f, safe); err != nil {
			return err
		}
	}
	for _, f := range c.sources.Factories {
		if err := c.backfillFactory(ctx, f, safe); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) backfillLogFilter(ctx context.Context, filter models.LogFilter, safeHead uint64) error {
	if c.cfg.StartBlock > safeHead {
		return nil
	}
	synced, err := c.store.GetLogFilterIntervals(ctx, c.cfg.ChainID, filter)
	if err != nil {
		return fmt.Errorf("collector: get log filter intervals: %w", err)
	}
	gaps := interval.Difference(
		[]interval.Interval{{Start: c.cfg.StartBlock, End: safeHead}},
		toIntervalSlice(synced),
	)
	return c.processGaps(ctx, gaps, func(ctx context.Context, from, to uint64) error {
		return c.backfillLogFilterRange(ctx, filter, from, to)
	})
}

func (c *Collector) backfillLogFilterRange(ctx context.Context, filter models.LogFilter, from, to uint64) error {
	logs, err := c.client.FilterLogs(ctx, buildFilterQuery(filter.Addresses, [][]string{filter.Topics0, filter.Topics1, filter.Topics2, filter.Topics3}, from, to))
	if err != nil {
		c.recordError("filter_logs")
		return fmt.Errorf("collector: filter logs %d-%d: %w", from, to, err)
	}

	endBlock, err := c.client.GetBlockByNumber(ctx, to)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("collector: get block %d: %w", to, err)
	}

	txs, err := c.transactionsForLogs(ctx, logs, endBlock)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("collector: resolve transactions for %d-%d: %w", from, to, err)
	}

	modelBlock := toModelBlock(endBlock, c.cfg.ChainID)
	iv := models.Interval{Start: from, End: to}
	if err := c.store.InsertLogFilterInterval(ctx, c.cfg.ChainID, filter, modelBlock, txs, toModelLogs(logs, c.cfg.ChainID), iv); err != nil {
		return fmt.Errorf("collector: insert log filter interval %d-%d: %w", from, to, err)
	}

	c.setSynced(to)
	c.gateway.HandleNewHistoricalCheckpoint(c.blockCheckpoint(modelBlock))
	return nil
}

func (c *Collector) backfillFactory(ctx context.Context, factory models.Factory, safeHead uint64) error {
	if c.cfg.StartBlock > safeHead {
		return nil
	}
	synced, err := c.store.GetFactoryLogFilterIntervals(ctx, factory)
	if err != nil {
		return fmt.Errorf("collector: get factory log filter intervals: %w", err)
	}
	gaps := interval.Difference(
		[]interval.Interval{{Start: c.cfg.StartBlock, End: safeHead}},
		toIntervalSlice(synced),
	)
	if err := c.processGaps(ctx, gaps, func(ctx context.Context, from, to uint64) error {
		return c.backfillFactoryRange(ctx, factory, from, to)
	}); err != nil {
		return err
	}
	return c.backfillFactoryChildren(ctx, factory, safeHead)
}

func (c *Collector) backfillFactoryRange(ctx context.Context, factory models.Factory, from, to uint64) error {
	query := buildFilterQuery([]string{factory.Address}, [][]string{{factory.EventSelector}}, from, to)
	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		c.recordError("filter_logs")
		return fmt.Errorf("collector: filter factory logs %d-%d: %w", from, to, err)
	}

	if err := c.store.InsertFactoryChildAddressLogs(ctx, c.cfg.ChainID, toModelLogs(logs, c.cfg.ChainID)); err != nil {
		return fmt.Errorf("collector: insert factory child logs: %w", err)
	}

	endBlock, err := c.client.GetBlockByNumber(ctx, to)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("collector: get block %d: %w", to, err)
	}
	txs, err := c.transactionsForLogs(ctx, logs, endBlock)
	if err != nil {
		c.recordError("get_block")
		return fmt.Errorf("collector: resolve transactions for factory range %d-%d: %w", from, to, err)
	}

	modelBlock := toModelBlock(endBlock, c.cfg.ChainID)
	iv := models.Interval{Start: from, End: to}
	if err := c.store.InsertFactoryLogFilterInterval(ctx, factory, modelBlock, txs, toModelLogs(logs, c.cfg.ChainID), iv); err != nil {
		return fmt.Errorf("collector: insert factory log filter interval %d-%d: %w", from, to, err)
	}

	c.setSynced(to)
	c.gateway.HandleNewHistoricalCheckpoint(c.blockCheckpoint(modelBlock))
	return nil
}

// backfillFactoryChildren pages through every address the factory has
// discovered so far and folds them into a synthetic LogFilter backfill, per
// SPEC_FULL.md's factory collector description.
func (c *Collector) backfillFactoryChildren(ctx context.Context, factory models.Factory, safeHead uint64) error {
	const pageSize = 500

	iter, err := c.store.GetFactoryChildAddresses(ctx, factory, safeHead, pageSize)
	if err != nil {
		return fmt.Errorf("collector: get factory child addresses: %w", err)
	}

	var addrs []string
	for {
		page, err := iter.Next(ctx)
		if err != nil {
			return fmt.Errorf("collector: factory child address page: %w", err)
		}
		addrs = append(addrs, page.Addresses...)
		if page.Exhausted {
			break
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	childFilter := models.LogFilter{
		ChainID:   factory.ChainID,
		Addresses: addrs,
		Topics0:   factory.ChildTopics0,
	}
	return c.backfillLogFilter(ctx, childFilter, safeHead)
}

// transactionsForLogs resolves the deduplicated set of transactions touched
// by logs, fetching any block other than endBlock that a log falls in.
func (c *Collector) transactionsForLogs(ctx context.Context, logs []types.Log, endBlock *types.Block) ([]models.Transaction, error) {
	var out []models.Transaction
	seen := make(map[string]bool, len(logs))
	for _, l := range logs {
		hash := l.TxHash.Hex()
		if seen[hash] {
			continue
		}
		seen[hash] = true

		blk := endBlock
		if l.BlockNumber != endBlock.NumberU64() {
			b, err := c.client.GetBlockByNumber(ctx, l.BlockNumber)
			if err != nil {
				return nil, err
			}
			blk = b
		}
		if tx, ok := transactionByHash(blk, c.cfg.ChainID, hash); ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

// processGaps splits each gap into cfg.BatchSize chunks and drains them
// through a bounded worker pool, grounded on Syncer.processBatch's
// WaitGroup-plus-error-channel shape. Unlike processBatch's static equal
// split, gaps here are already the exact ranges still missing from the Sync
// Store, so chunking is a straight walk rather than a division.
func (c *Collector) processGaps(ctx context.Context, gaps []interval.Interval, fn func(ctx context.Context, from, to uint64) error) error {
	type chunk struct{ from, to uint64 }

	var chunks []chunk
	for _, g := range gaps {
		for from := g.Start; from <= g.End; from += c.cfg.BatchSize {
			to := from + c.cfg.BatchSize - 1
			if to > g.End {
				to = g.End
			}
			chunks = append(chunks, chunk{from, to})
			if to == g.End {
				break
			}
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan chunk)
	errCh := make(chan error, len(chunks))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				if err := fn(ctx, ch.from, ch.to); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

feed:
	for _, ch := range chunks {
		select {
		case jobs <- ch:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func toIntervalSlice(ivs []models.Interval) []interval.Interval {
	out := make([]interval.Interval, len(ivs))
	for i, iv := range ivs {
		out[i] = interval.Interval{Start: iv.Start, End: iv.End}
	}
	return out
}

// buildFilterQuery assembles an eth_getLogs query from a LogFilter's
// Addresses/Topics0-3 slots, trimming trailing wildcard topic slots so a
// filter that only constrains Topics0 doesn't also require topics 1-3 to be
// present.
func buildFilterQuery(addresses []string, topicSlots [][]string, from, to uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	for _, a := range addresses {
		q.Addresses = append(q.Addresses, common.HexToAddress(a))
	}
	for _, slot := range topicSlots {
		if len(slot) == 0 {
			q.Topics = append(q.Topics, nil)
			continue
		}
		hashes := make([]common.Hash, len(slot))
		for i, t := range slot {
			hashes[i] = common.HexToHash(t)
		}
		q.Topics = append(q.Topics, hashes)
	}
	for len(q.Topics) > 0 && q.Topics[len(q.Topics)-1] == nil {
		q.Topics = q.Topics[:len(q.Topics)-1]
	}
	return q
}
