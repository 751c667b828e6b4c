package postgres

import (
	"context"

	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// childAddressIterator pages through a factory's creation logs in ascending
// block-number order, extracting the child address from each row.
type childAddressIterator struct {
	store           *Store
	factory         models.Factory
	upToBlockNumber uint64
	pageSize        int
	loc             syncstore.ParsedChildAddressLocation
	lastBlockNumber uint64
	lastLogIndex    uint32
	started         bool
}

func (s *Store) GetFactoryChildAddresses(ctx context.Context, factory models.Factory, upToBlockNumber uint64, pageSize int) (syncstore.ChildAddressIterator, error) {
	loc, err := syncstore.ParseChildAddressLocation(factory.ChildAddressLocation)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &childAddressIterator{store: s, factory: factory, upToBlockNumber: upToBlockNumber, pageSize: pageSize, loc: loc}, nil
}

func (it *childAddressIterator) Next(ctx context.Context) (syncstore.ChildAddressPage, error) {
	var page syncstore.ChildAddressPage
	err := syncstore.WrapOp(ctx, "GetFactoryChildAddresses", func(ctx context.Context) error {
		startBlock, startLog := uint64(0), uint32(0)
		if it.started {
			startBlock, startLog = it.lastBlockNumber, it.lastLogIndex
		}
		it.started = true

		rows, err := it.store.pool.Query(ctx, `
			SELECT block_number, log_index, topic1, topic2, topic3, data
			FROM logs
			WHERE chain_id = $1 AND address = $2 AND topic0 = $3 AND removed = FALSE
			  AND block_number <= $4
			  AND (block_number, log_index) > ($5, $6)
			ORDER BY block_number ASC, log_index ASC
			LIMIT $7`,
			it.factory.ChainID, it.factory.Address, it.factory.EventSelector, it.upToBlockNumber,
			startBlock, startLog, it.pageSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		var addrs []string
		for rows.Next() {
			var blockNumber uint64
			var logIndex uint32
			var t1, t2, t3 string
			var data []byte
			if err := rows.Scan(&blockNumber, &logIndex, &t1, &t2, &t3, &data); err != nil {
				return err
			}
			addr, err := syncstore.ExtractChildAddress(it.loc, [4]string{"", t1, t2, t3}, data)
			if err != nil {
				return err
			}
			addrs = append(addrs, addr)
			it.lastBlockNumber, it.lastLogIndex = blockNumber, logIndex
		}
		if err := rows.Err(); err != nil {
			return err
		}

		page = syncstore.ChildAddressPage{Addresses: addrs, Exhausted: len(addrs) < it.pageSize}
		return nil
	})
	return page, err
}
