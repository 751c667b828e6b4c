package rpc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// fakeStore implements syncstore.Store with only the Rpc* methods backed by
// an in-memory map; every other method is unused by these tests.
type fakeStore struct {
	mu      sync.Mutex
	results map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{results: make(map[string]string)} }

func (s *fakeStore) key(chainID, blockNumber uint64, request string) string {
	return fmt.Sprintf("%d:%d:%s", chainID, blockNumber, request)
}

func (s *fakeStore) InsertRpcRequestResult(ctx context.Context, r models.RpcRequestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[s.key(r.ChainID, r.BlockNumber, r.Request)] = r.Result
	return nil
}

func (s *fakeStore) GetRpcRequestResult(ctx context.Context, chainID uint64, blockNumber uint64, request string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.results[s.key(chainID, blockNumber, request)]
	return v, ok, nil
}

func (s *fakeStore) InsertLogFilterInterval(ctx context.Context, chainID uint64, filter models.LogFilter, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error {
	return nil
}
func (s *fakeStore) GetLogFilterIntervals(ctx context.Context, chainID uint64, filter models.LogFilter) ([]models.Interval, error) {
	return nil, nil
}
func (s *fakeStore) InsertFactoryLogFilterInterval(ctx context.Context, factory models.Factory, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error {
	return nil
}
func (s *fakeStore) GetFactoryLogFilterIntervals(ctx context.Context, factory models.Factory) ([]models.Interval, error) {
	return nil, nil
}
func (s *fakeStore) InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, logs []models.Log) error {
	return nil
}
func (s *fakeStore) GetFactoryChildAddresses(ctx context.Context, factory models.Factory, upToBlockNumber uint64, pageSize int) (syncstore.ChildAddressIterator, error) {
	return nil, nil
}
func (s *fakeStore) InsertRealtimeBlock(ctx context.Context, block models.Block, txs []models.Transaction, logs []models.Log) error {
	return nil
}
func (s *fakeStore) InsertRealtimeInterval(ctx context.Context, chainID uint64, sources []syncstore.FragmentRef, iv models.Interval) error {
	return nil
}
func (s *fakeStore) DeleteRealtimeData(ctx context.Context, chainID uint64, fromBlock uint64) error {
	return nil
}
func (s *fakeStore) GetLogEvents(ctx context.Context, params syncstore.GetLogEventsParams) (models.EventPage, error) {
	return models.EventPage{}, nil
}
func (s *fakeStore) UpsertFunctionMetadata(ctx context.Context, m models.FunctionMetadata) error {
	return nil
}
func (s *fakeStore) ListFunctionMetadata(ctx context.Context) ([]models.FunctionMetadata, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

func TestRequestHashDeterministic(t *testing.T) {
	a := RequestHash("eth_getBlockByNumber", []any{uint64(100)})
	b := RequestHash("eth_getBlockByNumber", []any{uint64(100)})
	require.Equal(t, a, b)

	c := RequestHash("eth_getBlockByNumber", []any{uint64(101)})
	require.NotEqual(t, a, c)
}

func TestCachedCallServesFromCacheOnSecondCall(t *testing.T) {
	store := newFakeStore()
	client := &Client{chainID: 1, store: store, logger: zerolog.Nop()}

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "result-1", nil
	}

	v1, err := client.cachedCall(context.Background(), 100, "eth_call", []any{"0xabc"}, fn)
	require.NoError(t, err)
	require.Equal(t, "result-1", v1)
	require.Equal(t, 1, calls)

	v2, err := client.cachedCall(context.Background(), 100, "eth_call", []any{"0xabc"}, fn)
	require.NoError(t, err)
	require.Equal(t, "result-1", v2)
	require.Equal(t, 1, calls, "second call should be served from cache, not invoke fn again")
}
