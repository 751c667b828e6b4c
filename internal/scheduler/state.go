package scheduler

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/pkg/models"
)

// FunctionSpec declares one indexing function at Reset: what it reads and
// writes (for dependency-graph construction), what it decodes (its ABI
// event and the fragments that feed it), and the handler to invoke.
type FunctionSpec struct {
	Key      string // "{Contract}:{Event}", spec §3's indexing-function state key
	Contract string
	Event    string
	ChainIDs []uint64
	ABIEvent abi.Event
	Handler  IndexingFunction

	LogFilters  []models.LogFilterFragment
	Factories   []models.FactoryFragment
	ReadTables  []string
	WriteTables []string
}

// SetupChain is one chain a setup function must run once for.
type SetupChain struct {
	ChainID     uint64
	NetworkName string
	StartBlock  uint64
}

// SetupSpec declares a "{Contract}:setup" function, run once per chain at a
// synthetic checkpoint (0, chainId, source.startBlock, 0).
type SetupSpec struct {
	Key      string
	Contract string
	Handler  SetupFunction
	Chains   []SetupChain
}

// ResetConfig is the `reset({indexingFunctions, schema, tableAccess,
// tableIds, functionIds})` argument of spec §4.3, flattened to what this
// implementation actually needs to rebuild state.
type ResetConfig struct {
	Functions []FunctionSpec
	Setups    []SetupSpec
}

// taskSlot tracks one buffered LOG task through its dispatch lifecycle:
// loaded, (maybe) dispatched to a worker, (eventually) done. Slots are
// popped off the front of loadedTasks only once done, in order, so a
// parent's tasksLoadedFromCheckpoint — which other keys' dispatch decisions
// depend on — never advances past work that hasn't actually completed.
type taskSlot struct {
	task       Task
	dispatched bool
	done       bool
}

// functionState is the in-memory indexing-function state of spec §3/§4.3.
type functionState struct {
	key             string
	contract        string
	event           string
	abiEvent        abi.Event
	handler         IndexingFunction
	logFilters      []models.LogFilterFragment
	factories       []models.FactoryFragment
	readTables      map[string]struct{}
	writeTables     map[string]struct{}
	parents         []string
	isSelfDependent bool

	tasksProcessedToCheckpoint checkpoint.Checkpoint
	tasksLoadedFromCheckpoint  checkpoint.Checkpoint
	tasksLoadedToCheckpoint    checkpoint.Checkpoint
	firstEventCheckpoint       checkpoint.Checkpoint
	lastEventCheckpoint        checkpoint.Checkpoint
	eventCount                 uint64

	loadedTasks []*taskSlot
	// inFlight guards serial dispatch (dispatch cases 1 and 3): only one
	// task of a self-dependent function may be in a worker at a time.
	inFlight bool
}

// pendingSlots returns every not-yet-dispatched slot in loadedTasks order.
// loadedTasks only grows at the tail and shrinks at the head, so the
// not-dispatched slots are always a contiguous suffix.
func (fs *functionState) pendingSlots() []*taskSlot {
	var out []*taskSlot
	for _, s := range fs.loadedTasks {
		if !s.dispatched {
			out = append(out, s)
		}
	}
	return out
}

// fullyLoaded reports spec §4.3's "fully loaded" predicate: no more events
// can be loaded for this key until the global checkpoint advances further.
func (fs *functionState) fullyLoaded(globalCheckpoint checkpoint.Checkpoint) bool {
	return checkpoint.GreaterOrEqual(fs.tasksLoadedToCheckpoint, fs.lastEventCheckpoint) &&
		checkpoint.GreaterOrEqual(fs.tasksLoadedToCheckpoint, globalCheckpoint)
}

// setupFunctionState tracks a "{Contract}:setup" function's per-chain
// completion, recorded in setupFunctionStates per spec §4.3.
type setupFunctionState struct {
	key      string
	contract string
	handler  SetupFunction
	chains   map[uint64]SetupChain
	done     map[uint64]bool
}

// buildParents implements spec §9's two-pass cyclic-reference resolution:
// collect write sets per table, invert into table→writers, then
// parents[f] = ⋃{writers(t) | t ∈ reads(f)} \ {f}.
func buildParents(functions []FunctionSpec) (parents map[string][]string, selfDependent map[string]bool) {
	tableWriters := make(map[string][]string)
	for _, f := range functions {
		for _, t := range f.WriteTables {
			tableWriters[t] = append(tableWriters[t], f.Key)
		}
	}

	parents = make(map[string][]string, len(functions))
	selfDependent = make(map[string]bool, len(functions))
	for _, f := range functions {
		writes := make(map[string]struct{}, len(f.WriteTables))
		for _, t := range f.WriteTables {
			writes[t] = struct{}{}
		}

		seen := make(map[string]struct{})
		var ps []string
		self := false
		for _, t := range f.ReadTables {
			if _, ok := writes[t]; ok {
				self = true
			}
			for _, w := range tableWriters[t] {
				if w == f.Key {
					continue
				}
				if _, dup := seen[w]; dup {
					continue
				}
				seen[w] = struct{}{}
				ps = append(ps, w)
			}
		}
		parents[f.Key] = ps
		selfDependent[f.Key] = self
	}
	return parents, selfDependent
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}
