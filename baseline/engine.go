package baseline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"procwatch/core"
	"procwatch/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Config holds configuration for the baseline engine.
type Config struct {
	Sigma      float64 // control-chart multiplier k (default 3.0)
	MinSamples int64   // minimum sample count before stored stats are trusted (default 2)
	CacheSize  int     // snapshot LRU size (default 128)
	Logger     *zap.SugaredLogger
}

// Engine computes and maintains column baselines. Reads go through an LRU
// snapshot cache; updates run inside the caller's commit transaction and are
// serialized per process identity through keyed locks.
type Engine struct {
	store      *storage.BaselineStorage
	sigma      float64
	minSamples int64
	logger     *zap.SugaredLogger

	cache *lru.Cache[string, *core.BaselineSnapshot]

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	gens  map[string]uint64
}

// NewEngine creates a new baseline engine.
func NewEngine(store *storage.BaselineStorage, config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Sigma == 0 {
		config.Sigma = core.DefaultSigma
	}
	if config.MinSamples == 0 {
		config.MinSamples = core.DefaultMinSamples
	}
	if config.CacheSize == 0 {
		config.CacheSize = 128
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	cache, err := lru.New[string, *core.BaselineSnapshot](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	return &Engine{
		store:      store,
		sigma:      config.Sigma,
		minSamples: config.MinSamples,
		logger:     config.Logger,
		cache:      cache,
		locks:      make(map[string]*sync.Mutex),
		gens:       make(map[string]uint64),
	}, nil
}

// Sigma returns the configured control-chart multiplier.
func (e *Engine) Sigma() float64 {
	return e.sigma
}

// Lock acquires the update lock for a process identity and returns the
// unlock function. Two batches of the same process never race on the
// running-aggregate update; different identities proceed in parallel.
func (e *Engine) Lock(processIdentity string) func() {
	e.mu.Lock()
	l, ok := e.locks[processIdentity]
	if !ok {
		l = &sync.Mutex{}
		e.locks[processIdentity] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Snapshot returns the baseline state for a process identity as it exists
// right now, for the requested columns. When the stored history is missing
// or too thin (below MinSamples) for any requested column, the snapshot
// comes back marked Source=self with in-batch statistics computed from rows:
// the cold-start policy. Scoring always receives the snapshot as a value and
// never reaches back into the engine.
func (e *Engine) Snapshot(ctx context.Context, processIdentity string, columns []core.Column, rows []core.NumericRow) (*core.BaselineSnapshot, error) {
	stored, err := e.storedSnapshot(ctx, processIdentity)
	if err != nil {
		return nil, err
	}

	if e.usable(stored, columns) {
		return stored, nil
	}
	return e.selfSnapshot(processIdentity, columns, rows), nil
}

// storedSnapshot returns the cached or freshly loaded history snapshot.
func (e *Engine) storedSnapshot(ctx context.Context, processIdentity string) (*core.BaselineSnapshot, error) {
	if snap, ok := e.cache.Get(processIdentity); ok {
		return snap, nil
	}

	gen := e.generation(processIdentity)
	baselines, err := e.store.GetBaselines(ctx, processIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to load baselines for %s: %w", processIdentity, err)
	}

	snap := &core.BaselineSnapshot{
		ProcessIdentity: processIdentity,
		Source:          core.BaselineSourceHistory,
		Sigma:           e.sigma,
		Columns:         make(map[string]core.ColumnStats, len(baselines)),
	}
	for _, b := range baselines {
		snap.Columns[b.Column] = core.ColumnStats{
			Mean:        b.Mean,
			M2:          b.M2,
			StdDev:      b.StdDev,
			SampleCount: b.SampleCount,
			LowerLimit:  b.LowerLimit,
			UpperLimit:  b.UpperLimit,
		}
	}

	e.cacheIfCurrent(processIdentity, gen, snap)
	return snap, nil
}

// generation returns the invalidation counter for a process identity.
func (e *Engine) generation(processIdentity string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gens[processIdentity]
}

// cacheIfCurrent stores a snapshot only if no Invalidate happened since the
// load started. A loader that read the baselines before a concurrent commit
// would otherwise re-populate the cache with pre-commit state.
func (e *Engine) cacheIfCurrent(processIdentity string, gen uint64, snap *core.BaselineSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gens[processIdentity] == gen {
		e.cache.Add(processIdentity, snap)
	}
}

// usable reports whether the stored snapshot has enough history for every
// requested column.
func (e *Engine) usable(snap *core.BaselineSnapshot, columns []core.Column) bool {
	if len(columns) == 0 {
		return false
	}
	for _, col := range columns {
		stats, ok := snap.Columns[col.Name]
		if !ok || stats.SampleCount < e.minSamples {
			return false
		}
	}
	return true
}

// selfSnapshot builds in-batch statistics for a cold start. The batch is
// judged only against itself; no external baseline with a degenerate sample
// count is ever consulted.
func (e *Engine) selfSnapshot(processIdentity string, columns []core.Column, rows []core.NumericRow) *core.BaselineSnapshot {
	stats := AccumulateRows(rows, columns)

	snap := &core.BaselineSnapshot{
		ProcessIdentity: processIdentity,
		Source:          core.BaselineSourceSelf,
		Sigma:           e.sigma,
		Columns:         make(map[string]core.ColumnStats, len(columns)),
	}
	for name, s := range stats {
		b := core.ColumnBaseline{Mean: s.Mean, M2: s.M2, SampleCount: s.Count}
		b.Derive(e.sigma)
		snap.Columns[name] = core.ColumnStats{
			Mean:        b.Mean,
			M2:          b.M2,
			StdDev:      b.StdDev,
			SampleCount: b.SampleCount,
			LowerLimit:  b.LowerLimit,
			UpperLimit:  b.UpperLimit,
		}
	}
	return snap
}

// ApplyBatchTx merges a batch's per-column aggregates into the stored
// baselines, inside the caller's commit transaction. This is the last step
// of a successful run; scoring has already happened against the pre-update
// snapshot, so the batch never contaminates its own judgment. The caller
// must hold Lock(processIdentity) and call Invalidate after the commit.
func (e *Engine) ApplyBatchTx(tx *sql.Tx, processIdentity, batchID string, stats map[string]BatchStats) error {
	current, err := storage.GetBaselinesTx(tx, processIdentity)
	if err != nil {
		return err
	}
	byColumn := make(map[string]*core.ColumnBaseline, len(current))
	for i := range current {
		byColumn[current[i].Column] = &current[i]
	}

	now := time.Now().UTC()
	for column, s := range stats {
		if s.Count == 0 {
			continue
		}
		b, ok := byColumn[column]
		if !ok {
			b = &core.ColumnBaseline{
				ProcessIdentity: processIdentity,
				Column:          column,
			}
		}
		merge(b, s)
		b.Derive(e.sigma)
		b.LastBatchID = batchID
		b.UpdatedAt = now

		if err := storage.UpsertBaselineTx(tx, b); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops the cached snapshot for a process identity. Called after
// a successful commit so the next scoring run sees the advanced baseline.
// Bumping the generation also discards any load already in flight.
func (e *Engine) Invalidate(processIdentity string) {
	e.mu.Lock()
	e.gens[processIdentity]++
	e.cache.Remove(processIdentity)
	e.mu.Unlock()
}
