// Package coordinator wires together the persistence layer, vector-clock
// manager, delta engine, version store, event bus, and replication
// orchestrator into the operations the request surface exposes (spec
// §4.7). It is the only package that knows about all six other
// components at once; everything else only knows its own concern.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"filesync-coordinator/internal/delta"
	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/eventbus"
	"filesync-coordinator/internal/replication"
	"filesync-coordinator/internal/storage"
	"filesync-coordinator/internal/vclock"
	"filesync-coordinator/internal/version"
)

// HeartbeatInterval is the default node liveness ping period (§5).
const HeartbeatInterval = 30 * time.Second

// Coordinator is the coordinator's business-logic core.
type Coordinator struct {
	store    *storage.Store
	versions *version.Store
	clocks   *vclock.Manager
	bus      *eventbus.Bus
	repl     *replication.Orchestrator
	chunks   *delta.ChunkStore
	log      *zap.Logger

	chunkSize int

	fileLocks sync.Map // file_id -> *sync.Mutex, per-file serialization (spec §5)
}

// Config holds the knobs a deployment can tune.
type Config struct {
	ChunkSize       int
	ReplicationDelay time.Duration
}

// New wires a Coordinator on top of a storage backend.
func New(store *storage.Store, log *zap.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = delta.DefaultChunkSize
	}

	clocks := vclock.NewManager()
	versions := version.New()
	bus := eventbus.New(store, log, eventbus.DefaultWriteDeadline)
	repl := replication.New(store, versions, bus, clocks, log)
	repl.ProgressDelay = cfg.ReplicationDelay

	return &Coordinator{
		store:     store,
		versions:  versions,
		clocks:    clocks,
		bus:       bus,
		repl:      repl,
		chunks:    delta.NewChunkStore(),
		log:       log,
		chunkSize: cfg.ChunkSize,
	}
}

// Bus exposes the event bus for the request surface to register push
// subscriptions on.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// checkDeadline reports a Timeout error if ctx has already expired.
// Every client-facing operation calls this before touching storage, so
// an expired deadline fails the operation without committing anything
// (§5: "expiry fails the operation with Timeout and the database
// transaction is rolled back").
func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Timeoutf("request deadline exceeded: %v", ctx.Err())
	default:
		return nil
	}
}

// lockFile returns the per-file_id mutex, creating it if this is the
// first time fileID has been touched. All mutating file operations take
// this lock for their full duration so version_number stays strictly
// monotonic and current-version flips are observed atomically (§5).
func (c *Coordinator) lockFile(fileID string) func() {
	v, _ := c.fileLocks.LoadOrStore(fileID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
