package checkpoint

import (
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/logiface"
)

// Registry associates each live [eventloop.Group] with its [Coordinator],
// without keeping the group alive.
//
// Entries are removed when the group is shut down, when it is reclaimed by
// the garbage collector, or by Scavenge. It uses a ring buffer of entry IDs
// for scavenging, so that every entry is eventually checked.
//
// A Registry is itself a [Resource], checkpointing every registered group.
type Registry struct { // betteralign:ignore
	logger *logiface.Logger[logiface.Event]
	cfg    *coordinatorOptions

	// data stores entries by ID.
	data map[uint64]*registryEntry

	// keys maps each group to its entry ID.
	keys map[weak.Pointer[eventloop.Group]]uint64

	// ring is a circular buffer of IDs used for scavenging, in registration
	// order. Removed entries are left behind as stale IDs, and zeroed or
	// compacted lazily.
	ring []uint64

	// head is the current cursor position in the ring for the scavenger.
	head int

	// nextID is the counter for generating unique entry IDs.
	nextID uint64
	mu     sync.RWMutex

	// scavengeMu serializes scavenge operations to prevent overlap
	// and to ensure compaction safety.
	scavengeMu sync.Mutex

	// cycleMu guards quiesced, the coordinators checkpointed by the last
	// BeforeCheckpoint.
	cycleMu  sync.Mutex
	quiesced []*Coordinator
	cycling  bool
}

var _ Resource = (*Registry)(nil)

type registryEntry struct {
	key     weak.Pointer[eventloop.Group]
	coord   *Coordinator
	cleanup runtime.Cleanup
}

// NewRegistry creates an empty registry. The options are applied to every
// coordinator it creates, and its logger is also used by the registry.
func NewRegistry(opts ...CoordinatorOption) (*Registry, error) {
	cfg, err := resolveCoordinatorOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Registry{
		logger: cfg.logger,
		cfg:    cfg,
		data:   make(map[uint64]*registryEntry),
		keys:   make(map[weak.Pointer[eventloop.Group]]uint64),
		ring:   make([]uint64, 0, 64),
		nextID: 1, // Start at 1 so 0 is null marker
	}, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
})

// DefaultRegistry returns the process-wide registry, which is registered
// with [GlobalContext].
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// Register returns the coordinator for g, creating and registering it on
// the first call. Repeated calls for the same group return the same
// coordinator.
func (r *Registry) Register(g *eventloop.Group) (*Coordinator, error) {
	if g == nil {
		return nil, ErrNilGroup
	}
	if g.IsShutdown() {
		return nil, ErrGroupShutdown
	}

	key := weak.Make(g)

	r.mu.Lock()
	if id, ok := r.keys[key]; ok {
		c := r.data[id].coord
		r.mu.Unlock()
		return c, nil
	}

	id := r.nextID
	r.nextID++

	e := &registryEntry{
		key:   key,
		coord: newCoordinator(key, g.Len(), r.cfg),
	}
	e.cleanup = runtime.AddCleanup(g, r.reclaimed, id)

	r.data[id] = e
	r.keys[key] = id
	r.ring = append(r.ring, id)

	if len(r.ring) > 256 && len(r.data) < len(r.ring)/4 {
		r.compactAndRenew()
	}
	r.mu.Unlock()

	// may call the hook immediately, if shut down concurrently
	g.OnShutdown(func() {
		r.remove(id, "shutdown")
	})

	r.logger.Debug().
		Uint64(`id`, id).
		Int(`loops`, g.Len()).
		Log(`group registered`)

	return e.coord, nil
}

// reclaimed is the cleanup attached to each registered group.
func (r *Registry) reclaimed(id uint64) {
	r.remove(id, "reclaimed")
}

// remove deletes the entry, leaving a stale ID in the ring.
func (r *Registry) remove(id uint64, reason string) bool {
	r.mu.Lock()
	e, ok := r.data[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.data, id)
	delete(r.keys, e.key)
	r.mu.Unlock()

	e.cleanup.Stop()

	r.logger.Debug().
		Uint64(`id`, id).
		Str(`reason`, reason).
		Log(`group deregistered`)

	return true
}

// Lookup returns the coordinator registered for g.
func (r *Registry) Lookup(g *eventloop.Group) (*Coordinator, bool) {
	if g == nil {
		return nil, false
	}
	key := weak.Make(g)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[key]
	if !ok {
		return nil, false
	}
	return r.data[id].coord, true
}

// Deregister removes g from the registry, reporting whether it was present.
func (r *Registry) Deregister(g *eventloop.Group) bool {
	if g == nil {
		return false
	}
	key := weak.Make(g)
	r.mu.RLock()
	id, ok := r.keys[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.remove(id, "deregistered")
}

// Len returns the number of registered groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// coordinators returns the live coordinators, in registration order.
func (r *Registry) coordinators() []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coords := make([]*Coordinator, 0, len(r.data))
	for _, id := range r.ring {
		if e, ok := r.data[id]; ok && e.key.Value() != nil {
			coords = append(coords, e.coord)
		}
	}
	return coords
}

// Scavenge performs a partial cleanup of dead entries.
// It iterates through a batch of the ring buffer, removing entries whose
// group has been reclaimed or shut down.
func (r *Registry) Scavenge(batchSize int) {
	r.scavengeMu.Lock()
	defer r.scavengeMu.Unlock()

	if batchSize <= 0 {
		return
	}

	r.mu.RLock()
	ringLen := len(r.ring)
	if ringLen == 0 {
		r.mu.RUnlock()
		return
	}

	// Calculate batch range
	start := r.head
	end := min(start+batchSize, ringLen)

	type item struct {
		key weak.Pointer[eventloop.Group]
		id  uint64
		idx int
	}
	items := make([]item, 0, end-start)
	var stale []item

	for i := start; i < end; i++ {
		id := r.ring[i]
		if id == 0 {
			continue
		}
		if e, ok := r.data[id]; ok {
			items = append(items, item{key: e.key, id: id, idx: i})
		} else {
			stale = append(stale, item{id: id, idx: i})
		}
	}

	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	r.mu.RUnlock()

	cycleCompleted := (nextHead == 0)

	// Perform Checks (OUTSIDE LOCK)
	var itemsToRemove []item
	for _, it := range items {
		if g := it.key.Value(); g == nil || g.IsShutdown() {
			itemsToRemove = append(itemsToRemove, it)
		}
	}

	for _, it := range itemsToRemove {
		r.remove(it.id, "scavenged")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Mark as 0 (Null Marker) in ring
	for _, batch := range [...][]item{itemsToRemove, stale} {
		for _, it := range batch {
			if it.idx < len(r.ring) && r.ring[it.idx] == it.id {
				r.ring[it.idx] = 0
			}
		}
	}

	r.head = nextHead

	// Compaction
	if cycleCompleted {
		active := len(r.data)
		capacity := len(r.ring)

		// Trigger compaction when load factor < 25%
		if capacity > 64 && float64(active) < float64(capacity)*0.25 {
			r.compactAndRenew()
		}
	}
}

// compactAndRenew removes null markers and stale IDs from the ring buffer
// AND rebuilds the maps.
// Go's delete() doesn't free hashmap bucket array; allocating a new map reclaims memory.
// Must be called with mu.Lock held.
func (r *Registry) compactAndRenew() {
	newRing := make([]uint64, 0, len(r.data))
	newData := make(map[uint64]*registryEntry, len(r.data))
	newKeys := make(map[weak.Pointer[eventloop.Group]]uint64, len(r.data))

	for _, id := range r.ring {
		if id != 0 {
			if e, ok := r.data[id]; ok {
				newRing = append(newRing, id)
				newData[id] = e
				newKeys[e.key] = id
			}
		}
	}

	r.ring = newRing
	r.data = newData
	r.keys = newKeys
	r.head = 0
}

// BeforeCheckpoint quiesces every registered group, newest first. If any
// fails, the groups already quiesced are restored, and a [*PhaseError] is
// returned.
func (r *Registry) BeforeCheckpoint() error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if r.cycling {
		return fmt.Errorf("%w: registry checkpoint already in progress", ErrInvalidState)
	}

	quiesced, err := beforeAll(r.coordinators(), r.logger)
	if err != nil {
		return err
	}

	r.quiesced = quiesced
	r.cycling = true
	return nil
}

// AfterRestore resumes every group quiesced by the last BeforeCheckpoint,
// oldest first, continuing past failures.
func (r *Registry) AfterRestore() error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if !r.cycling {
		return fmt.Errorf("%w: registry restore without checkpoint", ErrInvalidState)
	}

	quiesced := r.quiesced
	r.quiesced = nil
	r.cycling = false

	return afterAll(quiesced, r.logger)
}
