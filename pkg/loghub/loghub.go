package loghub

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Filter narrows a Query. Zero values mean "no constraint". Predicates
// apply in declaration order, with Tail as a final slice.
type Filter struct {
	Levels    []types.LogLevel
	Sources   []types.LogSource
	StartTime time.Time
	EndTime   time.Time
	Search    string
	Tags      []string
	Tail      int
}

// SubscribeFunc receives every entry appended to a subscribed
// deployment, in strictly increasing sequence order. It is called with
// the hub's lock held: it must not block and must not re-enter the
// hub; slow consumers queue on their own side.
type SubscribeFunc func(entry types.LogEntry)

// EvictFunc receives entries removed from a ring by overflow so they
// can be persisted. Nil disables persistence.
type EvictFunc func(entries []*types.LogEntry)

type ring struct {
	entries    []types.LogEntry
	next       int64
	lastAccess time.Time
}

// Hub buffers log entries per deployment on bounded rings and fans
// them out to subscribers.
type Hub struct {
	mu      sync.RWMutex
	rings   map[string]*ring
	subs    map[string]map[int64]SubscribeFunc
	nextSub int64

	maxSize       int
	retention     time.Duration
	sweepInterval time.Duration
	evict         EvictFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a hub. evict may be nil.
func New(cfg config.LogHubConfig, evict EvictFunc) *Hub {
	return &Hub{
		rings:         make(map[string]*ring),
		subs:          make(map[string]map[int64]SubscribeFunc),
		maxSize:       cfg.BufferSize,
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
		evict:         evict,
		stopCh:        make(chan struct{}),
		logger:        log.WithComponent("loghub"),
	}
}

// Start begins the retention sweep loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
	h.logger.Info().Int("buffer_size", h.maxSize).Dur("retention", h.retention).Msg("Log hub started")
}

// Stop halts the sweep loop.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Append inserts an entry into its deployment's ring, assigning the
// next sequence number, and publishes it to subscribers of that
// deployment. Overflowing entries are evicted oldest-first.
func (h *Hub) Append(entry types.LogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	h.mu.Lock()
	r, ok := h.rings[entry.DeploymentID]
	if !ok {
		r = &ring{}
		h.rings[entry.DeploymentID] = r
	}
	entry.Sequence = r.next
	r.next++
	r.entries = append(r.entries, entry)
	r.lastAccess = time.Now()

	var evicted []*types.LogEntry
	if over := len(r.entries) - h.maxSize; over > 0 {
		for i := 0; i < over; i++ {
			e := r.entries[i]
			evicted = append(evicted, &e)
		}
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}

	// Deliver before releasing the lock so two concurrent appends
	// cannot reach a subscriber out of sequence order.
	keys := make([]int64, 0, len(h.subs[entry.DeploymentID]))
	for k := range h.subs[entry.DeploymentID] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		h.subs[entry.DeploymentID][k](entry)
	}
	h.mu.Unlock()

	metrics.LogEntriesTotal.Inc()
	if len(evicted) > 0 {
		metrics.LogEntriesEvicted.Add(float64(len(evicted)))
		if h.evict != nil {
			h.evict(evicted)
		}
	}
}

// Query returns a copy of the deployment's entries after applying the
// filter. Missing deployments return an empty slice.
func (h *Hub) Query(deploymentID string, f Filter) []types.LogEntry {
	h.mu.Lock()
	r, ok := h.rings[deploymentID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	r.lastAccess = time.Now()
	entries := make([]types.LogEntry, len(r.entries))
	copy(entries, r.entries)
	h.mu.Unlock()

	entries = applyFilter(entries, f)
	if f.Tail > 0 && len(entries) > f.Tail {
		entries = entries[len(entries)-f.Tail:]
	}
	return entries
}

// Recent returns the last n entries for a deployment. n <= 0 defaults
// to 50.
func (h *Hub) Recent(deploymentID string, n int) []types.LogEntry {
	if n <= 0 {
		n = 50
	}
	return h.Query(deploymentID, Filter{Tail: n})
}

// Clear empties a deployment's ring but keeps it alive.
func (h *Hub) Clear(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rings[deploymentID]; ok {
		r.entries = nil
		r.lastAccess = time.Now()
	}
}

// Drop removes a deployment's ring entirely.
func (h *Hub) Drop(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rings, deploymentID)
}

// Subscribe registers fn for every future entry of the deployment and
// returns a cancel function. Entries arrive in sequence order.
func (h *Hub) Subscribe(deploymentID string, fn SubscribeFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(deploymentID, fn)
}

// Attach snapshots the deployment's entries through the filter and
// registers fn in one step, so no entry falls between the snapshot and
// the live stream.
func (h *Hub) Attach(deploymentID string, f Filter, fn SubscribeFunc) ([]types.LogEntry, func()) {
	h.mu.Lock()
	var entries []types.LogEntry
	if r, ok := h.rings[deploymentID]; ok {
		r.lastAccess = time.Now()
		entries = make([]types.LogEntry, len(r.entries))
		copy(entries, r.entries)
	}
	cancel := h.subscribeLocked(deploymentID, fn)
	h.mu.Unlock()

	entries = applyFilter(entries, f)
	if f.Tail > 0 && len(entries) > f.Tail {
		entries = entries[len(entries)-f.Tail:]
	}
	return entries, cancel
}

func (h *Hub) subscribeLocked(deploymentID string, fn SubscribeFunc) func() {
	h.nextSub++
	id := h.nextSub
	if h.subs[deploymentID] == nil {
		h.subs[deploymentID] = make(map[int64]SubscribeFunc)
	}
	h.subs[deploymentID][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[deploymentID], id)
		if len(h.subs[deploymentID]) == 0 {
			delete(h.subs, deploymentID)
		}
	}
}

// SubscriberCount reports active subscriptions for a deployment.
func (h *Hub) SubscriberCount(deploymentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deploymentID])
}

func (h *Hub) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

// sweep drops rings that have not been touched within the retention
// window.
func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.retention)

	h.mu.Lock()
	var dropped []string
	for id, r := range h.rings {
		if r.lastAccess.Before(cutoff) {
			dropped = append(dropped, id)
			delete(h.rings, id)
		}
	}
	h.mu.Unlock()

	for _, id := range dropped {
		h.logger.Debug().Str("deployment_id", id).Msg("Dropped stale log ring")
	}
}

func applyFilter(entries []types.LogEntry, f Filter) []types.LogEntry {
	if len(f.Levels) > 0 {
		entries = keep(entries, func(e types.LogEntry) bool {
			return containsLevel(f.Levels, e.Level)
		})
	}
	if len(f.Sources) > 0 {
		entries = keep(entries, func(e types.LogEntry) bool {
			return containsSource(f.Sources, e.Source)
		})
	}
	if !f.StartTime.IsZero() {
		entries = keep(entries, func(e types.LogEntry) bool {
			return !e.Timestamp.Before(f.StartTime)
		})
	}
	if !f.EndTime.IsZero() {
		entries = keep(entries, func(e types.LogEntry) bool {
			return !e.Timestamp.After(f.EndTime)
		})
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		entries = keep(entries, func(e types.LogEntry) bool {
			if strings.Contains(strings.ToLower(e.Message), needle) {
				return true
			}
			for _, tag := range e.Tags {
				if strings.Contains(strings.ToLower(tag), needle) {
					return true
				}
			}
			return false
		})
	}
	if len(f.Tags) > 0 {
		entries = keep(entries, func(e types.LogEntry) bool {
			for _, want := range f.Tags {
				for _, have := range e.Tags {
					if want == have {
						return true
					}
				}
			}
			return false
		})
	}
	return entries
}

func keep(entries []types.LogEntry, pred func(types.LogEntry) bool) []types.LogEntry {
	out := entries[:0]
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func containsLevel(levels []types.LogLevel, l types.LogLevel) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

func containsSource(sources []types.LogSource, s types.LogSource) bool {
	for _, v := range sources {
		if v == s {
			return true
		}
	}
	return false
}
