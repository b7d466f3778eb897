package loghub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(bufferSize int, evict EvictFunc) *Hub {
	return New(config.LogHubConfig{
		BufferSize:    bufferSize,
		Retention:     time.Hour,
		SweepInterval: time.Minute,
	}, evict)
}

func entry(dep, msg string, level types.LogLevel) types.LogEntry {
	return types.LogEntry{
		DeploymentID: dep,
		Level:        level,
		Source:       types.SourceApplication,
		Message:      msg,
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	h := newTestHub(100, nil)

	for i := 0; i < 5; i++ {
		h.Append(entry("d1", fmt.Sprintf("line %d", i), types.LogInfo))
	}

	got := h.Query("d1", Filter{})
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, int64(i), e.Sequence)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	var evicted []*types.LogEntry
	h := newTestHub(3, func(entries []*types.LogEntry) {
		evicted = append(evicted, entries...)
	})

	for i := 0; i < 5; i++ {
		h.Append(entry("d1", fmt.Sprintf("line %d", i), types.LogInfo))
	}

	got := h.Query("d1", Filter{})
	require.Len(t, got, 3)
	assert.Equal(t, "line 2", got[0].Message)
	assert.Equal(t, "line 4", got[2].Message)

	// Sequences stay monotonic across evictions.
	assert.Equal(t, int64(2), got[0].Sequence)
	assert.Equal(t, int64(4), got[2].Sequence)

	require.Len(t, evicted, 2)
	assert.Equal(t, "line 0", evicted[0].Message)
	assert.Equal(t, "line 1", evicted[1].Message)
}

func TestQueryFilterPipeline(t *testing.T) {
	h := newTestHub(100, nil)

	base := time.Now()
	h.Append(types.LogEntry{DeploymentID: "d1", Level: types.LogInfo, Source: types.SourceBuild, Message: "npm install ok", Timestamp: base})
	h.Append(types.LogEntry{DeploymentID: "d1", Level: types.LogError, Source: types.SourceApplication, Message: "Connection refused", Timestamp: base.Add(time.Second), Tags: []string{"network"}})
	h.Append(types.LogEntry{DeploymentID: "d1", Level: types.LogWarn, Source: types.SourceApplication, Message: "slow query", Timestamp: base.Add(2 * time.Second), Tags: []string{"db", "perf"}})

	got := h.Query("d1", Filter{Levels: []types.LogLevel{types.LogError, types.LogWarn}})
	assert.Len(t, got, 2)

	got = h.Query("d1", Filter{Sources: []types.LogSource{types.SourceBuild}})
	require.Len(t, got, 1)
	assert.Equal(t, "npm install ok", got[0].Message)

	got = h.Query("d1", Filter{StartTime: base.Add(time.Second), EndTime: base.Add(time.Second)})
	require.Len(t, got, 1)
	assert.Equal(t, "Connection refused", got[0].Message)

	// Search is case-insensitive and covers tags.
	got = h.Query("d1", Filter{Search: "CONNECTION"})
	assert.Len(t, got, 1)
	got = h.Query("d1", Filter{Search: "perf"})
	assert.Len(t, got, 1)

	got = h.Query("d1", Filter{Tags: []string{"network", "missing"}})
	assert.Len(t, got, 1)

	got = h.Query("d1", Filter{Tail: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "Connection refused", got[0].Message)
}

func TestRecentDefaults(t *testing.T) {
	h := newTestHub(200, nil)
	for i := 0; i < 80; i++ {
		h.Append(entry("d1", fmt.Sprintf("line %d", i), types.LogInfo))
	}

	got := h.Recent("d1", 0)
	require.Len(t, got, 50)
	assert.Equal(t, "line 30", got[0].Message)

	got = h.Recent("d1", 10)
	assert.Len(t, got, 10)
}

func TestClearAndDrop(t *testing.T) {
	h := newTestHub(100, nil)
	h.Append(entry("d1", "a", types.LogInfo))
	h.Append(entry("d1", "b", types.LogInfo))

	h.Clear("d1")
	assert.Empty(t, h.Query("d1", Filter{}))

	// Sequence continues after Clear.
	h.Append(entry("d1", "c", types.LogInfo))
	got := h.Query("d1", Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Sequence)

	h.Drop("d1")
	assert.Nil(t, h.Query("d1", Filter{}))
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	h := newTestHub(100, nil)

	var seen []int64
	cancel := h.Subscribe("d1", func(e types.LogEntry) {
		seen = append(seen, e.Sequence)
	})
	defer cancel()

	otherCancel := h.Subscribe("d2", func(e types.LogEntry) {
		t.Error("subscriber for d2 saw d1 traffic")
	})
	defer otherCancel()

	for i := 0; i < 4; i++ {
		h.Append(entry("d1", "x", types.LogInfo))
	}

	assert.Equal(t, []int64{0, 1, 2, 3}, seen)
	assert.Equal(t, 1, h.SubscriberCount("d1"))

	cancel()
	assert.Equal(t, 0, h.SubscriberCount("d1"))
	h.Append(entry("d1", "y", types.LogInfo))
	assert.Len(t, seen, 4)
}

func TestConcurrentAppendKeepsSubscriberOrder(t *testing.T) {
	h := newTestHub(10000, nil)

	var mu sync.Mutex
	var seen []int64
	cancel := h.Subscribe("d1", func(e types.LogEntry) {
		mu.Lock()
		seen = append(seen, e.Sequence)
		mu.Unlock()
	})
	defer cancel()

	const producers = 4
	const perProducer = 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				h.Append(entry("d1", "x", types.LogInfo))
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, producers*perProducer)
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "sequence inversion at delivery %d", i)
	}
}

func TestAttachSnapshotAndStream(t *testing.T) {
	h := newTestHub(100, nil)
	h.Append(entry("d1", "before", types.LogInfo))

	var streamed []string
	initial, cancel := h.Attach("d1", Filter{Tail: 50}, func(e types.LogEntry) {
		streamed = append(streamed, e.Message)
	})
	defer cancel()

	require.Len(t, initial, 1)
	assert.Equal(t, "before", initial[0].Message)

	h.Append(entry("d1", "after", types.LogInfo))
	assert.Equal(t, []string{"after"}, streamed)
}

func TestSweepDropsStaleRings(t *testing.T) {
	h := newTestHub(100, nil)
	h.Append(entry("d1", "old", types.LogInfo))

	h.mu.Lock()
	h.rings["d1"].lastAccess = time.Now().Add(-2 * time.Hour)
	h.mu.Unlock()

	h.Append(entry("d2", "fresh", types.LogInfo))
	h.sweep()

	assert.Nil(t, h.Query("d1", Filter{}))
	assert.Len(t, h.Query("d2", Filter{}), 1)
}
