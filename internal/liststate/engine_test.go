package liststate

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

func newTestEngine(t *testing.T, window time.Duration) *Engine {
	t.Helper()
	return New(Config{ThrottleWindow: window}, zerolog.Nop())
}

func shoot(name, rv string) *model.Shoot {
	return &model.Shoot{Namespace: "garden-core", Name: name, ResourceVersion: rv}
}

func added(s *model.Shoot) model.ShootEvent {
	return model.ShootEvent{Type: watch.Added, Object: s}
}

func modified(s *model.Shoot) model.ShootEvent {
	return model.ShootEvent{Type: watch.Modified, Object: s}
}

func deleted(s *model.Shoot) model.ShootEvent {
	return model.ShootEvent{Type: watch.Deleted, Object: s}
}

func waitForKeys(t *testing.T, e *Engine, want int) []model.Key {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		keys := e.SortedAndFilteredKeys()
		if len(keys) == want {
			return keys
		}
		if time.Now().After(deadline) {
			t.Fatalf("derived state never reached %d keys, have %d", want, len(keys))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApplyNetExistence(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)

	e.Apply(added(shoot("api", "1")))
	e.Apply(modified(shoot("api", "2")))
	e.Apply(added(shoot("web", "1")))
	e.Apply(deleted(shoot("web", "1")))

	assert.Equal(t, 1, e.Len())
	keys := waitForKeys(t, e, 1)
	assert.Equal(t, model.Key{Namespace: "garden-core", Name: "api"}, keys[0])

	got, ok := e.Get(keys[0])
	require.True(t, ok)
	assert.Equal(t, "2", got.ResourceVersion)
}

func TestApplySameResourceVersionIsNoOp(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)

	first := shoot("api", "5")
	first.Purpose = "production"
	e.Apply(added(first))

	dup := shoot("api", "5")
	dup.Purpose = "evaluation"
	e.Apply(modified(dup))

	got, ok := e.Get(model.Key{Namespace: "garden-core", Name: "api"})
	require.True(t, ok)
	assert.Equal(t, "production", got.Purpose, "duplicate resource version must not overwrite")
}

func TestApplyImmutableSwap(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)
	key := model.Key{Namespace: "garden-core", Name: "api"}

	e.Apply(added(shoot("api", "1")))
	before, ok := e.Get(key)
	require.True(t, ok)

	e.Apply(modified(shoot("api", "2")))
	after, ok := e.Get(key)
	require.True(t, ok)

	assert.NotSame(t, before, after, "updates must swap in a fresh record")
	assert.Equal(t, "1", before.ResourceVersion, "the old record stays intact")
}

func TestClusterInfoSurvivesMerge(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)
	key := model.Key{Namespace: "garden-core", Name: "api"}

	e.Apply(added(shoot("api", "1")))
	e.AttachClusterInfo(key, &model.ClusterInfo{Endpoint: "https://api.example"})

	e.Apply(modified(shoot("api", "2")))

	got, ok := e.Get(key)
	require.True(t, ok)
	require.NotNil(t, got.Info)
	assert.Equal(t, "https://api.example", got.Info.Endpoint)
}

func TestDeleteUnknownKeyIgnored(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)
	e.Apply(deleted(shoot("ghost", "1")))
	assert.Equal(t, 0, e.Len())
}

func TestThrottleCoalescesBursts(t *testing.T) {
	e := newTestEngine(t, 50*time.Millisecond)

	var recomputes atomic.Int32
	e.OnChange(func() { recomputes.Add(1) })

	for i := 0; i < 20; i++ {
		e.Apply(added(shoot(fmt.Sprintf("cluster-%02d", i), "1")))
	}

	waitForKeys(t, e, 20)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), recomputes.Load(), "a burst within the window recomputes once")
}

func TestThrottleTrailingEdge(t *testing.T) {
	e := newTestEngine(t, 50*time.Millisecond)
	e.Apply(added(shoot("api", "1")))

	// Raw state is visible immediately, derived state only after the window.
	assert.Equal(t, 1, e.Len())
	assert.Empty(t, e.SortedAndFilteredKeys())

	waitForKeys(t, e, 1)
}

func TestConsumerParamsRecomputeSynchronously(t *testing.T) {
	e := newTestEngine(t, time.Hour)

	e.Apply(added(shoot("b", "1")))
	e.Apply(added(shoot("a", "1")))
	assert.Empty(t, e.SortedAndFilteredKeys(), "event-driven recompute still pending")

	// A consumer-driven parameter change flushes immediately.
	e.SetSortParams(ColumnName, true)
	keys := e.SortedAndFilteredKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "b", keys[0].Name)
	assert.Equal(t, "a", keys[1].Name)
}

func TestSetSearchValueSynchronous(t *testing.T) {
	e := newTestEngine(t, time.Hour)

	prod := shoot("prod-cluster", "1")
	dev := shoot("dev-cluster", "1")
	e.Apply(added(prod))
	e.Apply(added(dev))

	e.SetSearchValue("prod")
	keys := e.SortedAndFilteredKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, "prod-cluster", keys[0].Name)

	e.SetSearchValue("")
	assert.Len(t, e.SortedAndFilteredKeys(), 2)
}

func TestClearBypassesThrottle(t *testing.T) {
	e := newTestEngine(t, time.Hour)

	e.Apply(added(shoot("api", "1")))
	e.SetSortParams(ColumnName, false)
	require.Len(t, e.SortedAndFilteredKeys(), 1)

	e.Clear()
	assert.Equal(t, 0, e.Len())
	assert.Empty(t, e.SortedAndFilteredKeys())

	// The engine stays usable after a clear.
	e.Apply(added(shoot("api", "2")))
	assert.Equal(t, 1, e.Len())
}

func TestDeleteKeepsOrderWithoutResort(t *testing.T) {
	e := newTestEngine(t, 10*time.Millisecond)

	for _, name := range []string{"c", "a", "b", "d"} {
		e.Apply(added(shoot(name, "1")))
	}
	waitForKeys(t, e, 4)

	e.Apply(deleted(shoot("b", "1")))
	keys := waitForKeys(t, e, 3)
	assert.Equal(t, "a", keys[0].Name)
	assert.Equal(t, "c", keys[1].Name)
	assert.Equal(t, "d", keys[2].Name)
}
