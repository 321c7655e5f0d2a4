// Package liststate maintains the client-side view of the shoot collection:
// a keyed collection fed by change events, with a sorted and filtered key
// sequence derived from it. Raw event application is immediate; derived
// state is recomputed at most once per coalescing window.
package liststate

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// DefaultThrottleWindow bounds how often derived state is recomputed while
// events keep arriving.
const DefaultThrottleWindow = 3 * time.Second

// Config holds engine construction parameters.
type Config struct {
	// ThrottleWindow is the trailing-edge coalescing delay. Zero means
	// DefaultThrottleWindow.
	ThrottleWindow time.Duration

	// SuppressedTicketLabels feeds the hideTicketLabels filter.
	SuppressedTicketLabels []string
}

// Engine is the incremental list-state engine. One engine serves one
// logical list view; construct one per client session, never share.
type Engine struct {
	mu     sync.Mutex
	logger zerolog.Logger
	window time.Duration

	items    map[model.Key]*model.Shoot
	sorted   []model.Key
	filtered []model.Key

	sortColumn     Column
	sortDescending bool
	searchTokens   []string
	filters        map[BoolFilter]bool
	issuesScope    bool

	suppressedLabels map[string]bool
	tickets          map[model.Key][]*model.Ticket
	comments         map[int][]*model.Comment

	sortDirty    bool
	derivedDirty bool
	timer        *time.Timer
	onChange     func()
}

// New creates an engine sorted by name ascending.
func New(cfg Config, logger zerolog.Logger) *Engine {
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	suppressed := make(map[string]bool, len(cfg.SuppressedTicketLabels))
	for _, label := range cfg.SuppressedTicketLabels {
		suppressed[label] = true
	}
	return &Engine{
		logger:           logger.With().Str("component", "liststate").Logger(),
		window:           window,
		items:            make(map[model.Key]*model.Shoot),
		sortColumn:       ColumnName,
		filters:          make(map[BoolFilter]bool),
		suppressedLabels: suppressed,
		tickets:          make(map[model.Key][]*model.Ticket),
		comments:         make(map[int][]*model.Comment),
	}
}

// OnChange registers a callback fired after every derived-state
// recomputation. Must be set before events flow.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Apply processes one shoot change event. The keyed collection is mutated
// immediately; re-sort and re-filter are deferred to the throttle window.
func (e *Engine) Apply(ev model.ShootEvent) {
	if ev.Object == nil {
		e.logger.Warn().Str("type", string(ev.Type)).Msg("event without object ignored")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := ev.Object.Key()
	switch ev.Type {
	case watch.Added, watch.Modified:
		e.applyUpsert(key, ev.Object)
	case watch.Deleted:
		e.applyDelete(key)
	default:
		e.logger.Warn().Str("type", string(ev.Type)).Str("key", key.String()).
			Msg("unrecognized event type ignored")
	}
}

func (e *Engine) applyUpsert(key model.Key, incoming *model.Shoot) {
	old, exists := e.items[key]
	if !exists {
		// New entries always force a re-sort; their position is unknown.
		e.items[key] = cloneShoot(incoming)
		e.markDirty(true)
		return
	}

	if old.ResourceVersion == incoming.ResourceVersion {
		// Duplicate delivery during a resubscription window; a no-op.
		return
	}

	// Immutable update: build a fresh record and swap it in, carrying over
	// locally attached side-channel info the event source never delivers.
	updated := cloneShoot(incoming)
	if updated.Info == nil {
		updated.Info = old.Info
	}
	e.items[key] = updated

	e.markDirty(sortKeyChanged(old, updated, e.sortColumn))
}

func (e *Engine) applyDelete(key model.Key) {
	if _, exists := e.items[key]; !exists {
		return
	}
	delete(e.items, key)
	// A pure removal cannot reorder the remaining entries, so the sorted
	// sequence just loses one element instead of being rebuilt.
	e.sorted = removeKey(e.sorted, key)
	e.markDirty(false)
}

// AttachClusterInfo attaches side-channel info to a shoot; it survives
// subsequent event merges.
func (e *Engine) AttachClusterInfo(key model.Key, info *model.ClusterInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.items[key]; ok {
		updated := cloneShoot(s)
		updated.Info = info
		e.items[key] = updated
	}
}

// SetSortParams replaces the active sort column and direction and recomputes
// derived state immediately; consumer-driven changes are not throttled.
func (e *Engine) SetSortParams(col Column, descending bool) {
	e.mu.Lock()
	e.sortColumn = col
	e.sortDescending = descending
	e.sortDirty = true
	e.derivedDirty = true
	e.recomputeLocked()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetSearchValue replaces the free-text search, splitting on whitespace
// into tokens, and refilters immediately.
func (e *Engine) SetSearchValue(text string) {
	e.mu.Lock()
	e.searchTokens = strings.Fields(text)
	e.derivedDirty = true
	e.recomputeLocked()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetBooleanFilter toggles one scoped filter and refilters immediately.
func (e *Engine) SetBooleanFilter(name BoolFilter, enabled bool) {
	e.mu.Lock()
	e.filters[name] = enabled
	e.derivedDirty = true
	e.recomputeLocked()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetIssuesScope marks whether the engine serves the all-namespaces
// issues-only view; the boolean filters only apply there.
func (e *Engine) SetIssuesScope(enabled bool) {
	e.mu.Lock()
	e.issuesScope = enabled
	e.derivedDirty = true
	e.recomputeLocked()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SortedAndFilteredKeys returns the current derived key sequence.
func (e *Engine) SortedAndFilteredKeys() []model.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]model.Key, len(e.filtered))
	copy(keys, e.filtered)
	return keys
}

// Get returns the stored shoot for a key.
func (e *Engine) Get(key model.Key) (*model.Shoot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.items[key]
	return s, ok
}

// Len returns the raw collection size.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Clear drops all raw and derived state immediately, bypassing the
// throttle. Called on unsubscribe.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.items = make(map[model.Key]*model.Shoot)
	e.tickets = make(map[model.Key][]*model.Ticket)
	e.comments = make(map[int][]*model.Comment)
	e.sorted = nil
	e.filtered = nil
	e.sortDirty = false
	e.derivedDirty = false
}

// markDirty records pending derived-state work and arms the trailing-edge
// throttle timer if idle. Caller holds the lock.
func (e *Engine) markDirty(resort bool) {
	if resort {
		e.sortDirty = true
	}
	e.derivedDirty = true
	if e.timer == nil {
		e.timer = time.AfterFunc(e.window, e.flush)
	}
}

// flush runs when the throttle window elapses.
func (e *Engine) flush() {
	e.mu.Lock()
	e.timer = nil
	if !e.derivedDirty {
		e.mu.Unlock()
		return
	}
	e.recomputeLocked()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// recomputeLocked rebuilds the sorted sequence (when required) and always
// re-derives the filtered sequence from it. Caller holds the lock.
func (e *Engine) recomputeLocked() {
	if e.sortDirty {
		keys := make([]model.Key, 0, len(e.items))
		for key := range e.items {
			keys = append(keys, key)
		}
		col, desc := e.sortColumn, e.sortDescending
		sort.SliceStable(keys, func(i, j int) bool {
			return less(e.items[keys[i]], e.items[keys[j]], col, desc)
		})
		e.sorted = keys
		e.sortDirty = false
	}

	filtered := make([]model.Key, 0, len(e.sorted))
	for _, key := range e.sorted {
		s, ok := e.items[key]
		if !ok {
			continue
		}
		if e.matchesSearch(s) && e.passesBoolFilters(s) {
			filtered = append(filtered, key)
		}
	}
	e.filtered = filtered
	e.derivedDirty = false
}

func removeKey(keys []model.Key, key model.Key) []model.Key {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

// cloneShoot copies a shoot so stored records never alias caller memory.
func cloneShoot(s *model.Shoot) *model.Shoot {
	c := *s
	if s.Annotations != nil {
		c.Annotations = make(map[string]string, len(s.Annotations))
		for k, v := range s.Annotations {
			c.Annotations[k] = v
		}
	}
	c.Conditions = append([]model.Condition(nil), s.Conditions...)
	c.LastErrors = append([]model.LastError(nil), s.LastErrors...)
	if s.LastOperation != nil {
		op := *s.LastOperation
		c.LastOperation = &op
	}
	return &c
}
