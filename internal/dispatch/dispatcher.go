// Package dispatch fans change events out to rooms. The dispatcher owns the
// issue-tracking set and synthesizes deletion events when a shoot leaves the
// unhealthy state, so unhealthy-only subscribers see it disappear.
package dispatch

import (
	"sync"

	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/topic"
)

// Emitter delivers one event to every member of a room, best-effort.
type Emitter interface {
	Emit(room, event string, payload any)
}

// TransitionHook observes issue-set transitions. Used by notifiers; must
// not block for long, it runs on the event-processing path.
type TransitionHook interface {
	IssueOpened(shoot *model.Shoot)
	IssueResolved(shoot *model.Shoot)
}

// Metrics is the subset of the metrics surface the dispatcher records to.
type Metrics interface {
	RecordEvent(topicName string, eventType string)
	RecordSyntheticDelete()
	SetTrackedIssues(n int)
}

// Dispatcher routes change events to rooms. OnShootEvent must be called from
// a single goroutine per resource kind; the issue-tracking set depends on
// per-kind ordering.
type Dispatcher struct {
	emitter Emitter
	logger  zerolog.Logger
	metrics Metrics
	hooks   []TransitionHook

	// Shoots currently classified as having an issue, by UID. Mutated only
	// on the single event-processing goroutine; the mutex exists for
	// read-only snapshots taken by the ops API.
	issuesMu sync.RWMutex
	issues   map[types.UID]model.Key
}

// New creates a dispatcher emitting into the given emitter.
func New(emitter Emitter, metrics Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		emitter: emitter,
		metrics: metrics,
		logger:  logger.With().Str("component", "dispatch").Logger(),
		issues:  make(map[types.UID]model.Key),
	}
}

// AddHook registers a transition hook. Not safe to call after event
// processing has started.
func (d *Dispatcher) AddHook(h TransitionHook) {
	d.hooks = append(d.hooks, h)
}

// OnShootEvent processes one change event from the shoot event source.
func (d *Dispatcher) OnShootEvent(ev model.ShootEvent) {
	shoot := ev.Object
	if shoot == nil {
		d.logger.Warn().Str("type", string(ev.Type)).Msg("shoot event without object dropped")
		return
	}

	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
	default:
		d.logger.Warn().Str("type", string(ev.Type)).Str("key", shoot.Key().String()).
			Msg("unrecognized event type ignored")
		return
	}

	if d.metrics != nil {
		d.metrics.RecordEvent(model.TopicShoots, string(ev.Type))
	}

	d.issuesMu.RLock()
	_, tracked := d.issues[shoot.UID]
	d.issuesMu.RUnlock()

	switch {
	case ev.Type == watch.Deleted:
		if tracked {
			d.untrack(shoot.UID)
			d.emitUnhealthy(shoot.Namespace, ev)
			d.notifyResolved(shoot)
		}

	case shoot.HasIssue():
		if !tracked {
			d.track(shoot.UID, shoot.Key())
			d.notifyOpened(shoot)
		}
		d.emitUnhealthy(shoot.Namespace, ev)

	case tracked:
		// The shoot recovered. Unhealthy-only subscribers never see the
		// MODIFIED event; they get a synthetic DELETED instead.
		d.untrack(shoot.UID)
		synthetic := model.ShootEvent{Type: watch.Deleted, Object: shoot}
		d.emitUnhealthy(shoot.Namespace, synthetic)
		if d.metrics != nil {
			d.metrics.RecordSyntheticDelete()
		}
		d.notifyResolved(shoot)
	}

	if d.metrics != nil {
		d.issuesMu.RLock()
		n := len(d.issues)
		d.issuesMu.RUnlock()
		d.metrics.SetTrackedIssues(n)
	}

	// The original event always reaches the non-health-filtered rooms.
	for _, room := range topic.ObjectRooms(shoot.Namespace, shoot.Name) {
		d.emitter.Emit(room, model.TopicShoots, ev)
	}
}

// OnTicketEvent routes a ticket event to the rooms of its shoot.
func (d *Dispatcher) OnTicketEvent(ev model.TicketEvent) {
	if ev.Object == nil {
		d.logger.Warn().Str("type", string(ev.Type)).Msg("ticket event without object dropped")
		return
	}
	if d.metrics != nil {
		d.metrics.RecordEvent(model.TopicTickets, string(ev.Type))
	}
	key := ev.Object.ShootKey()
	for _, room := range topic.ObjectRooms(key.Namespace, key.Name) {
		d.emitter.Emit(room, model.TopicTickets, ev)
	}
}

// OnCommentEvent routes a comment event to the exact-resource room of its
// shoot only; comment volume is too high for the aggregate rooms.
func (d *Dispatcher) OnCommentEvent(ev model.CommentEvent) {
	if ev.Object == nil {
		d.logger.Warn().Str("type", string(ev.Type)).Msg("comment event without object dropped")
		return
	}
	if d.metrics != nil {
		d.metrics.RecordEvent(model.TopicComments, string(ev.Type))
	}
	key := ev.Object.ShootKey()
	d.emitter.Emit(topic.ClusterRoom(key.Namespace, key.Name), model.TopicComments, ev)
}

// TrackedIssues returns a snapshot of the issue-tracking set.
func (d *Dispatcher) TrackedIssues() map[types.UID]model.Key {
	d.issuesMu.RLock()
	defer d.issuesMu.RUnlock()
	snapshot := make(map[types.UID]model.Key, len(d.issues))
	for uid, key := range d.issues {
		snapshot[uid] = key
	}
	return snapshot
}

func (d *Dispatcher) track(uid types.UID, key model.Key) {
	d.issuesMu.Lock()
	d.issues[uid] = key
	d.issuesMu.Unlock()
}

func (d *Dispatcher) untrack(uid types.UID) {
	d.issuesMu.Lock()
	delete(d.issues, uid)
	d.issuesMu.Unlock()
}

func (d *Dispatcher) emitUnhealthy(namespace string, ev model.ShootEvent) {
	for _, room := range topic.UnhealthyRooms(namespace) {
		d.emitter.Emit(room, model.TopicShoots, ev)
	}
}

func (d *Dispatcher) notifyOpened(shoot *model.Shoot) {
	for _, h := range d.hooks {
		h.IssueOpened(shoot)
	}
}

func (d *Dispatcher) notifyResolved(shoot *model.Shoot) {
	for _, h := range d.hooks {
		h.IssueResolved(shoot)
	}
}
