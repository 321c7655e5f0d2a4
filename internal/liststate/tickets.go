package liststate

import (
	"sort"

	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// ApplyTicket processes one ticket change event. Tickets are grouped per
// shoot key; last-write-wins is decided purely by the UpdatedAt timestamp,
// never by delivery order, and each group stays ordered by UpdatedAt
// descending.
func (e *Engine) ApplyTicket(ev model.TicketEvent) {
	if ev.Object == nil {
		e.logger.Warn().Str("type", string(ev.Type)).Msg("ticket event without object ignored")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := ev.Object.ShootKey()
	group := e.tickets[key]

	switch ev.Type {
	case watch.Added, watch.Modified:
		replaced := false
		for i, t := range group {
			if t.Number != ev.Object.Number {
				continue
			}
			if ev.Object.UpdatedAt.Before(t.UpdatedAt) {
				// Out-of-order delivery of an older revision; drop it.
				return
			}
			group[i] = ev.Object
			replaced = true
			break
		}
		if !replaced {
			group = append(group, ev.Object)
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].UpdatedAt.After(group[j].UpdatedAt)
		})
		e.tickets[key] = group

	case watch.Deleted:
		kept := group[:0]
		for _, t := range group {
			if t.Number != ev.Object.Number {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(e.tickets, key)
		} else {
			e.tickets[key] = kept
		}
		delete(e.comments, ev.Object.Number)

	default:
		e.logger.Warn().Str("type", string(ev.Type)).Msg("unrecognized ticket event type ignored")
		return
	}

	// Ticket labels feed search and the suppression filter, so filter
	// membership of the owning shoot may have changed.
	e.markDirty(false)
}

// ApplyComment processes one comment change event with the same
// timestamp-based last-write-wins rule; groups are keyed by ticket number
// and ordered by UpdatedAt descending.
func (e *Engine) ApplyComment(ev model.CommentEvent) {
	if ev.Object == nil {
		e.logger.Warn().Str("type", string(ev.Type)).Msg("comment event without object ignored")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	number := ev.Object.TicketNumber
	group := e.comments[number]

	switch ev.Type {
	case watch.Added, watch.Modified:
		replaced := false
		for i, c := range group {
			if c.ID != ev.Object.ID {
				continue
			}
			if ev.Object.UpdatedAt.Before(c.UpdatedAt) {
				return
			}
			group[i] = ev.Object
			replaced = true
			break
		}
		if !replaced {
			group = append(group, ev.Object)
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].UpdatedAt.After(group[j].UpdatedAt)
		})
		e.comments[number] = group

	case watch.Deleted:
		kept := group[:0]
		for _, c := range group {
			if c.ID != ev.Object.ID {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(e.comments, number)
		} else {
			e.comments[number] = kept
		}

	default:
		e.logger.Warn().Str("type", string(ev.Type)).Msg("unrecognized comment event type ignored")
	}
}

// TicketsFor returns the tickets of a shoot, newest first.
func (e *Engine) TicketsFor(key model.Key) []*model.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*model.Ticket(nil), e.tickets[key]...)
}

// CommentsFor returns the comments of a ticket, newest first.
func (e *Engine) CommentsFor(number int) []*model.Comment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*model.Comment(nil), e.comments[number]...)
}
