package model

import "time"

// Ticket is an external issue tracker entry associated with a shoot.
// Tickets are keyed by number; the shoot association comes from a
// "[namespace/name]" prefix in the ticket title.
type Ticket struct {
	Number    int       `json:"number"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Labels    []string  `json:"labels,omitempty"`
	HTMLURL   string    `json:"htmlUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ShootKey returns the key of the shoot this ticket refers to.
func (t *Ticket) ShootKey() Key {
	return Key{Namespace: t.Namespace, Name: t.Name}
}

// Comment is one comment on a ticket. Comments form a sub-collection per
// ticket number; ordering and last-write-wins are decided purely by
// UpdatedAt, never by delivery order.
type Comment struct {
	ID           int64     `json:"id"`
	TicketNumber int       `json:"ticketNumber"`
	Namespace    string    `json:"namespace"`
	Name         string    `json:"name"`
	Author       string    `json:"author,omitempty"`
	Body         string    `json:"body,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ShootKey returns the key of the shoot this comment's ticket refers to.
func (c *Comment) ShootKey() Key {
	return Key{Namespace: c.Namespace, Name: c.Name}
}
