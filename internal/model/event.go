package model

import (
	"k8s.io/apimachinery/pkg/watch"
)

// Topics carried over the wire. The topic name is implicit in the event
// frame's event field; payloads are always {type, object}.
const (
	TopicShoots   = "shoots"
	TopicTickets  = "tickets"
	TopicComments = "comments"
)

// ShootEvent is one change event for the shoots topic. Type is one of
// watch.Added, watch.Modified, watch.Deleted.
type ShootEvent struct {
	Type   watch.EventType `json:"type"`
	Object *Shoot          `json:"object"`
}

// TicketEvent is one change event for the tickets topic.
type TicketEvent struct {
	Type   watch.EventType `json:"type"`
	Object *Ticket         `json:"object"`
}

// CommentEvent is one change event for the comments topic.
type CommentEvent struct {
	Type   watch.EventType `json:"type"`
	Object *Comment        `json:"object"`
}
