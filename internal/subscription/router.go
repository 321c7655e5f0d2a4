// Package subscription derives the room set a caller joins for a given
// subscription descriptor, enforcing project-membership authorization.
package subscription

import (
	"github.com/p-blackswan/fleet-dashboard/internal/apierrors"
	"github.com/p-blackswan/fleet-dashboard/internal/project"
	"github.com/p-blackswan/fleet-dashboard/internal/topic"
)

// Caller identifies the subscribing client for authorization purposes.
type Caller struct {
	Subject string
	Admin   bool
}

// Router maps descriptors to room sets against the project registry.
type Router struct {
	registry *project.Registry
}

// NewRouter creates a router backed by the given registry.
func NewRouter(registry *project.Registry) *Router {
	return &Router{registry: registry}
}

// Rooms computes the rooms the caller joins for the descriptor. Any
// authorization failure returns before a single room is reported, so a
// rejected subscription never results in a partial join.
func (r *Router) Rooms(caller Caller, d topic.Descriptor) ([]string, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	admin := caller.Admin || r.registry.IsAdmin(caller.Subject)

	switch d.Scope() {
	case topic.ScopeCluster:
		if err := r.authorize(caller, admin, d.Namespace); err != nil {
			return nil, err
		}
		return []string{topic.ClusterRoom(d.Namespace, d.Name)}, nil

	case topic.ScopeNamespace:
		if err := r.authorize(caller, admin, d.Namespace); err != nil {
			return nil, err
		}
		if d.UnhealthyOnly {
			return []string{topic.NamespaceUnhealthyRoom(d.Namespace)}, nil
		}
		return []string{topic.NamespaceRoom(d.Namespace)}, nil

	default: // topic.ScopeAllNamespaces
		if admin {
			if d.UnhealthyOnly {
				return []string{topic.AllNamespacesUnhealthyRoom()}, nil
			}
			return []string{topic.AllNamespacesRoom()}, nil
		}
		// Non-admin callers never join the global rooms; they get one room
		// per namespace their project memberships cover.
		namespaces := r.registry.NamespacesFor(caller.Subject)
		rooms := make([]string, 0, len(namespaces))
		for _, ns := range namespaces {
			if d.UnhealthyOnly {
				rooms = append(rooms, topic.NamespaceUnhealthyRoom(ns))
			} else {
				rooms = append(rooms, topic.NamespaceRoom(ns))
			}
		}
		return rooms, nil
	}
}

func (r *Router) authorize(caller Caller, admin bool, namespace string) error {
	if admin {
		return nil
	}
	if !r.registry.IsMember(caller.Subject, namespace) {
		return &apierrors.AuthorizationError{Subject: caller.Subject, Namespace: namespace}
	}
	return nil
}
