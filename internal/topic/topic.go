// Package topic defines subscription descriptors and the canonical mapping
// from a descriptor to fan-out room identifiers. Room naming is a pure
// function so it can be tested in isolation; nothing else in the codebase
// concatenates room strings.
package topic

import (
	"fmt"
	"net/url"
	"strconv"
)

// Scope classifies what a subscription descriptor addresses.
type Scope int

const (
	// ScopeCluster targets a single shoot by namespace and name.
	ScopeCluster Scope = iota
	// ScopeNamespace targets every shoot in one namespace.
	ScopeNamespace
	// ScopeAllNamespaces targets every shoot visible to the caller.
	ScopeAllNamespaces
)

// Descriptor describes the desired subscription scope. Exactly one
// descriptor is active per client per topic at a time.
type Descriptor struct {
	Namespace     string
	Name          string
	UnhealthyOnly bool
}

// Scope derives the scope kind from the populated fields.
func (d Descriptor) Scope() Scope {
	switch {
	case d.Namespace != "" && d.Name != "":
		return ScopeCluster
	case d.Namespace != "":
		return ScopeNamespace
	default:
		return ScopeAllNamespaces
	}
}

// Validate rejects descriptors that name a cluster without a namespace.
func (d Descriptor) Validate() error {
	if d.Name != "" && d.Namespace == "" {
		return fmt.Errorf("descriptor names cluster %q without a namespace", d.Name)
	}
	return nil
}

// EncodeFilter renders the descriptor as the URL-encoded filter string of
// the subscribe protocol.
func (d Descriptor) EncodeFilter() string {
	v := url.Values{}
	if d.Namespace != "" {
		v.Set("namespace", d.Namespace)
	}
	if d.Name != "" {
		v.Set("name", d.Name)
	}
	if d.UnhealthyOnly {
		v.Set("unhealthy", "true")
	}
	return v.Encode()
}

// ParseFilter parses a subscribe filter string back into a descriptor.
func ParseFilter(filter string) (Descriptor, error) {
	v, err := url.ParseQuery(filter)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parsing filter: %w", err)
	}
	d := Descriptor{
		Namespace: v.Get("namespace"),
		Name:      v.Get("name"),
	}
	if raw := v.Get("unhealthy"); raw != "" {
		unhealthy, err := strconv.ParseBool(raw)
		if err != nil {
			return Descriptor{}, fmt.Errorf("parsing unhealthy flag: %w", err)
		}
		d.UnhealthyOnly = unhealthy
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// ClusterRoom is the room for one shoot.
func ClusterRoom(namespace, name string) string {
	return "shoots/namespace/" + namespace + "/cluster/" + name
}

// NamespaceRoom is the room for every shoot in a namespace.
func NamespaceRoom(namespace string) string {
	return "shoots/namespace/" + namespace + "/all-clusters"
}

// AllNamespacesRoom is the room for every shoot everywhere.
func AllNamespacesRoom() string {
	return "shoots/all-namespaces/all-clusters"
}

// NamespaceUnhealthyRoom is the room for shoots with issues in a namespace.
func NamespaceUnhealthyRoom(namespace string) string {
	return "shoot/namespace/" + namespace + "/unhealthy-clusters"
}

// AllNamespacesUnhealthyRoom is the room for shoots with issues everywhere.
func AllNamespacesUnhealthyRoom() string {
	return "shoot/all-namespaces/unhealthy-clusters"
}

// ObjectRooms returns the non-health-filtered rooms every change event for
// the given shoot belongs to: exact resource, owning namespace, global.
func ObjectRooms(namespace, name string) []string {
	return []string{
		ClusterRoom(namespace, name),
		NamespaceRoom(namespace),
		AllNamespacesRoom(),
	}
}

// UnhealthyRooms returns the health-filtered rooms for a shoot's namespace.
func UnhealthyRooms(namespace string) []string {
	return []string{
		NamespaceUnhealthyRoom(namespace),
		AllNamespacesUnhealthyRoom(),
	}
}
