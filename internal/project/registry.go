// Package project holds the namespace-to-project mapping and membership
// data used to authorize subscriptions.
package project

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Project associates a namespace with its owning project and members.
type Project struct {
	Name      string   `yaml:"name"`
	Namespace string   `yaml:"namespace"`
	Owner     string   `yaml:"owner"`
	Members   []string `yaml:"members"`
}

// registryFile is the on-disk shape of the projects file.
type registryFile struct {
	Admins   []string  `yaml:"admins"`
	Projects []Project `yaml:"projects"`
}

// Registry answers membership and admin questions. Safe for concurrent use;
// Reload swaps the whole data set atomically.
type Registry struct {
	mu          sync.RWMutex
	byNamespace map[string]*Project
	admins      map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byNamespace: make(map[string]*Project),
		admins:      make(map[string]bool),
	}
}

// LoadFile reads a projects YAML file into a new registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading projects file: %w", err)
	}
	r := NewRegistry()
	if err := r.load(data); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(data []byte) error {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing projects file: %w", err)
	}

	byNamespace := make(map[string]*Project, len(f.Projects))
	for i := range f.Projects {
		p := f.Projects[i]
		if p.Namespace == "" {
			return fmt.Errorf("project %q has no namespace", p.Name)
		}
		if _, dup := byNamespace[p.Namespace]; dup {
			return fmt.Errorf("namespace %q mapped to more than one project", p.Namespace)
		}
		byNamespace[p.Namespace] = &p
	}
	admins := make(map[string]bool, len(f.Admins))
	for _, a := range f.Admins {
		admins[a] = true
	}

	r.mu.Lock()
	r.byNamespace = byNamespace
	r.admins = admins
	r.mu.Unlock()
	return nil
}

// Put registers a project, replacing any project for the same namespace.
func (r *Registry) Put(p Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNamespace[p.Namespace] = &p
}

// SetAdmin marks or unmarks a subject as admin.
func (r *Registry) SetAdmin(subject string, admin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if admin {
		r.admins[subject] = true
	} else {
		delete(r.admins, subject)
	}
}

// IsAdmin reports whether the subject has the admin role.
func (r *Registry) IsAdmin(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[subject]
}

// IsMember reports whether the subject belongs to the project owning the
// namespace. The owner always counts as a member.
func (r *Registry) IsMember(subject, namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byNamespace[namespace]
	if !ok {
		return false
	}
	if p.Owner == subject {
		return true
	}
	for _, m := range p.Members {
		if m == subject {
			return true
		}
	}
	return false
}

// NamespacesFor enumerates every namespace whose project the subject
// belongs to, sorted for deterministic room sets.
func (r *Registry) NamespacesFor(subject string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var namespaces []string
	for ns, p := range r.byNamespace {
		if p.Owner == subject {
			namespaces = append(namespaces, ns)
			continue
		}
		for _, m := range p.Members {
			if m == subject {
				namespaces = append(namespaces, ns)
				break
			}
		}
	}
	sort.Strings(namespaces)
	return namespaces
}

// ProjectFor returns the project owning a namespace.
func (r *Registry) ProjectFor(namespace string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byNamespace[namespace]
	if !ok {
		return Project{}, false
	}
	return *p, true
}
