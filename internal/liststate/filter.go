package liststate

import (
	"strings"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// BoolFilter names one of the scoped boolean toggles. The toggles only take
// effect while the engine is in the all-namespaces issues-only scope; each
// enabled filter is an independent AND-ed predicate, so their evaluation
// order carries no meaning.
type BoolFilter string

const (
	FilterHideProgressing  BoolFilter = "hideProgressing"
	FilterHideUserIssues   BoolFilter = "hideUserIssues"
	FilterHideDeactivated  BoolFilter = "hideDeactivated"
	FilterHideTicketLabels BoolFilter = "hideTicketLabels"
)

// matchesSearch applies the free-text search: a shoot matches if any token
// is a case-sensitive substring of any searchable field. An empty token
// list matches everything.
func (e *Engine) matchesSearch(s *model.Shoot) bool {
	if len(e.searchTokens) == 0 {
		return true
	}
	fields := []string{
		s.Name,
		strings.TrimSpace(s.InfrastructureType + " " + s.Region),
		s.SeedName,
		s.ProjectName,
		s.CreatedBy,
		s.Purpose,
		s.KubernetesVersion,
	}
	for _, t := range e.tickets[s.Key()] {
		fields = append(fields, t.Labels...)
	}
	for _, token := range e.searchTokens {
		for _, field := range fields {
			if field != "" && strings.Contains(field, token) {
				return true
			}
		}
	}
	return false
}

// passesBoolFilters applies the enabled scoped toggles.
func (e *Engine) passesBoolFilters(s *model.Shoot) bool {
	if !e.issuesScope {
		return true
	}
	if e.filters[FilterHideProgressing] && s.InProgress() {
		return false
	}
	if e.filters[FilterHideUserIssues] && s.HasUserError() {
		return false
	}
	if e.filters[FilterHideDeactivated] && s.ReconciliationDeactivated() {
		return false
	}
	if e.filters[FilterHideTicketLabels] && e.hasSuppressedTicketLabel(s.Key()) {
		return false
	}
	return true
}

// hasSuppressedTicketLabel reports whether any ticket of the shoot carries a
// label from the configured suppression list. A shoot with no tickets is
// never excluded.
func (e *Engine) hasSuppressedTicketLabel(key model.Key) bool {
	tickets := e.tickets[key]
	if len(tickets) == 0 {
		return false
	}
	for _, t := range tickets {
		for _, label := range t.Labels {
			if e.suppressedLabels[label] {
				return true
			}
		}
	}
	return false
}
