package liststate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

func filterTestEngine(t *testing.T, labels ...string) *Engine {
	t.Helper()
	return New(Config{ThrottleWindow: time.Hour, SuppressedTicketLabels: labels}, zerolog.Nop())
}

func applyAll(e *Engine, shoots ...*model.Shoot) {
	for _, s := range shoots {
		if s.ResourceVersion == "" {
			s.ResourceVersion = "1"
		}
		if s.Namespace == "" {
			s.Namespace = "garden-core"
		}
		e.Apply(model.ShootEvent{Type: watch.Added, Object: s})
	}
}

func filteredNames(e *Engine) []string {
	keys := e.SortedAndFilteredKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return names
}

func TestSearchTokensAreORed(t *testing.T) {
	e := filterTestEngine(t)
	applyAll(e,
		&model.Shoot{Name: "prod-api", InfrastructureType: "aws", Region: "eu-west-1"},
		&model.Shoot{Name: "dev-api", InfrastructureType: "gcp", Region: "us-east1"},
		&model.Shoot{Name: "misc", InfrastructureType: "azure", Region: "westeurope"},
	)

	// Any token matching any field keeps the entry.
	e.SetSearchValue("prod aws")
	assert.Equal(t, []string{"prod-api"}, filteredNames(e))

	e.SetSearchValue("prod gcp")
	assert.ElementsMatch(t, []string{"prod-api", "dev-api"}, filteredNames(e))
}

func TestSearchMatchesInfrastructureAndRegion(t *testing.T) {
	e := filterTestEngine(t)
	applyAll(e, &model.Shoot{Name: "api", InfrastructureType: "aws", Region: "eu-west-1"})

	e.SetSearchValue("eu-west")
	assert.Equal(t, []string{"api"}, filteredNames(e))

	e.SetSearchValue("aws")
	assert.Equal(t, []string{"api"}, filteredNames(e))
}

func TestSearchIsCaseSensitive(t *testing.T) {
	e := filterTestEngine(t)
	applyAll(e, &model.Shoot{Name: "Production"})

	e.SetSearchValue("Production")
	assert.Len(t, filteredNames(e), 1)

	e.SetSearchValue("production")
	assert.Empty(t, filteredNames(e))
}

func TestSearchMatchesTicketLabels(t *testing.T) {
	e := filterTestEngine(t)
	applyAll(e, &model.Shoot{Name: "api"}, &model.Shoot{Name: "web"})
	e.ApplyTicket(model.TicketEvent{Type: watch.Added, Object: &model.Ticket{
		Number: 1, Namespace: "garden-core", Name: "api",
		Labels: []string{"ignore-alerts"}, UpdatedAt: time.Now(),
	}})

	e.SetSearchValue("ignore-alerts")
	assert.Equal(t, []string{"api"}, filteredNames(e))
}

func TestBoolFiltersOnlyApplyInIssuesScope(t *testing.T) {
	e := filterTestEngine(t)
	progressing := &model.Shoot{
		Name:          "progressing",
		LastOperation: &model.LastOperation{State: model.OperationProcessing, Progress: 50},
	}
	applyAll(e, progressing, &model.Shoot{Name: "steady"})

	e.SetBooleanFilter(FilterHideProgressing, true)
	assert.Len(t, filteredNames(e), 2, "filters are inert outside the issues scope")

	e.SetIssuesScope(true)
	assert.Equal(t, []string{"steady"}, filteredNames(e))

	e.SetIssuesScope(false)
	assert.Len(t, filteredNames(e), 2)
}

func TestHideProgressingCatchesFreshReconcile(t *testing.T) {
	e := filterTestEngine(t)
	fresh := &model.Shoot{
		Name:          "just-started",
		LastOperation: &model.LastOperation{State: model.OperationProcessing, Progress: 0},
	}
	applyAll(e, fresh, &model.Shoot{Name: "steady"})

	e.SetIssuesScope(true)
	e.SetBooleanFilter(FilterHideProgressing, true)
	assert.Equal(t, []string{"steady"}, filteredNames(e))
}

func TestBoolFiltersAreIndependent(t *testing.T) {
	e := filterTestEngine(t)
	userIssue := &model.Shoot{
		Name:       "user-issue",
		LastErrors: []model.LastError{{Codes: []string{"ERR_INFRA_QUOTA_EXCEEDED"}}},
	}
	deactivated := &model.Shoot{
		Name:        "deactivated",
		Annotations: map[string]string{model.AnnotationReconcileIgnore: "true"},
	}
	applyAll(e, userIssue, deactivated, &model.Shoot{Name: "plain"})
	e.SetIssuesScope(true)

	// Toggle order must not matter; each filter is an independent predicate.
	e.SetBooleanFilter(FilterHideUserIssues, true)
	e.SetBooleanFilter(FilterHideDeactivated, true)
	first := filteredNames(e)

	e.SetBooleanFilter(FilterHideUserIssues, false)
	e.SetBooleanFilter(FilterHideDeactivated, false)
	e.SetBooleanFilter(FilterHideDeactivated, true)
	e.SetBooleanFilter(FilterHideUserIssues, true)
	second := filteredNames(e)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"plain"}, first)
}

func TestHideTicketLabelsFilter(t *testing.T) {
	e := filterTestEngine(t, "ignore-alerts")
	applyAll(e, &model.Shoot{Name: "labeled"}, &model.Shoot{Name: "unlabeled"})
	e.ApplyTicket(model.TicketEvent{Type: watch.Added, Object: &model.Ticket{
		Number: 1, Namespace: "garden-core", Name: "labeled",
		Labels: []string{"ignore-alerts"}, UpdatedAt: time.Now(),
	}})

	e.SetIssuesScope(true)
	e.SetBooleanFilter(FilterHideTicketLabels, true)

	names := filteredNames(e)
	require.Len(t, names, 1)
	assert.Equal(t, "unlabeled", names[0], "shoots without suppressed labels stay visible")
}
