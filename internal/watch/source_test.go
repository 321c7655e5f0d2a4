package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8swatch "k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/project"
)

type scriptedSource struct {
	events []model.ShootEvent
	err    error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Run(ctx context.Context, out chan<- model.ShootEvent) error {
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.ShootEvent
}

func (r *recordingSink) OnShootEvent(ev model.ShootEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []model.ShootEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ShootEvent(nil), r.events...)
}

func TestRunnerPreservesOrder(t *testing.T) {
	events := []model.ShootEvent{
		{Type: k8swatch.Added, Object: &model.Shoot{Name: "a", ResourceVersion: "1"}},
		{Type: k8swatch.Modified, Object: &model.Shoot{Name: "a", ResourceVersion: "2"}},
		{Type: k8swatch.Deleted, Object: &model.Shoot{Name: "a", ResourceVersion: "3"}},
	}
	sink := &recordingSink{}
	runner := NewRunner(&scriptedSource{events: events}, sink, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	for i, ev := range sink.snapshot() {
		assert.Equal(t, events[i].Type, ev.Type, "event %d out of order", i)
		assert.Equal(t, events[i].Object.ResourceVersion, ev.Object.ResourceVersion)
	}
}

func TestRunnerReportsSourceFailure(t *testing.T) {
	boom := errors.New("stream broken")
	runner := NewRunner(&scriptedSource{err: boom}, &recordingSink{}, zerolog.Nop())

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	runner := NewRunner(&scriptedSource{}, &recordingSink{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancellation")
	}
}

func TestConvertShoot(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "core.fleet.dev/v1beta1",
		"kind":       "Shoot",
		"metadata": map[string]any{
			"uid":             "abc-123",
			"namespace":       "garden-core",
			"name":            "api",
			"resourceVersion": "42",
			"annotations": map[string]any{
				"dashboard.fleet/created-by": "alice",
				"dashboard.fleet/ignore":     "true",
			},
		},
		"spec": map[string]any{
			"purpose": "production",
			"region":  "eu-west-1",
			"kubernetes": map[string]any{
				"version": "1.28.4",
			},
			"provider": map[string]any{
				"type": "aws",
			},
			"seedName": "seed-eu-1",
			"hibernation": map[string]any{
				"enabled": true,
			},
		},
		"status": map[string]any{
			"conditions": []any{
				map[string]any{
					"type":               "APIServerAvailable",
					"status":             "False",
					"message":            "apiserver unreachable",
					"lastTransitionTime": "2026-08-29T10:00:00Z",
				},
			},
			"lastOperation": map[string]any{
				"type":        "Reconcile",
				"state":       "Processing",
				"progress":    int64(40),
				"description": "reconciling",
			},
			"lastErrors": []any{
				map[string]any{
					"description": "quota exceeded",
					"codes":       []any{"ERR_INFRA_QUOTA_EXCEEDED"},
				},
			},
		},
	}}

	registry := project.NewRegistry()
	registry.Put(project.Project{Name: "core", Namespace: "garden-core", Owner: "alice"})

	shoot := convertShoot(u, registry)
	assert.Equal(t, "garden-core", shoot.Namespace)
	assert.Equal(t, "api", shoot.Name)
	assert.Equal(t, "42", shoot.ResourceVersion)
	assert.Equal(t, "production", shoot.Purpose)
	assert.Equal(t, "1.28.4", shoot.KubernetesVersion)
	assert.Equal(t, "aws", shoot.InfrastructureType)
	assert.Equal(t, "eu-west-1", shoot.Region)
	assert.Equal(t, "seed-eu-1", shoot.SeedName)
	assert.Equal(t, "alice", shoot.CreatedBy)
	assert.Equal(t, "core", shoot.ProjectName, "owning project resolved from the registry")
	assert.True(t, shoot.Hibernated)
	assert.True(t, shoot.ReconciliationDeactivated())

	require.Len(t, shoot.Conditions, 1)
	assert.Equal(t, "APIServerAvailable", shoot.Conditions[0].Type)
	assert.Equal(t, model.ConditionFalse, shoot.Conditions[0].Status)
	assert.False(t, shoot.Conditions[0].LastTransitionTime.IsZero())

	require.NotNil(t, shoot.LastOperation)
	assert.Equal(t, 40, shoot.LastOperation.Progress)
	assert.Equal(t, model.OperationProcessing, shoot.LastOperation.State)

	require.Len(t, shoot.LastErrors, 1)
	assert.Equal(t, []string{"ERR_INFRA_QUOTA_EXCEEDED"}, shoot.LastErrors[0].Codes)

	assert.True(t, shoot.HasIssue())
	assert.True(t, shoot.HasUserError())
}

func TestConvertShootMinimal(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]any{
		"metadata": map[string]any{
			"namespace": "garden-core",
			"name":      "bare",
		},
	}}
	shoot := convertShoot(u, nil)
	assert.Equal(t, "bare", shoot.Name)
	assert.Empty(t, shoot.Conditions)
	assert.Nil(t, shoot.LastOperation)
	assert.False(t, shoot.HasIssue())
	assert.Empty(t, shoot.ProjectName)
}

func TestConvertShootUnmappedNamespace(t *testing.T) {
	u := &unstructured.Unstructured{Object: map[string]any{
		"metadata": map[string]any{
			"namespace": "garden-unmapped",
			"name":      "api",
		},
	}}
	shoot := convertShoot(u, project.NewRegistry())
	assert.Empty(t, shoot.ProjectName, "namespaces without a project stay unnamed")
}
