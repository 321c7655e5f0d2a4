package watch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	k8swatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/project"
)

// ShootGVR is the group-version-resource of the shoot custom resource.
var ShootGVR = schema.GroupVersionResource{
	Group:    "core.fleet.dev",
	Version:  "v1beta1",
	Resource: "shoots",
}

// K8sConfig holds cluster connection settings for the shoot watch.
type K8sConfig struct {
	KubeconfigPath string
}

// K8sShootSource watches the shoot custom resource via the dynamic client
// and converts unstructured objects into model.Shoot, resolving the owning
// project name from the registry.
type K8sShootSource struct {
	client   dynamic.Interface
	projects *project.Registry
	logger   zerolog.Logger
}

// NewK8sShootSource creates a source from kubeconfig or in-cluster config.
func NewK8sShootSource(cfg K8sConfig, projects *project.Registry, logger zerolog.Logger) (*K8sShootSource, error) {
	var restConfig *rest.Config
	var err error

	if cfg.KubeconfigPath != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.KubeconfigPath)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building k8s config: %w", err)
	}

	client, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}

	return &K8sShootSource{
		client:   client,
		projects: projects,
		logger:   logger.With().Str("component", "shoot-source").Logger(),
	}, nil
}

// NewK8sShootSourceFromInterface creates a source from an existing dynamic
// client (for testing).
func NewK8sShootSourceFromInterface(client dynamic.Interface, projects *project.Registry, logger zerolog.Logger) *K8sShootSource {
	return &K8sShootSource{
		client:   client,
		projects: projects,
		logger:   logger.With().Str("component", "shoot-source").Logger(),
	}
}

// Name implements ShootSource.
func (s *K8sShootSource) Name() string { return "k8s-shoots" }

// Run implements ShootSource. The watch is re-established on expiry from the
// last observed resource version; per-object ordering is preserved by the
// API server's watch semantics.
func (s *K8sShootSource) Run(ctx context.Context, out chan<- model.ShootEvent) error {
	resourceVersion := ""
	for {
		w, err := s.client.Resource(ShootGVR).Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
			ResourceVersion:     resourceVersion,
			AllowWatchBookmarks: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("starting shoot watch: %w", err)
		}

		rv, err := s.consume(ctx, w, out, resourceVersion)
		w.Stop()
		if err != nil {
			return err
		}
		resourceVersion = rv
		s.logger.Info().Str("resourceVersion", resourceVersion).Msg("shoot watch restarting")
	}
}

func (s *K8sShootSource) consume(ctx context.Context, w k8swatch.Interface, out chan<- model.ShootEvent, rv string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return rv, ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return rv, nil
			}
			switch ev.Type {
			case k8swatch.Added, k8swatch.Modified, k8swatch.Deleted:
			case k8swatch.Bookmark:
				if u, ok := ev.Object.(*unstructured.Unstructured); ok {
					rv = u.GetResourceVersion()
				}
				continue
			default:
				s.logger.Warn().Str("type", string(ev.Type)).Msg("unexpected watch event ignored")
				continue
			}

			u, ok := ev.Object.(*unstructured.Unstructured)
			if !ok {
				s.logger.Warn().Str("type", string(ev.Type)).Msg("non-unstructured watch object ignored")
				continue
			}
			shoot := convertShoot(u, s.projects)
			rv = u.GetResourceVersion()

			select {
			case out <- model.ShootEvent{Type: ev.Type, Object: shoot}:
			case <-ctx.Done():
				return rv, ctx.Err()
			}
		}
	}
}

// convertShoot maps the unstructured shoot resource onto the dashboard
// model. Missing fields stay zero; malformed sub-structures are skipped
// rather than failing the event. The owning project name comes from the
// registry, keyed by the shoot's namespace.
func convertShoot(u *unstructured.Unstructured, projects *project.Registry) *model.Shoot {
	shoot := &model.Shoot{
		UID:               types.UID(u.GetUID()),
		Namespace:         u.GetNamespace(),
		Name:              u.GetName(),
		ResourceVersion:   u.GetResourceVersion(),
		CreationTimestamp: u.GetCreationTimestamp(),
		Annotations:       u.GetAnnotations(),
	}

	shoot.Purpose, _, _ = unstructured.NestedString(u.Object, "spec", "purpose")
	shoot.KubernetesVersion, _, _ = unstructured.NestedString(u.Object, "spec", "kubernetes", "version")
	shoot.InfrastructureType, _, _ = unstructured.NestedString(u.Object, "spec", "provider", "type")
	shoot.Region, _, _ = unstructured.NestedString(u.Object, "spec", "region")
	shoot.SeedName, _, _ = unstructured.NestedString(u.Object, "spec", "seedName")
	shoot.Hibernated, _, _ = unstructured.NestedBool(u.Object, "spec", "hibernation", "enabled")
	shoot.CreatedBy = u.GetAnnotations()["dashboard.fleet/created-by"]

	if projects != nil {
		if p, ok := projects.ProjectFor(shoot.Namespace); ok {
			shoot.ProjectName = p.Name
		}
	}

	if conditions, found, _ := unstructured.NestedSlice(u.Object, "status", "conditions"); found {
		for _, raw := range conditions {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			cond := model.Condition{}
			cond.Type, _ = m["type"].(string)
			cond.Status, _ = m["status"].(string)
			cond.Message, _ = m["message"].(string)
			if ts, ok := m["lastTransitionTime"].(string); ok {
				_ = cond.LastTransitionTime.UnmarshalQueryParameter(ts)
			}
			shoot.Conditions = append(shoot.Conditions, cond)
		}
	}

	if op, found, _ := unstructured.NestedMap(u.Object, "status", "lastOperation"); found {
		lastOp := &model.LastOperation{}
		lastOp.Type, _ = op["type"].(string)
		lastOp.State, _ = op["state"].(string)
		lastOp.Description, _ = op["description"].(string)
		if progress, ok := op["progress"].(int64); ok {
			lastOp.Progress = int(progress)
		}
		shoot.LastOperation = lastOp
	}

	if lastErrors, found, _ := unstructured.NestedSlice(u.Object, "status", "lastErrors"); found {
		for _, raw := range lastErrors {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			le := model.LastError{}
			le.Description, _ = m["description"].(string)
			if codes, ok := m["codes"].([]any); ok {
				for _, c := range codes {
					if code, ok := c.(string); ok {
						le.Codes = append(le.Codes, code)
					}
				}
			}
			shoot.LastErrors = append(shoot.LastErrors, le)
		}
	}

	return shoot
}
