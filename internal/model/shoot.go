// Package model defines the resource objects flowing through the dashboard:
// shoots, tickets, ticket comments, and the change events that carry them.
package model

import (
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Annotation that takes a shoot out of automated reconciliation.
const AnnotationReconcileIgnore = "dashboard.fleet/ignore"

// Condition status values, mirroring the upstream API.
const (
	ConditionTrue        = "True"
	ConditionFalse       = "False"
	ConditionUnknown     = "Unknown"
	ConditionProgressing = "Progressing"
)

// Last operation states.
const (
	OperationProcessing = "Processing"
	OperationSucceeded  = "Succeeded"
	OperationError      = "Error"
	OperationFailed     = "Failed"
	OperationPending    = "Pending"
	OperationAborted    = "Aborted"
)

// Error codes classified as user-caused. A failure carrying only these codes
// is something the cluster owner must fix, not the operators.
var userErrorCodes = map[string]bool{
	"ERR_INFRA_UNAUTHORIZED":            true,
	"ERR_INFRA_INSUFFICIENT_PRIVILEGES": true,
	"ERR_INFRA_QUOTA_EXCEEDED":          true,
	"ERR_INFRA_RATE_LIMITS_EXCEEDED":    true,
	"ERR_INFRA_DEPENDENCIES":            true,
	"ERR_CONFIGURATION_PROBLEM":         true,
}

// Key identifies a shoot by namespace and name.
type Key struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// Condition is one entry of a shoot's status conditions.
type Condition struct {
	Type               string      `json:"type"`
	Status             string      `json:"status"`
	LastTransitionTime metav1.Time `json:"lastTransitionTime"`
	Message            string      `json:"message,omitempty"`
}

// LastOperation describes the most recent reconciliation step.
type LastOperation struct {
	Type        string `json:"type"`
	State       string `json:"state"`
	Progress    int    `json:"progress"`
	Description string `json:"description,omitempty"`
}

// LastError is one entry of a shoot's status lastErrors.
type LastError struct {
	Description string   `json:"description"`
	Codes       []string `json:"codes,omitempty"`
}

// ClusterInfo is side-channel data fetched out of band (kubeconfig endpoint,
// dashboard URLs). It is attached locally by the consumer and must survive
// event merges.
type ClusterInfo struct {
	Endpoint     string `json:"endpoint,omitempty"`
	DashboardURL string `json:"dashboardUrl,omitempty"`
}

// Shoot is the dashboard's view of a managed cluster resource.
type Shoot struct {
	UID               types.UID         `json:"uid"`
	Namespace         string            `json:"namespace"`
	Name              string            `json:"name"`
	ResourceVersion   string            `json:"resourceVersion"`
	CreationTimestamp metav1.Time       `json:"creationTimestamp"`
	Annotations       map[string]string `json:"annotations,omitempty"`

	Purpose            string `json:"purpose,omitempty"`
	KubernetesVersion  string `json:"kubernetesVersion,omitempty"`
	InfrastructureType string `json:"infrastructureType,omitempty"`
	Region             string `json:"region,omitempty"`
	SeedName           string `json:"seedName,omitempty"`
	ProjectName        string `json:"projectName,omitempty"`
	CreatedBy          string `json:"createdBy,omitempty"`
	Hibernated         bool   `json:"hibernated,omitempty"`

	Conditions    []Condition    `json:"conditions,omitempty"`
	LastOperation *LastOperation `json:"lastOperation,omitempty"`
	LastErrors    []LastError    `json:"lastErrors,omitempty"`

	// Attached locally, never delivered by the event source.
	Info *ClusterInfo `json:"info,omitempty"`
}

// Key returns the shoot's collection key.
func (s *Shoot) Key() Key {
	return Key{Namespace: s.Namespace, Name: s.Name}
}

// ReconciliationDeactivated reports whether automated reconciliation is
// switched off via annotation.
func (s *Shoot) ReconciliationDeactivated() bool {
	return strings.EqualFold(s.Annotations[AnnotationReconcileIgnore], "true")
}

// HasFailure reports whether the last operation ended in a failure state or
// the status carries last errors.
func (s *Shoot) HasFailure() bool {
	if len(s.LastErrors) > 0 {
		return true
	}
	if s.LastOperation == nil {
		return false
	}
	return s.LastOperation.State == OperationFailed || s.LastOperation.State == OperationError
}

// HasUserError reports whether every failure code is user-caused.
func (s *Shoot) HasUserError() bool {
	if len(s.LastErrors) == 0 {
		return false
	}
	for _, le := range s.LastErrors {
		if len(le.Codes) == 0 {
			return false
		}
		for _, code := range le.Codes {
			if !userErrorCodes[code] {
				return false
			}
		}
	}
	return true
}

// InProgress reports whether an operation is currently running. A just-started
// reconcile reports Processing with zero progress and still counts.
func (s *Shoot) InProgress() bool {
	op := s.LastOperation
	if op == nil {
		return false
	}
	if op.State == OperationProcessing {
		return true
	}
	return op.Progress > 0 && op.Progress != 100 && op.State != OperationFailed
}

// HasIssue is the health predicate: true if the shoot should appear in
// unhealthy-only views. Any non-True condition or any failure counts.
func (s *Shoot) HasIssue() bool {
	if s.HasFailure() {
		return true
	}
	for _, c := range s.Conditions {
		if c.Status != ConditionTrue {
			return true
		}
	}
	return false
}

// OldestIssueTransition returns the earliest lastTransitionTime among all
// non-True conditions, and false if no condition is failing.
func (s *Shoot) OldestIssueTransition() (metav1.Time, bool) {
	var oldest metav1.Time
	found := false
	for _, c := range s.Conditions {
		if c.Status == ConditionTrue {
			continue
		}
		if !found || c.LastTransitionTime.Before(&oldest) {
			oldest = c.LastTransitionTime
		}
		found = true
	}
	return oldest, found
}
