package liststate

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// Column selects the active sort column. The set is closed; anything not
// listed here falls back to the case-insensitive lexicographic comparison
// of its raw field value.
type Column string

const (
	ColumnName          Column = "name"
	ColumnVersion       Column = "k8sVersion"
	ColumnReadiness     Column = "readiness"
	ColumnLastOperation Column = "lastOperation"
	ColumnPurpose       Column = "purpose"
	ColumnProject       Column = "project"
	ColumnCreatedBy     Column = "createdBy"
	ColumnSeed          Column = "seed"
	ColumnRegion        Column = "region"
)

// Purpose precedence: infrastructure < production < development <
// evaluation < anything else or unset.
var purposeRank = map[string]int{
	"infrastructure": 0,
	"production":     1,
	"development":    2,
	"evaluation":     3,
}

func rankPurpose(purpose string) int {
	if r, ok := purposeRank[purpose]; ok {
		return r
	}
	return 4
}

// rankOperation maps a shoot to its triage priority bucket for the
// lastOperation column. Lower ranks first when ascending. In-progress
// buckets sub-order by progress percentage within the bucket.
func rankOperation(s *model.Shoot) int {
	deactivated := s.ReconciliationDeactivated()
	failed := s.HasFailure()
	userError := s.HasUserError()
	inProgress := s.InProgress()
	progress := 0
	if s.LastOperation != nil {
		progress = s.LastOperation.Progress
	}

	switch {
	case deactivated && failed:
		return 0
	case deactivated:
		return 100
	case failed && !userError && !inProgress:
		return 200
	case failed && userError && !inProgress:
		return 300
	case failed && !userError && inProgress:
		return 400 + progress
	case failed && userError && inProgress:
		return 500 + progress
	case inProgress:
		return 600 + progress
	case s.Hibernated:
		return 700
	default:
		return 800
	}
}

// comparator is a three-way ascending comparison of the primary sort key
// only; name tie-breaking and direction are handled by the engine.
type comparator func(a, b *model.Shoot) int

var comparators = map[Column]comparator{
	ColumnName: func(a, b *model.Shoot) int {
		return strings.Compare(a.Name, b.Name)
	},
	ColumnVersion:       compareVersions,
	ColumnLastOperation: compareInts(rankOperation),
	ColumnPurpose: compareInts(func(s *model.Shoot) int {
		return rankPurpose(s.Purpose)
	}),
}

func compareInts(rank func(*model.Shoot) int) comparator {
	return func(a, b *model.Shoot) int {
		ra, rb := rank(a), rank(b)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	}
}

// compareVersions orders Kubernetes versions semantically, not
// lexicographically. Unparsable versions sort after parsable ones.
func compareVersions(a, b *model.Shoot) int {
	va, errA := semver.NewVersion(a.KubernetesVersion)
	vb, errB := semver.NewVersion(b.KubernetesVersion)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a.KubernetesVersion, b.KubernetesVersion)
	}
}

// rawValue resolves the field behind a non-specialized column.
func rawValue(s *model.Shoot, col Column) string {
	switch col {
	case ColumnProject:
		return s.ProjectName
	case ColumnCreatedBy:
		return s.CreatedBy
	case ColumnSeed:
		return s.SeedName
	case ColumnRegion:
		return s.Region
	default:
		return ""
	}
}

func compareFor(col Column) comparator {
	if cmp, ok := comparators[col]; ok {
		return cmp
	}
	return func(a, b *model.Shoot) int {
		return strings.Compare(strings.ToLower(rawValue(a, col)), strings.ToLower(rawValue(b, col)))
	}
}

// less builds the full ordering for the active sort parameters: primary
// column (direction-aware), then name ascending as the final tie-break for
// every column. The readiness column is special: objects without failing
// conditions sort last regardless of direction.
func less(a, b *model.Shoot, col Column, descending bool) bool {
	if col == ColumnReadiness {
		return readinessLess(a, b, descending)
	}

	c := compareFor(col)(a, b)
	if c == 0 {
		return a.Name < b.Name
	}
	if descending {
		c = -c
	}
	return c < 0
}

func readinessLess(a, b *model.Shoot, descending bool) bool {
	ta, issueA := a.OldestIssueTransition()
	tb, issueB := b.OldestIssueTransition()

	if issueA != issueB {
		return issueA
	}
	if !issueA {
		return a.Name < b.Name
	}

	c := 0
	switch {
	case ta.Before(&tb):
		c = -1
	case tb.Before(&ta):
		c = 1
	}
	if c == 0 {
		return a.Name < b.Name
	}
	if descending {
		c = -c
	}
	return c < 0
}

// sortKeyChanged reports whether an update could move the shoot within the
// active sort order; if not, the re-sort is skipped.
func sortKeyChanged(old, updated *model.Shoot, col Column) bool {
	switch col {
	case ColumnName:
		return old.Name != updated.Name
	case ColumnReadiness:
		to, issueO := old.OldestIssueTransition()
		tn, issueN := updated.OldestIssueTransition()
		if issueO != issueN {
			return true
		}
		return issueO && !to.Equal(&tn)
	default:
		return compareFor(col)(old, updated) != 0
	}
}
