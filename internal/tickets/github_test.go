package tickets

import (
	"testing"
	"time"

	"github.com/google/go-github/v60/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func githubIssue(number int, title string, labels ...string) *github.Issue {
	updated := github.Timestamp{Time: time.Now()}
	issue := &github.Issue{
		Number:    github.Int(number),
		Title:     github.String(title),
		State:     github.String("open"),
		HTMLURL:   github.String("https://github.example/issues/1"),
		UpdatedAt: &updated,
	}
	for _, l := range labels {
		issue.Labels = append(issue.Labels, &github.Label{Name: github.String(l)})
	}
	return issue
}

func TestConvertIssue(t *testing.T) {
	ticket := convertIssue(githubIssue(7, "[garden-core/api] etcd keeps restarting", "kind/bug"))
	require.NotNil(t, ticket)
	assert.Equal(t, 7, ticket.Number)
	assert.Equal(t, "garden-core", ticket.Namespace)
	assert.Equal(t, "api", ticket.Name)
	assert.Equal(t, []string{"kind/bug"}, ticket.Labels)
	assert.Equal(t, "open", ticket.State)
}

func TestConvertIssueSkipsUnprefixedTitles(t *testing.T) {
	assert.Nil(t, convertIssue(githubIssue(1, "general question about quotas")))
	assert.Nil(t, convertIssue(githubIssue(2, "garden-core/api without brackets")))
	assert.Nil(t, convertIssue(githubIssue(3, "[not-a-pair] missing name")))
}

func TestConvertIssueSkipsPullRequests(t *testing.T) {
	issue := githubIssue(4, "[garden-core/api] fix")
	issue.PullRequestLinks = &github.PullRequestLinks{}
	assert.Nil(t, convertIssue(issue))
}

func TestConvertComment(t *testing.T) {
	ticket := convertIssue(githubIssue(7, "[garden-core/api] broken"))
	require.NotNil(t, ticket)

	updated := github.Timestamp{Time: time.Now()}
	gc := &github.IssueComment{
		ID:        github.Int64(42),
		Body:      github.String("restarted the pod"),
		User:      &github.User{Login: github.String("alice")},
		UpdatedAt: &updated,
	}
	comment := convertComment(gc, ticket)
	require.NotNil(t, comment)
	assert.Equal(t, int64(42), comment.ID)
	assert.Equal(t, 7, comment.TicketNumber)
	assert.Equal(t, "garden-core", comment.Namespace)
	assert.Equal(t, "api", comment.Name)
	assert.Equal(t, "alice", comment.Author)

	assert.Nil(t, convertComment(&github.IssueComment{}, ticket))
}

func TestTitlePrefixPattern(t *testing.T) {
	tests := []struct {
		title string
		ok    bool
	}{
		{"[garden-core/api] broken", true},
		{"[a/b]", true},
		{"no prefix", false},
		{"[garden-core] missing name", false},
		{"prefix not at start [a/b]", false},
	}
	for _, tt := range tests {
		m := titlePrefix.FindStringSubmatch(tt.title)
		assert.Equal(t, tt.ok, m != nil, "title %q", tt.title)
	}
}
