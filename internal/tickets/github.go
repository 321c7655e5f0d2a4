// Package tickets syncs GitHub issues into the dashboard as ticket and
// comment change events. Issues carry a "[namespace/name]" title prefix
// binding them to a shoot; the poller diffs each round against the SQLite
// cache and emits only actual changes.
package tickets

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/store"
)

var titlePrefix = regexp.MustCompile(`^\[([^/\]]+)/([^/\]]+)\]`)

// Sink consumes ticket and comment events; implemented by the dispatcher.
type Sink interface {
	OnTicketEvent(ev model.TicketEvent)
	OnCommentEvent(ev model.CommentEvent)
}

// Config holds ticket source settings.
type Config struct {
	Owner        string
	Repo         string
	Token        string
	PollInterval time.Duration
}

// Source polls the configured GitHub repository.
type Source struct {
	cfg    Config
	client *github.Client
	store  *store.Store
	sink   Sink
	logger zerolog.Logger
}

// NewSource creates a ticket source. A nil http client with a token uses
// the authenticated go-github client.
func NewSource(cfg Config, st *store.Store, sink Sink, logger zerolog.Logger) *Source {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Source{
		cfg:    cfg,
		client: client,
		store:  st,
		sink:   sink,
		logger: logger.With().Str("component", "tickets").Logger(),
	}
}

// NewSourceWithClient creates a source with an explicit go-github client
// (for testing against a local server).
func NewSourceWithClient(cfg Config, client *github.Client, st *store.Store, sink Sink, logger zerolog.Logger) *Source {
	s := NewSource(cfg, st, sink, logger)
	s.client = client
	return s
}

// Run polls until ctx is cancelled. The first round replays the cache as
// ADDED events so late-joining rooms start warm.
func (s *Source) Run(ctx context.Context) error {
	if err := s.replayCache(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("ticket cache replay failed")
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("ticket poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Source) replayCache(ctx context.Context) error {
	cached, err := s.store.ListTickets(ctx)
	if err != nil {
		return err
	}
	for _, t := range cached {
		s.sink.OnTicketEvent(model.TicketEvent{Type: watch.Added, Object: t})
		comments, err := s.store.ListComments(ctx, t.Number)
		if err != nil {
			return err
		}
		for _, c := range comments {
			s.sink.OnCommentEvent(model.CommentEvent{Type: watch.Added, Object: c})
		}
	}
	return nil
}

// poll fetches open issues, diffs them against the cache, and emits
// changes. Issues that vanished from the listing become DELETED events.
func (s *Source) poll(ctx context.Context) error {
	issues, err := s.listIssues(ctx)
	if err != nil {
		return err
	}

	cached, err := s.store.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("listing cached tickets: %w", err)
	}
	known := make(map[int]*model.Ticket, len(cached))
	for _, t := range cached {
		known[t.Number] = t
	}

	for _, issue := range issues {
		ticket := convertIssue(issue)
		if ticket == nil {
			continue
		}
		prev, seen := known[ticket.Number]
		delete(known, ticket.Number)

		switch {
		case !seen:
			if err := s.store.UpsertTicket(ctx, ticket); err != nil {
				return err
			}
			s.sink.OnTicketEvent(model.TicketEvent{Type: watch.Added, Object: ticket})
		case ticket.UpdatedAt.After(prev.UpdatedAt):
			if err := s.store.UpsertTicket(ctx, ticket); err != nil {
				return err
			}
			s.sink.OnTicketEvent(model.TicketEvent{Type: watch.Modified, Object: ticket})
		default:
			continue
		}

		if err := s.syncComments(ctx, ticket); err != nil {
			s.logger.Warn().Err(err).Int("ticket", ticket.Number).Msg("comment sync failed")
		}
	}

	// Whatever is left in the cache no longer shows up as an open issue.
	for _, stale := range known {
		if err := s.store.DeleteTicket(ctx, stale.Number); err != nil {
			return err
		}
		s.sink.OnTicketEvent(model.TicketEvent{Type: watch.Deleted, Object: stale})
	}
	return nil
}

func (s *Source) listIssues(ctx context.Context) ([]*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var all []*github.Issue
	for {
		issues, resp, err := s.client.Issues.ListByRepo(ctx, s.cfg.Owner, s.cfg.Repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *Source) syncComments(ctx context.Context, ticket *model.Ticket) error {
	cached, err := s.store.ListComments(ctx, ticket.Number)
	if err != nil {
		return err
	}
	known := make(map[int64]*model.Comment, len(cached))
	for _, c := range cached {
		known[c.ID] = c
	}

	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := s.client.Issues.ListComments(ctx, s.cfg.Owner, s.cfg.Repo, ticket.Number, opts)
		if err != nil {
			return fmt.Errorf("listing comments: %w", err)
		}
		for _, gc := range comments {
			comment := convertComment(gc, ticket)
			if comment == nil {
				continue
			}
			prev, seen := known[comment.ID]
			delete(known, comment.ID)

			evType := watch.Added
			if seen {
				if !comment.UpdatedAt.After(prev.UpdatedAt) {
					continue
				}
				evType = watch.Modified
			}
			if err := s.store.UpsertComment(ctx, comment); err != nil {
				return err
			}
			s.sink.OnCommentEvent(model.CommentEvent{Type: evType, Object: comment})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for _, stale := range known {
		if err := s.store.DeleteComment(ctx, stale.ID); err != nil {
			return err
		}
		s.sink.OnCommentEvent(model.CommentEvent{Type: watch.Deleted, Object: stale})
	}
	return nil
}

// convertIssue maps a GitHub issue onto a ticket; issues without the
// shoot title prefix are skipped.
func convertIssue(issue *github.Issue) *model.Ticket {
	if issue.GetPullRequestLinks() != nil {
		return nil
	}
	m := titlePrefix.FindStringSubmatch(issue.GetTitle())
	if m == nil {
		return nil
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &model.Ticket{
		Number:    issue.GetNumber(),
		Namespace: m[1],
		Name:      m[2],
		Title:     issue.GetTitle(),
		State:     issue.GetState(),
		Labels:    labels,
		HTMLURL:   issue.GetHTMLURL(),
		UpdatedAt: issue.GetUpdatedAt().Time.UTC(),
	}
}

func convertComment(gc *github.IssueComment, ticket *model.Ticket) *model.Comment {
	if gc.GetID() == 0 {
		return nil
	}
	return &model.Comment{
		ID:           gc.GetID(),
		TicketNumber: ticket.Number,
		Namespace:    ticket.Namespace,
		Name:         ticket.Name,
		Author:       gc.GetUser().GetLogin(),
		Body:         gc.GetBody(),
		UpdatedAt:    gc.GetUpdatedAt().Time.UTC(),
	}
}
