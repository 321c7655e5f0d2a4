package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// UpsertTicket inserts or replaces a ticket row.
func (s *Store) UpsertTicket(ctx context.Context, t *model.Ticket) error {
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshaling labels: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (number, namespace, name, title, state, labels, html_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			namespace = excluded.namespace,
			name = excluded.name,
			title = excluded.title,
			state = excluded.state,
			labels = excluded.labels,
			html_url = excluded.html_url,
			updated_at = excluded.updated_at`,
		t.Number, t.Namespace, t.Name, t.Title, t.State, string(labels), t.HTMLURL, t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting ticket %d: %w", t.Number, err)
	}
	return nil
}

// DeleteTicket removes a ticket and its comments.
func (s *Store) DeleteTicket(ctx context.Context, number int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE ticket_number = ?`, number); err != nil {
		return fmt.Errorf("deleting comments of ticket %d: %w", number, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE number = ?`, number); err != nil {
		return fmt.Errorf("deleting ticket %d: %w", number, err)
	}
	return nil
}

// GetTicket loads one ticket by number.
func (s *Store) GetTicket(ctx context.Context, number int) (*model.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT number, namespace, name, title, state, labels, html_url, updated_at
		FROM tickets WHERE number = ?`, number)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListTickets loads every cached ticket.
func (s *Store) ListTickets(ctx context.Context) ([]*model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, namespace, name, title, state, labels, html_url, updated_at
		FROM tickets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpsertComment inserts or replaces a comment row.
func (s *Store) UpsertComment(ctx context.Context, c *model.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, ticket_number, namespace, name, author, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author = excluded.author,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		c.ID, c.TicketNumber, c.Namespace, c.Name, c.Author, c.Body, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting comment %d: %w", c.ID, err)
	}
	return nil
}

// DeleteComment removes one comment.
func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting comment %d: %w", id, err)
	}
	return nil
}

// ListComments loads the cached comments of one ticket, newest first.
func (s *Store) ListComments(ctx context.Context, ticketNumber int) ([]*model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_number, namespace, name, author, body, updated_at
		FROM comments WHERE ticket_number = ? ORDER BY updated_at DESC`, ticketNumber)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		var c model.Comment
		var updated int64
		if err := rows.Scan(&c.ID, &c.TicketNumber, &c.Namespace, &c.Name, &c.Author, &c.Body, &updated); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var t model.Ticket
	var labels string
	var updated int64
	if err := row.Scan(&t.Number, &t.Namespace, &t.Name, &t.Title, &t.State, &labels, &t.HTMLURL, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("parsing labels of ticket %d: %w", t.Number, err)
	}
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return &t, nil
}
