package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/drewfead/ticketd/internal/ticket"
)

const ticketColumns = `number, change_id, title, body, status, type, merge_to, milestone, topic,
	assigned_to, created_by, created_at, updated_at`

// NextTicketNumber allocates the next ticket number. Numbers start at 1 and
// are never reused, even when the push that allocated one is rejected.
func (s *Store) NextTicketNumber(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO ticket_counter (id, last) VALUES (1, 0)`); err != nil {
		return 0, err
	}
	// Keep the counter ahead of tickets created before it existed.
	if _, err := tx.ExecContext(ctx,
		`UPDATE ticket_counter SET last = MAX(last, (SELECT COALESCE(MAX(number), 0) FROM tickets)) + 1 WHERE id = 1`,
	); err != nil {
		return 0, err
	}

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT last FROM ticket_counter WHERE id = 1`).Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// GetTicket loads a full ticket snapshot with its watchers and patchsets.
// It returns (nil, nil) when no ticket has that number.
func (s *Store) GetTicket(ctx context.Context, number int64) (*ticket.Ticket, error) {
	return getTicket(ctx, s.db, number)
}

func getTicket(ctx context.Context, q querier, number int64) (*ticket.Ticket, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE number = ?`, number)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if t.Watchers, err = listWatchers(ctx, q, number); err != nil {
		return nil, err
	}
	if t.Patchsets, err = listPatchsets(ctx, q, number); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets returns ticket headers, newest update first, optionally
// filtered by status. Watchers and patchsets are not loaded.
func (s *Store) ListTickets(ctx context.Context, statusFilter ...ticket.Status) ([]*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if len(statusFilter) > 0 {
		query += ` WHERE status IN (?` + repeatSQL(len(statusFilter)-1) + `)`
		for _, st := range statusFilter {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY updated_at DESC, number DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*ticket.Ticket, error) {
	var t ticket.Ticket
	var status, typ string
	err := row.Scan(&t.Number, &t.ChangeID, &t.Title, &t.Body, &status, &typ, &t.MergeTo,
		&t.Milestone, &t.Topic, &t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Status, err = ticket.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("ticket %d: %w", t.Number, err)
	}
	if t.Type, err = ticket.ParseType(typ); err != nil {
		return nil, fmt.Errorf("ticket %d: %w", t.Number, err)
	}
	return &t, nil
}

func listWatchers(ctx context.Context, q querier, number int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM watchers WHERE number = ? ORDER BY name`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func listPatchsets(ctx context.Context, q querier, number int64) ([]*ticket.Patchset, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT number, rev, tip, base, type, total_commits, added_commits, ref
		FROM patchsets WHERE number = ? ORDER BY rev
	`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patchsets []*ticket.Patchset
	for rows.Next() {
		ps, err := scanPatchset(rows)
		if err != nil {
			return nil, err
		}
		patchsets = append(patchsets, ps)
	}
	return patchsets, rows.Err()
}

func scanPatchset(row scanner) (*ticket.Patchset, error) {
	var ps ticket.Patchset
	var typ string
	if err := row.Scan(&ps.Number, &ps.Rev, &ps.Tip, &ps.Base, &typ, &ps.TotalCommits, &ps.AddedCommits, &ps.Ref); err != nil {
		return nil, err
	}
	t, err := ticket.ParsePatchsetType(typ)
	if err != nil {
		return nil, fmt.Errorf("patchset %d/%d: %w", ps.Number, ps.Rev, err)
	}
	ps.Type = t
	return &ps, nil
}
