package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/drewfead/ticketd/internal/ticket"
)

// ApplyChange folds a change into its ticket and journals it, all in one
// transaction. A change carrying a "number" field for a ticket that does not
// exist yet creates it. Field values are written verbatim.
//
// A patchset on the change must use the ticket's next revision, otherwise
// ErrRevisionConflict is returned and nothing is written. On success the
// updated snapshot is returned and change.ID is set if it was empty.
func (s *Store) ApplyChange(ctx context.Context, change *ticket.Change) (*ticket.Ticket, error) {
	number, err := changeNumber(change)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := getTicket(ctx, tx, number)
	if err != nil {
		return nil, err
	}
	isNew := t == nil
	if isNew {
		if !change.HasField(ticket.FieldNumber) {
			return nil, fmt.Errorf("ticket %d: %w", number, ErrNotFound)
		}
		t = &ticket.Ticket{Number: number, Status: ticket.StatusNew, Type: ticket.TypeProposal}
	}

	if ps := change.Patchset; ps != nil {
		if want := t.NextRevision(); ps.Rev != want {
			return nil, fmt.Errorf("ticket %d: got rev %d, want %d: %w", number, ps.Rev, want, ErrRevisionConflict)
		}
	}

	if err := t.Apply(change); err != nil {
		return nil, fmt.Errorf("ticket %d: %w", number, err)
	}
	if t.Number != number {
		return nil, fmt.Errorf("ticket %d: change renumbers ticket to %d", number, t.Number)
	}

	if err := upsertTicket(ctx, tx, t, isNew); err != nil {
		return nil, fmt.Errorf("failed to write ticket %d: %w", number, err)
	}

	var rev sql.NullInt64
	if ps := change.Patchset; ps != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO patchsets (number, rev, tip, base, type, total_commits, added_commits, ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, number, ps.Rev, ps.Tip, ps.Base, string(ps.Type), ps.TotalCommits, ps.AddedCommits, ps.Ref, change.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to write patchset %d/%d: %w", number, ps.Rev, err)
		}
		rev = sql.NullInt64{Int64: int64(ps.Rev), Valid: true}
	}

	for _, name := range change.Watch {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO watchers (number, name) VALUES (?, ?)`, number, name); err != nil {
			return nil, fmt.Errorf("failed to add watcher %s: %w", name, err)
		}
	}

	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	fieldsJSON, err := json.Marshal(change.Fields)
	if err != nil {
		return nil, err
	}
	watch := change.Watch
	if watch == nil {
		watch = []string{}
	}
	watchJSON, err := json.Marshal(watch)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (id, number, created_by, created_at, fields, watch, patchset_rev)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, change.ID, number, change.CreatedBy, change.CreatedAt, string(fieldsJSON), string(watchJSON), rev)
	if err != nil {
		return nil, fmt.Errorf("failed to journal change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// ListChanges returns the journal of a ticket, oldest first.
func (s *Store) ListChanges(ctx context.Context, number int64) ([]*ticket.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.created_by, c.created_at, c.fields, c.watch,
		       p.number, p.rev, p.tip, p.base, p.type, p.total_commits, p.added_commits, p.ref
		FROM changes c
		LEFT JOIN patchsets p ON p.number = c.number AND p.rev = c.patchset_rev
		WHERE c.number = ?
		ORDER BY c.created_at, c.rowid
	`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*ticket.Change
	for rows.Next() {
		var c ticket.Change
		var fieldsJSON, watchJSON string
		var psNumber, psRev, psTotal, psAdded sql.NullInt64
		var psTip, psBase, psType, psRef sql.NullString
		if err := rows.Scan(&c.ID, &c.CreatedBy, &c.CreatedAt, &fieldsJSON, &watchJSON,
			&psNumber, &psRev, &psTip, &psBase, &psType, &psTotal, &psAdded, &psRef); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &c.Fields); err != nil {
			return nil, fmt.Errorf("change %s: bad fields: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(watchJSON), &c.Watch); err != nil {
			return nil, fmt.Errorf("change %s: bad watch list: %w", c.ID, err)
		}
		if len(c.Watch) == 0 {
			c.Watch = nil
		}
		if psRev.Valid {
			typ, err := ticket.ParsePatchsetType(psType.String)
			if err != nil {
				return nil, fmt.Errorf("change %s: %w", c.ID, err)
			}
			c.Patchset = &ticket.Patchset{
				Number:       psNumber.Int64,
				Rev:          int(psRev.Int64),
				Tip:          psTip.String,
				Base:         psBase.String,
				Type:         typ,
				TotalCommits: int(psTotal.Int64),
				AddedCommits: int(psAdded.Int64),
				Ref:          psRef.String,
			}
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

func changeNumber(change *ticket.Change) (int64, error) {
	if change.Patchset != nil && change.Patchset.Number > 0 {
		return change.Patchset.Number, nil
	}
	if v, ok := change.Field(ticket.FieldNumber); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid ticket number %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("change carries no ticket number")
}

func upsertTicket(ctx context.Context, tx *sql.Tx, t *ticket.Ticket, isNew bool) error {
	if isNew {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Number, t.ChangeID, t.Title, t.Body, string(t.Status), string(t.Type), t.MergeTo,
			t.Milestone, t.Topic, t.AssignedTo, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE tickets SET change_id = ?, title = ?, body = ?, status = ?, type = ?, merge_to = ?,
			milestone = ?, topic = ?, assigned_to = ?, updated_at = ?
		WHERE number = ?
	`, t.ChangeID, t.Title, t.Body, string(t.Status), string(t.Type), t.MergeTo,
		t.Milestone, t.Topic, t.AssignedTo, t.UpdatedAt, t.Number)
	return err
}
