package main

import (
	"context"
	"fmt"
	"io"

	"github.com/drewfead/ticketd/internal/cli"
	"github.com/drewfead/ticketd/internal/git"
	"github.com/drewfead/ticketd/internal/ticket"
	"github.com/drewfead/ticketd/internal/ticketref"
)

// ticketLookup is the part of the control client post-receive needs.
type ticketLookup interface {
	GetTicket(ctx context.Context, number int64) (*ticket.Ticket, error)
	ListTickets(ctx context.Context, status ...ticket.Status) ([]*ticket.Ticket, error)
}

// runPostReceive writes the refs for patchsets accepted during pre-receive.
// Git does not allow ref updates while a push is quarantined, so this runs
// once the objects are in the repository.
func runPostReceive(ctx context.Context, in io.Reader, stdout, stderr io.Writer, repoFlag string) error {
	updates, err := parseRefUpdates(in)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	repoPath, err := hookRepository(repoFlag)
	if err != nil {
		return err
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	failed := materializeRefs(ctx, client, git.Open(repoPath), cfg.Namespace(), updates, stdout, stderr)
	if failed > 0 {
		return fmt.Errorf("%d ticket ref(s) not written", failed)
	}
	return nil
}

// materializeRefs points the patchset and head refs of each updated ticket at
// its current tip and removes the new-ticket refs git stored for the push. It
// returns the number of updates it could not complete.
func materializeRefs(ctx context.Context, tickets ticketLookup, repo *git.Repository, ns ticketref.Namespace, updates []refUpdate, stdout, stderr io.Writer) int {
	var open []*ticket.Ticket
	listed := false
	failed := 0

	fail := func(u refUpdate, err error) {
		failed++
		fmt.Fprintf(stderr, "%s %s: %v\n", cli.Failed(cli.CrossMark), u.Ref, err)
	}

	for _, u := range updates {
		if git.IsZeroID(u.NewID) {
			continue
		}

		var t *ticket.Ticket
		isNew := ns.IsNewTicketRef(u.Ref)
		if isNew {
			if !listed {
				var err error
				if open, err = tickets.ListTickets(ctx); err != nil {
					fail(u, err)
					continue
				}
				listed = true
			}
			t = ticketWithTip(open, u.NewID)
		} else {
			number, err := ns.TicketNumber(u.Ref)
			if err != nil {
				continue
			}
			if t, err = tickets.GetTicket(ctx, number); err != nil {
				fail(u, err)
				continue
			}
		}

		var ps *ticket.Patchset
		if t != nil {
			ps = t.CurrentPatchset()
		}
		if ps == nil || ps.Tip != u.NewID {
			fail(u, fmt.Errorf("no ticket has %s as its current patchset", u.NewID))
			continue
		}

		refs := []string{ns.RevisionRef(t.Number, ps.Rev)}
		if head := ns.HeadRef(t.Number); head != u.Ref {
			refs = append(refs, head)
		}
		ok := true
		for _, ref := range refs {
			if err := repo.UpdateRef(ctx, ref, ps.Tip); err != nil {
				fail(u, err)
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if isNew {
			if err := repo.DeleteRef(ctx, u.Ref, u.NewID); err != nil {
				fail(u, err)
				continue
			}
		}
		fmt.Fprintf(stdout, "%s ticket %d -> %s\n", cli.OK(cli.CheckMark), t.Number, refs[0])
	}
	return failed
}

func ticketWithTip(tickets []*ticket.Ticket, tip string) *ticket.Ticket {
	for _, t := range tickets {
		if ps := t.CurrentPatchset(); ps != nil && ps.Tip == tip {
			return t
		}
	}
	return nil
}
