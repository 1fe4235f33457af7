// Package patchset builds ticket changes from pushed patchsets.
//
// A Command wraps one patchset and produces exactly one ticket.Change, either
// creating a ticket (NewTicket) or updating an existing one (UpdateTicket).
// Commands are pure: they read the commit, the pushed ref and a ticket
// snapshot, and never touch storage.
package patchset

import (
	"slices"
	"strconv"
	"strings"

	"github.com/drewfead/ticketd/internal/pushopt"
	"github.com/drewfead/ticketd/internal/ticket"
	"github.com/drewfead/ticketd/internal/ticketref"
)

// Commit is the part of a commit a Command reads. *commitmsg.Commit
// satisfies it.
type Commit interface {
	Name() string
	Title() string
	Body() string
}

// Command constructs a ticket change for one pushed patchset.
type Command struct {
	ns     ticketref.Namespace
	change *ticket.Change
	isNew  bool
}

// NewCommand returns a command for a patchset pushed by createdBy, using the
// default ref namespace.
func NewCommand(createdBy string, ps *ticket.Patchset) *Command {
	return NewNamespacedCommand(ticketref.Default, createdBy, ps)
}

// NewNamespacedCommand is NewCommand with an explicit ref namespace.
func NewNamespacedCommand(ns ticketref.Namespace, createdBy string, ps *ticket.Patchset) *Command {
	change := ticket.NewChange(createdBy)
	change.Patchset = ps
	return &Command{ns: ns, change: change}
}

// Change returns the change built so far.
func (c *Command) Change() *ticket.Change { return c.change }

// IsNewTicket reports whether NewTicket built the change.
func (c *Command) IsNewTicket() bool { return c.isNew }

// RefName returns the patchset ref assigned by NewTicket or UpdateTicket.
func (c *Command) RefName() string { return c.change.Patchset.Ref }

// PatchsetType returns the type of the wrapped patchset.
func (c *Command) PatchsetType() ticket.PatchsetType { return c.change.Patchset.Type }

// PatchsetRevision returns the revision of the wrapped patchset.
func (c *Command) PatchsetRevision() int { return c.change.Patchset.Rev }

// TicketNumber resolves the ticket number from the assigned patchset ref.
func (c *Command) TicketNumber() (int64, error) {
	return c.ns.TicketNumber(c.change.Patchset.Ref)
}

// NewTicket fills the change for a proposal that creates ticket number.
func (c *Command) NewTicket(commit Commit, mergeTo string, number int64, pushRef string) {
	c.isNew = true
	change := c.change

	change.SetField(ticket.FieldTitle, commit.Title())
	change.SetField(ticket.FieldBody, commit.Body())
	change.SetField(ticket.FieldNumber, strconv.FormatInt(number, 10))
	change.SetField(ticket.FieldChangeID, "I"+commit.Name())
	change.SetField(ticket.FieldStatus, string(ticket.StatusNew))
	change.SetField(ticket.FieldMergeTo, mergeTo)
	change.SetField(ticket.FieldType, string(ticket.TypeProposal))

	change.Patchset.Number = number
	change.Patchset.Ref = c.ns.RevisionRef(number, change.Patchset.Rev)

	watchSet := []string{change.CreatedBy}

	opts := pushopt.Parse(pushRef)
	if opts.Present {
		for _, cc := range opts.Watchers {
			watchSet = append(watchSet, strings.ToLower(cc))
		}
		if milestone := pushopt.Value(opts.Milestone); milestone != "" {
			change.SetField(ticket.FieldMilestone, milestone)
		}
		if assignedTo := pushopt.Value(opts.AssignedTo); assignedTo != "" {
			change.SetField(ticket.FieldAssignedTo, assignedTo)
			watchSet = append(watchSet, assignedTo)
		}
		if topic := pushopt.Value(opts.Topic); topic != "" {
			change.SetField(ticket.FieldTopic, topic)
		}
	}

	// The first change of a ticket always declares its watchers.
	change.AddWatchers(watchSet...)
}

// UpdateTicket fills the change for a new patchset of an existing ticket.
// Only values that differ from the snapshot are set, and only watchers not
// already watching are added.
func (c *Command) UpdateTicket(commit Commit, mergeTo string, t *ticket.Ticket, pushRef string) {
	change := c.change

	change.Patchset.Number = t.Number
	change.Patchset.Ref = c.ns.RevisionRef(t.Number, change.Patchset.Rev)

	if t.IsClosed() {
		// Any new patchset reopens a closed ticket.
		change.SetField(ticket.FieldStatus, string(ticket.StatusOpen))
	}

	if mergeTo != t.MergeTo {
		change.SetField(ticket.FieldMergeTo, mergeTo)
	}

	// Single-commit amended proposals carry their description in the commit
	// message. Multi-commit, rebased or merged patchsets keep the curated
	// ticket text.
	if t.Type == ticket.TypeProposal &&
		change.Patchset.Type == ticket.PatchsetAmend &&
		change.Patchset.TotalCommits == 1 {
		if title := commit.Title(); title != t.Title {
			change.SetField(ticket.FieldTitle, title)
		}
		if body := commit.Body(); body != t.Body {
			change.SetField(ticket.FieldBody, body)
		}
	}

	watchSet := []string{change.CreatedBy}

	opts := pushopt.Parse(pushRef)
	if opts.Present {
		for _, cc := range opts.Watchers {
			watchSet = append(watchSet, strings.ToLower(cc))
		}
		if milestone := pushopt.Value(opts.Milestone); milestone != "" && milestone != t.Milestone {
			change.SetField(ticket.FieldMilestone, milestone)
		}
		if assignedTo := pushopt.Value(opts.AssignedTo); assignedTo != "" && assignedTo != t.AssignedTo {
			change.SetField(ticket.FieldAssignedTo, assignedTo)
			watchSet = append(watchSet, assignedTo)
		}
		if topic := pushopt.Value(opts.Topic); topic != "" && topic != t.Topic {
			change.SetField(ticket.FieldTopic, topic)
		}
	}

	watchSet = slices.DeleteFunc(watchSet, t.IsWatching)
	if len(watchSet) > 0 {
		change.AddWatchers(watchSet...)
	}
}
