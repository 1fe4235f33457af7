// Package ticket defines the ticket data model: tickets, their patchsets and
// the changes that propose updates to them.
package ticket

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusNew       Status = "New"
	StatusOpen      Status = "Open"
	StatusResolved  Status = "Resolved"
	StatusFixed     Status = "Fixed"
	StatusMerged    Status = "Merged"
	StatusWontfix   Status = "Wontfix"
	StatusDeclined  Status = "Declined"
	StatusDuplicate Status = "Duplicate"
	StatusInvalid   Status = "Invalid"
	StatusOnHold    Status = "On_Hold"
	StatusClosed    Status = "Closed"
)

var statuses = []Status{
	StatusNew, StatusOpen, StatusResolved, StatusFixed, StatusMerged, StatusWontfix,
	StatusDeclined, StatusDuplicate, StatusInvalid, StatusOnHold, StatusClosed,
}

// IsClosed reports whether s is a terminal status.
func (s Status) IsClosed() bool {
	switch s {
	case StatusResolved, StatusFixed, StatusMerged, StatusWontfix,
		StatusDeclined, StatusDuplicate, StatusInvalid, StatusClosed:
		return true
	}
	return false
}

// ParseStatus converts a stored status name.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown ticket status %q", s)
}

// Type classifies a ticket.
type Type string

const (
	TypeEnhancement Type = "Enhancement"
	TypeTask        Type = "Task"
	TypeBug         Type = "Bug"
	TypeProposal    Type = "Proposal"
	TypeQuestion    Type = "Question"
)

// ParseType converts a stored type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeEnhancement, TypeTask, TypeBug, TypeProposal, TypeQuestion:
		return t, nil
	}
	return "", fmt.Errorf("unknown ticket type %q", s)
}

// PatchsetType describes how a patchset relates to the one before it.
type PatchsetType string

const (
	PatchsetProposal     PatchsetType = "Proposal"
	PatchsetFastForward  PatchsetType = "FastForward"
	PatchsetRebase       PatchsetType = "Rebase"
	PatchsetSquash       PatchsetType = "Squash"
	PatchsetRebaseSquash PatchsetType = "Rebase_Squash"
	PatchsetAmend        PatchsetType = "Amend"
	PatchsetDelete       PatchsetType = "Delete"
)

// ParsePatchsetType converts a stored patchset type name.
func ParsePatchsetType(s string) (PatchsetType, error) {
	switch t := PatchsetType(s); t {
	case PatchsetProposal, PatchsetFastForward, PatchsetRebase, PatchsetSquash,
		PatchsetRebaseSquash, PatchsetAmend, PatchsetDelete:
		return t, nil
	}
	return "", fmt.Errorf("unknown patchset type %q", s)
}

// Field is a ticket attribute a Change may carry.
type Field string

const (
	FieldTitle      Field = "title"
	FieldBody       Field = "body"
	FieldNumber     Field = "number"
	FieldChangeID   Field = "changeId"
	FieldStatus     Field = "status"
	FieldMergeTo    Field = "mergeTo"
	FieldType       Field = "type"
	FieldMilestone  Field = "milestone"
	FieldAssignedTo Field = "assignedTo"
	FieldTopic      Field = "topic"
)

// Fields lists every Field in declaration order.
var Fields = []Field{
	FieldTitle, FieldBody, FieldNumber, FieldChangeID, FieldStatus,
	FieldMergeTo, FieldType, FieldMilestone, FieldAssignedTo, FieldTopic,
}

// ParseField rejects names outside the closed field set.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !slices.Contains(Fields, f) {
		return "", fmt.Errorf("unknown ticket field %q", s)
	}
	return f, nil
}

// Patchset is one immutable revision of code submitted against a ticket.
type Patchset struct {
	Number       int64        `json:"number"`
	Rev          int          `json:"rev"`
	Tip          string       `json:"tip"`
	Base         string       `json:"base,omitempty"`
	Type         PatchsetType `json:"type"`
	TotalCommits int          `json:"total_commits"`
	AddedCommits int          `json:"added_commits"`
	Ref          string       `json:"ref"`
}

// Change is an atomic proposed update to a ticket. It always carries one
// patchset when built from a push.
type Change struct {
	ID        string           `json:"id,omitempty"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
	Fields    map[Field]string `json:"fields,omitempty"`
	Patchset  *Patchset        `json:"patchset,omitempty"`
	Watch     []string         `json:"watch,omitempty"`
}

// NewChange returns an empty change authored by createdBy.
func NewChange(createdBy string) *Change {
	return &Change{
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
		Fields:    make(map[Field]string),
	}
}

// SetField records a field update.
func (c *Change) SetField(f Field, value string) {
	if c.Fields == nil {
		c.Fields = make(map[Field]string)
	}
	c.Fields[f] = value
}

// Field returns the value of f and whether the change sets it.
func (c *Change) Field(f Field) (string, bool) {
	v, ok := c.Fields[f]
	return v, ok
}

// HasField reports whether the change sets f.
func (c *Change) HasField(f Field) bool {
	_, ok := c.Fields[f]
	return ok
}

// HasFieldChanges reports whether any field is set.
func (c *Change) HasFieldChanges() bool {
	return len(c.Fields) > 0
}

// AddWatchers merges names into the watch list, keeping it sorted and free
// of duplicates.
func (c *Change) AddWatchers(names ...string) {
	for _, name := range names {
		if name == "" || slices.Contains(c.Watch, name) {
			continue
		}
		c.Watch = append(c.Watch, name)
	}
	slices.Sort(c.Watch)
}

// IsEmpty reports whether the change carries nothing at all.
func (c *Change) IsEmpty() bool {
	return len(c.Fields) == 0 && len(c.Watch) == 0 && c.Patchset == nil
}

// Ticket is a snapshot of a tracked unit of proposed work.
type Ticket struct {
	Number     int64       `json:"number"`
	ChangeID   string      `json:"change_id,omitempty"`
	Title      string      `json:"title"`
	Body       string      `json:"body"`
	Status     Status      `json:"status"`
	Type       Type        `json:"type"`
	MergeTo    string      `json:"merge_to,omitempty"`
	Milestone  string      `json:"milestone,omitempty"`
	Topic      string      `json:"topic,omitempty"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	CreatedBy  string      `json:"created_by"`
	Watchers   []string    `json:"watchers,omitempty"`
	Patchsets  []*Patchset `json:"patchsets,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// IsClosed reports whether the ticket is in a terminal status.
func (t *Ticket) IsClosed() bool {
	return t.Status.IsClosed()
}

// IsWatching reports whether name is a watcher.
func (t *Ticket) IsWatching(name string) bool {
	return slices.Contains(t.Watchers, name)
}

// CurrentPatchset returns the latest patchset, or nil.
func (t *Ticket) CurrentPatchset() *Patchset {
	if len(t.Patchsets) == 0 {
		return nil
	}
	return t.Patchsets[len(t.Patchsets)-1]
}

// NextRevision returns the revision number the next patchset must use.
func (t *Ticket) NextRevision() int {
	if ps := t.CurrentPatchset(); ps != nil {
		return ps.Rev + 1
	}
	return 1
}

// Apply folds a change into the snapshot. Values are taken verbatim; the
// change is expected to carry only real updates.
func (t *Ticket) Apply(c *Change) error {
	for f, v := range c.Fields {
		switch f {
		case FieldTitle:
			t.Title = v
		case FieldBody:
			t.Body = v
		case FieldNumber:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			t.Number = n
		case FieldChangeID:
			t.ChangeID = v
		case FieldStatus:
			st, err := ParseStatus(v)
			if err != nil {
				return err
			}
			t.Status = st
		case FieldMergeTo:
			t.MergeTo = v
		case FieldType:
			ty, err := ParseType(v)
			if err != nil {
				return err
			}
			t.Type = ty
		case FieldMilestone:
			t.Milestone = v
		case FieldAssignedTo:
			t.AssignedTo = v
		case FieldTopic:
			t.Topic = v
		default:
			return fmt.Errorf("unknown ticket field %q", f)
		}
	}

	if c.Patchset != nil {
		ps := *c.Patchset
		t.Patchsets = append(t.Patchsets, &ps)
	}

	for _, w := range c.Watch {
		if !t.IsWatching(w) {
			t.Watchers = append(t.Watchers, w)
		}
	}
	slices.Sort(t.Watchers)

	if t.CreatedBy == "" {
		t.CreatedBy = c.CreatedBy
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.CreatedAt
	}
	t.UpdatedAt = c.CreatedAt
	return nil
}

// Source looks up ticket snapshots by number. It returns (nil, nil) when no
// ticket has that number.
type Source interface {
	GetTicket(ctx context.Context, number int64) (*Ticket, error)
}
