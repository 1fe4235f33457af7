package patchset

import (
	"reflect"
	"testing"

	"github.com/drewfead/ticketd/internal/commitmsg"
	"github.com/drewfead/ticketd/internal/ticket"
	"github.com/drewfead/ticketd/internal/ticketref"
)

type fakeCommit struct {
	name, title, body string
}

func (c fakeCommit) Name() string  { return c.name }
func (c fakeCommit) Title() string { return c.title }
func (c fakeCommit) Body() string  { return c.body }

func existingTicket() *ticket.Ticket {
	return &ticket.Ticket{
		Number:     142,
		Title:      "Fix bug",
		Body:       "Detailed explanation.",
		Status:     ticket.StatusOpen,
		Type:       ticket.TypeProposal,
		MergeTo:    "main",
		Milestone:  "v2",
		Topic:      "cache",
		AssignedTo: "bob",
		CreatedBy:  "alice",
		Watchers:   []string{"alice", "bob", "carol"},
		Patchsets: []*ticket.Patchset{
			{Number: 142, Rev: 1, Tip: "aaa", Type: ticket.PatchsetProposal, TotalCommits: 1},
		},
	}
}

func TestNewTicket(t *testing.T) {
	raw := []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n" +
		"author A <a@x> 1700000000 +0000\n" +
		"committer A <a@x> 1700000000 +0000\n" +
		"\n" +
		"Fix bug\n\nDetailed explanation.\n\nSigned-off-by: A <a@x>\n")
	commit, err := commitmsg.Parse("0123abcd", raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ps := &ticket.Patchset{Rev: 1, Tip: "0123abcd", Type: ticket.PatchsetProposal, TotalCommits: 1}
	cmd := NewCommand("alice", ps)
	cmd.NewTicket(commit, "main", 7, "refs/for/main")

	if !cmd.IsNewTicket() {
		t.Error("expected new ticket")
	}
	if cmd.RefName() != "refs/tickets/07/7/1" {
		t.Errorf("RefName = %q", cmd.RefName())
	}
	n, err := cmd.TicketNumber()
	if err != nil || n != 7 {
		t.Errorf("TicketNumber = %d, %v", n, err)
	}

	change := cmd.Change()
	want := map[ticket.Field]string{
		ticket.FieldTitle:    "Fix bug",
		ticket.FieldBody:     "Detailed explanation.",
		ticket.FieldNumber:   "7",
		ticket.FieldChangeID: "I0123abcd",
		ticket.FieldStatus:   "New",
		ticket.FieldMergeTo:  "main",
		ticket.FieldType:     "Proposal",
	}
	if !reflect.DeepEqual(change.Fields, want) {
		t.Errorf("Fields = %v, want %v", change.Fields, want)
	}
	if !reflect.DeepEqual(change.Watch, []string{"alice"}) {
		t.Errorf("Watch = %v, want [alice]", change.Watch)
	}
	if change.Patchset.Number != 7 {
		t.Errorf("Patchset.Number = %d", change.Patchset.Number)
	}
}

func TestNewTicketWithOptions(t *testing.T) {
	ps := &ticket.Patchset{Rev: 1, Type: ticket.PatchsetProposal, TotalCommits: 2}
	cmd := NewCommand("alice", ps)
	commit := fakeCommit{name: "beef", title: "Add cache"}
	cmd.NewTicket(commit, "develop", 42, "refs/for/develop%cc=Carol,cc=dave,r=bob,m=v3,topic=cache")

	change := cmd.Change()
	if v, _ := change.Field(ticket.FieldMilestone); v != "v3" {
		t.Errorf("milestone = %q", v)
	}
	if v, _ := change.Field(ticket.FieldAssignedTo); v != "bob" {
		t.Errorf("assignedTo = %q", v)
	}
	if v, _ := change.Field(ticket.FieldTopic); v != "cache" {
		t.Errorf("topic = %q", v)
	}
	if !reflect.DeepEqual(change.Watch, []string{"alice", "bob", "carol", "dave"}) {
		t.Errorf("Watch = %v", change.Watch)
	}
	if v, _ := change.Field(ticket.FieldBody); v != "" {
		t.Errorf("body = %q, want empty", v)
	}
	if cmd.RefName() != "refs/tickets/42/42/1" {
		t.Errorf("RefName = %q", cmd.RefName())
	}
}

func TestNewTicketEmptyOptionsIgnored(t *testing.T) {
	ps := &ticket.Patchset{Rev: 1, Type: ticket.PatchsetProposal, TotalCommits: 1}
	cmd := NewCommand("alice", ps)
	cmd.NewTicket(fakeCommit{name: "beef", title: "x"}, "main", 3, "refs/for/main%m=,r=,topic=")

	change := cmd.Change()
	for _, f := range []ticket.Field{ticket.FieldMilestone, ticket.FieldAssignedTo, ticket.FieldTopic} {
		if change.HasField(f) {
			t.Errorf("empty option %s should not be set", f)
		}
	}
}

func TestNewTicketNamespaced(t *testing.T) {
	ns := ticketref.NewNamespace("refs/heads/t/", "refs/ps/", "refs/new/")
	ps := &ticket.Patchset{Rev: 1, Type: ticket.PatchsetProposal, TotalCommits: 1}
	cmd := NewNamespacedCommand(ns, "alice", ps)
	cmd.NewTicket(fakeCommit{name: "beef", title: "x"}, "main", 5, "refs/new/main")

	if cmd.RefName() != "refs/ps/05/5/1" {
		t.Errorf("RefName = %q", cmd.RefName())
	}
	n, err := cmd.TicketNumber()
	if err != nil || n != 5 {
		t.Errorf("TicketNumber = %d, %v", n, err)
	}
}

func TestUpdateTicketNoOp(t *testing.T) {
	tk := existingTicket()
	ps := &ticket.Patchset{Rev: 2, Tip: "bbb", Type: ticket.PatchsetAmend, TotalCommits: 1}
	cmd := NewCommand("alice", ps)
	commit := fakeCommit{name: "bbb", title: "Fix bug", body: "Detailed explanation."}
	cmd.UpdateTicket(commit, "main", tk, "refs/heads/ticket/142%cc=carol,r=bob,m=v2,topic=cache")

	change := cmd.Change()
	if change.HasFieldChanges() {
		t.Errorf("expected no field changes, got %v", change.Fields)
	}
	if len(change.Watch) != 0 {
		t.Errorf("expected no watch delta, got %v", change.Watch)
	}
	if cmd.IsNewTicket() {
		t.Error("update should not be a new ticket")
	}
	if cmd.RefName() != "refs/tickets/42/142/2" {
		t.Errorf("RefName = %q", cmd.RefName())
	}
	if cmd.PatchsetRevision() != 2 || cmd.PatchsetType() != ticket.PatchsetAmend {
		t.Errorf("patchset = rev %d type %s", cmd.PatchsetRevision(), cmd.PatchsetType())
	}
}

func TestUpdateTicketWatchIdempotent(t *testing.T) {
	tk := existingTicket()
	pushRef := "refs/heads/ticket/142%cc=Erin,cc=frank"
	commit := fakeCommit{name: "bbb", title: "Fix bug", body: "Detailed explanation."}

	first := NewCommand("dave", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetFastForward, TotalCommits: 2})
	first.UpdateTicket(commit, "main", tk, pushRef)
	if !reflect.DeepEqual(first.Change().Watch, []string{"dave", "erin", "frank"}) {
		t.Fatalf("Watch = %v", first.Change().Watch)
	}

	if err := tk.Apply(first.Change()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	second := NewCommand("dave", &ticket.Patchset{Rev: 3, Type: ticket.PatchsetFastForward, TotalCommits: 3})
	second.UpdateTicket(commit, "main", tk, pushRef)
	if len(second.Change().Watch) != 0 {
		t.Errorf("expected empty watch delta, got %v", second.Change().Watch)
	}
}

func TestUpdateTicketReopens(t *testing.T) {
	for _, status := range []ticket.Status{ticket.StatusClosed, ticket.StatusMerged, ticket.StatusDeclined} {
		t.Run(string(status), func(t *testing.T) {
			tk := existingTicket()
			tk.Status = status
			cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetRebase, TotalCommits: 4})
			cmd.UpdateTicket(fakeCommit{name: "ccc", title: "Other"}, "develop", tk, "refs/heads/ticket/142")

			if v, ok := cmd.Change().Field(ticket.FieldStatus); !ok || v != "Open" {
				t.Errorf("status = %q (set %v), want Open", v, ok)
			}
		})
	}

	tk := existingTicket()
	cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetRebase, TotalCommits: 4})
	cmd.UpdateTicket(fakeCommit{name: "ccc"}, "main", tk, "refs/heads/ticket/142")
	if cmd.Change().HasField(ticket.FieldStatus) {
		t.Error("open ticket should not change status")
	}
}

func TestUpdateTicketMergeTo(t *testing.T) {
	tk := existingTicket()
	cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetFastForward, TotalCommits: 2})
	cmd.UpdateTicket(fakeCommit{name: "ccc"}, "release", tk, "refs/heads/ticket/142")
	if v, _ := cmd.Change().Field(ticket.FieldMergeTo); v != "release" {
		t.Errorf("mergeTo = %q, want release", v)
	}

	tk.MergeTo = ""
	cmd = NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetFastForward, TotalCommits: 2})
	cmd.UpdateTicket(fakeCommit{name: "ccc"}, "main", tk, "refs/heads/ticket/142")
	if v, _ := cmd.Change().Field(ticket.FieldMergeTo); v != "main" {
		t.Errorf("unset mergeTo should be set, got %q", v)
	}
}

func TestUpdateTicketDescription(t *testing.T) {
	commit := fakeCommit{name: "ddd", title: "Fix bug properly", body: "Now with tests."}

	tests := []struct {
		name       string
		ticketType ticket.Type
		psType     ticket.PatchsetType
		total      int
		wantSet    bool
	}{
		{"single amended proposal", ticket.TypeProposal, ticket.PatchsetAmend, 1, true},
		{"multi-commit amend", ticket.TypeProposal, ticket.PatchsetAmend, 2, false},
		{"rebase", ticket.TypeProposal, ticket.PatchsetRebase, 1, false},
		{"fast forward", ticket.TypeProposal, ticket.PatchsetFastForward, 1, false},
		{"bug ticket", ticket.TypeBug, ticket.PatchsetAmend, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := existingTicket()
			tk.Type = tt.ticketType
			cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: tt.psType, TotalCommits: tt.total})
			cmd.UpdateTicket(commit, "main", tk, "refs/heads/ticket/142")

			change := cmd.Change()
			if change.HasField(ticket.FieldTitle) != tt.wantSet || change.HasField(ticket.FieldBody) != tt.wantSet {
				t.Errorf("title/body set = %v/%v, want %v",
					change.HasField(ticket.FieldTitle), change.HasField(ticket.FieldBody), tt.wantSet)
			}
		})
	}
}

func TestUpdateTicketOnlyChangedTitle(t *testing.T) {
	tk := existingTicket()
	cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetAmend, TotalCommits: 1})
	cmd.UpdateTicket(fakeCommit{name: "eee", title: "Fix bug", body: "Reworded."}, "main", tk, "refs/heads/ticket/142")

	change := cmd.Change()
	if change.HasField(ticket.FieldTitle) {
		t.Error("unchanged title should not be set")
	}
	if v, _ := change.Field(ticket.FieldBody); v != "Reworded." {
		t.Errorf("body = %q", v)
	}
}

func TestUpdateTicketChangedOptions(t *testing.T) {
	tk := existingTicket()
	cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetFastForward, TotalCommits: 2})
	cmd.UpdateTicket(fakeCommit{name: "fff"}, "main", tk, "refs/heads/ticket/142%r=erin,m=v2,topic=storage")

	change := cmd.Change()
	if v, _ := change.Field(ticket.FieldAssignedTo); v != "erin" {
		t.Errorf("assignedTo = %q", v)
	}
	if change.HasField(ticket.FieldMilestone) {
		t.Error("unchanged milestone should not be set")
	}
	if v, _ := change.Field(ticket.FieldTopic); v != "storage" {
		t.Errorf("topic = %q", v)
	}
	if !reflect.DeepEqual(change.Watch, []string{"erin"}) {
		t.Errorf("Watch = %v, want [erin]", change.Watch)
	}
}

func TestUpdateTicketEmptyOptionsIgnored(t *testing.T) {
	tk := existingTicket()
	cmd := NewCommand("alice", &ticket.Patchset{Rev: 2, Type: ticket.PatchsetFastForward, TotalCommits: 2})
	cmd.UpdateTicket(fakeCommit{name: "fff", title: tk.Title, body: tk.Body}, "main", tk, "refs/heads/ticket/142%r=,m=,topic=")

	change := cmd.Change()
	for _, f := range []ticket.Field{ticket.FieldAssignedTo, ticket.FieldMilestone, ticket.FieldTopic} {
		if change.HasField(f) {
			t.Errorf("empty option should not set %s", f)
		}
	}
}
