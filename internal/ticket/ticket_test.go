package ticket

import (
	"reflect"
	"testing"
)

func TestStatusIsClosed(t *testing.T) {
	open := []Status{StatusNew, StatusOpen, StatusOnHold}
	for _, s := range open {
		if s.IsClosed() {
			t.Errorf("%s should not be closed", s)
		}
	}
	closed := []Status{StatusResolved, StatusFixed, StatusMerged, StatusWontfix,
		StatusDeclined, StatusDuplicate, StatusInvalid, StatusClosed}
	for _, s := range closed {
		if !s.IsClosed() {
			t.Errorf("%s should be closed", s)
		}
	}
}

func TestParseField(t *testing.T) {
	for _, f := range Fields {
		got, err := ParseField(string(f))
		if err != nil || got != f {
			t.Errorf("ParseField(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseField("priority"); err == nil {
		t.Error("expected error for field outside the closed set")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseStatus("Open"); err != nil {
		t.Errorf("ParseStatus(Open): %v", err)
	}
	if _, err := ParseStatus("open"); err == nil {
		t.Error("status names are case-sensitive")
	}
	if _, err := ParseType("Proposal"); err != nil {
		t.Errorf("ParseType(Proposal): %v", err)
	}
	if _, err := ParsePatchsetType("Rebase_Squash"); err != nil {
		t.Errorf("ParsePatchsetType(Rebase_Squash): %v", err)
	}
	if _, err := ParsePatchsetType("Merge"); err == nil {
		t.Error("expected error for unknown patchset type")
	}
}

func TestChangeAddWatchers(t *testing.T) {
	c := NewChange("alice")
	c.AddWatchers("carol", "alice", "", "bob", "alice")
	if !reflect.DeepEqual(c.Watch, []string{"alice", "bob", "carol"}) {
		t.Errorf("Watch = %v", c.Watch)
	}
	if c.IsEmpty() {
		t.Error("change with watchers is not empty")
	}
	if c.HasFieldChanges() {
		t.Error("no fields were set")
	}
}

func TestTicketApply(t *testing.T) {
	tk := &Ticket{}

	c := NewChange("alice")
	c.SetField(FieldNumber, "7")
	c.SetField(FieldTitle, "Fix bug")
	c.SetField(FieldStatus, string(StatusNew))
	c.SetField(FieldType, string(TypeProposal))
	c.SetField(FieldMergeTo, "main")
	c.Patchset = &Patchset{Number: 7, Rev: 1, Tip: "abc", Type: PatchsetProposal, TotalCommits: 1}
	c.AddWatchers("alice", "bob")

	if err := tk.Apply(c); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if tk.Number != 7 || tk.Title != "Fix bug" || tk.Status != StatusNew || tk.Type != TypeProposal || tk.MergeTo != "main" {
		t.Errorf("unexpected ticket: %+v", tk)
	}
	if tk.CreatedBy != "alice" {
		t.Errorf("CreatedBy = %q", tk.CreatedBy)
	}
	if tk.NextRevision() != 2 {
		t.Errorf("NextRevision = %d, want 2", tk.NextRevision())
	}

	update := NewChange("bob")
	update.SetField(FieldStatus, string(StatusClosed))
	update.AddWatchers("bob", "dave")
	if err := tk.Apply(update); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !tk.IsClosed() {
		t.Error("expected ticket to be closed")
	}
	if !reflect.DeepEqual(tk.Watchers, []string{"alice", "bob", "dave"}) {
		t.Errorf("Watchers = %v", tk.Watchers)
	}
	if tk.CreatedBy != "alice" {
		t.Errorf("CreatedBy changed to %q", tk.CreatedBy)
	}

	bad := NewChange("bob")
	bad.SetField(FieldStatus, "Exploded")
	if err := tk.Apply(bad); err == nil {
		t.Error("expected error for unknown status value")
	}
}
