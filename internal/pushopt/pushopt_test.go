package pushopt

import (
	"reflect"
	"testing"
)

func TestParseWatchersAndMilestone(t *testing.T) {
	opts := Parse("refs/for/main%cc=alice,cc=bob,m=v2")

	if !opts.Present {
		t.Fatal("expected options to be present")
	}
	if !reflect.DeepEqual(opts.Watchers, []string{"alice", "bob"}) {
		t.Errorf("Watchers = %v, want [alice bob]", opts.Watchers)
	}
	if opts.Milestone == nil || *opts.Milestone != "v2" {
		t.Errorf("Milestone = %v, want v2", opts.Milestone)
	}
	if opts.AssignedTo != nil {
		t.Errorf("AssignedTo = %q, want nil", *opts.AssignedTo)
	}
	if opts.Topic != nil {
		t.Errorf("Topic = %q, want nil", *opts.Topic)
	}
}

func TestParseNoSuffix(t *testing.T) {
	opts := Parse("refs/heads/ticket/42")
	if opts.Present {
		t.Error("expected no options")
	}
	if opts.Watchers != nil {
		t.Errorf("Watchers = %v, want nil", opts.Watchers)
	}
	if Values("refs/heads/ticket/42", Watch) != nil {
		t.Error("Values without suffix should be nil")
	}
}

func TestParseEmptySuffix(t *testing.T) {
	opts := Parse("refs/heads/ticket/42%")
	if !opts.Present {
		t.Fatal("expected options to be present")
	}
	if opts.Watchers == nil || len(opts.Watchers) != 0 {
		t.Errorf("Watchers = %#v, want empty non-nil slice", opts.Watchers)
	}
	if opts.Topic != nil || opts.AssignedTo != nil || opts.Milestone != nil {
		t.Error("single-valued options should be nil")
	}
}

func TestParseCaseInsensitiveTokens(t *testing.T) {
	opts := Parse("refs/for/main%TOPIC=Cache-Layer,R=Alice,Cc=Bob,M=Sprint 4")

	if Value(opts.Topic) != "Cache-Layer" {
		t.Errorf("Topic = %q", Value(opts.Topic))
	}
	if Value(opts.AssignedTo) != "Alice" {
		t.Errorf("AssignedTo = %q", Value(opts.AssignedTo))
	}
	if !reflect.DeepEqual(opts.Watchers, []string{"Bob"}) {
		t.Errorf("Watchers = %v", opts.Watchers)
	}
	if Value(opts.Milestone) != "Sprint 4" {
		t.Errorf("Milestone = %q", Value(opts.Milestone))
	}
}

func TestParseFirstOccurrenceWins(t *testing.T) {
	opts := Parse("refs/for/main%m=v1,m=v2,r=alice,r=bob,topic=a,topic=b")
	if Value(opts.Milestone) != "v1" || Value(opts.AssignedTo) != "alice" || Value(opts.Topic) != "a" {
		t.Errorf("unexpected options: m=%q r=%q topic=%q",
			Value(opts.Milestone), Value(opts.AssignedTo), Value(opts.Topic))
	}
}

func TestParseValuesUntrimmed(t *testing.T) {
	opts := Parse("refs/for/main%topic= spaced ,cc= bob")
	if Value(opts.Topic) != " spaced " {
		t.Errorf("Topic = %q, want untrimmed", Value(opts.Topic))
	}
	if !reflect.DeepEqual(opts.Watchers, []string{" bob"}) {
		t.Errorf("Watchers = %q", opts.Watchers)
	}
}

func TestParseIgnoresUnknownTokens(t *testing.T) {
	opts := Parse("refs/for/main%wip,private=true,cc=alice,x=1")
	if !reflect.DeepEqual(opts.Watchers, []string{"alice"}) {
		t.Errorf("Watchers = %v", opts.Watchers)
	}
}

func TestParseEmptyValue(t *testing.T) {
	opts := Parse("refs/for/main%m=,cc=")
	if opts.Milestone == nil || *opts.Milestone != "" {
		t.Errorf("Milestone = %v, want pointer to empty string", opts.Milestone)
	}
	if !reflect.DeepEqual(opts.Watchers, []string{""}) {
		t.Errorf("Watchers = %q", opts.Watchers)
	}
}

func TestStripOptions(t *testing.T) {
	if got := StripOptions("refs/for/main%cc=a"); got != "refs/for/main" {
		t.Errorf("StripOptions = %q", got)
	}
	if got := StripOptions("refs/for/main"); got != "refs/for/main" {
		t.Errorf("StripOptions = %q", got)
	}
}
