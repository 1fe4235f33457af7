package watch

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drewfead/ticketd/internal/control"
)

func event(t *testing.T, number int64, isNew bool) control.Event {
	t.Helper()
	payload, err := json.Marshal(control.TicketChanged{Number: number, IsNew: isNew, Pusher: "alice", Ref: "refs/tickets/01/1/1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return control.Event{Type: control.EventTicketChanged, Payload: payload}
}

func TestWaitForEvent(t *testing.T) {
	ch := make(chan control.Event, 3)
	ch <- control.Event{Type: "other"}
	ch <- event(t, 7, true)
	close(ch)

	m := New(ch, 0)
	msg, ok := m.waitForEvent().(changeMsg)
	if !ok || msg.Change.Number != 7 || !msg.Change.IsNew {
		t.Fatalf("unexpected msg: %#v", msg)
	}
	if _, ok := m.waitForEvent().(closedMsg); !ok {
		t.Error("expected closedMsg after channel close")
	}
}

func TestUpdateFiltersByTicket(t *testing.T) {
	ch := make(chan control.Event)
	var model tea.Model = New(ch, 7)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 20})

	for _, n := range []int64{7, 8, 7} {
		var payload control.TicketChanged
		payload.Number = n
		payload.Pusher = "alice"
		model, _ = model.Update(changeMsg{Change: payload})
	}

	m := model.(Model)
	if len(m.Lines()) != 2 {
		t.Errorf("expected 2 lines for ticket 7, got %d", len(m.Lines()))
	}
	if !strings.Contains(m.View(), "ticket 7") {
		t.Errorf("header should name the ticket:\n%s", m.View())
	}
}

func TestClosedFeed(t *testing.T) {
	var model tea.Model = New(nil, 0)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	model, _ = model.Update(closedMsg{})
	if !strings.Contains(model.View(), "disconnected") {
		t.Errorf("expected disconnected status:\n%s", model.View())
	}
}
