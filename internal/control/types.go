package control

import (
	"github.com/drewfead/ticketd/internal/receive"
	"github.com/drewfead/ticketd/internal/ticket"
)

// Methods served by the daemon.
const (
	MethodReceivePush = "receive_push"
	MethodGetTicket   = "get_ticket"
	MethodListTickets = "list_tickets"
	MethodListChanges = "list_changes"
)

// Event types broadcast by the daemon.
const (
	EventTicketChanged = "ticket_changed"
)

// Error codes attached to responses.
const (
	CodeRejected     = "rejected"
	CodeNotTicketRef = "not_ticket_ref"
	CodeConflict     = "conflict"
	CodeUnauthorized = "unauthorized"
)

// ReceivePushRequest asks the daemon to process one ref update. Token is the
// signed pusher assertion, required when the daemon has a hook secret.
type ReceivePushRequest struct {
	receive.Push
	Token string `json:"token,omitempty"`
}

// GetTicketRequest names a ticket.
type GetTicketRequest struct {
	Number int64 `json:"number"`
}

// ListTicketsRequest filters tickets by status. Empty lists every ticket.
type ListTicketsRequest struct {
	Status []ticket.Status `json:"status,omitempty"`
}

// ListChangesRequest names the ticket whose journal to list.
type ListChangesRequest struct {
	Number int64 `json:"number"`
}

// TicketChanged is the payload of EventTicketChanged. Watchers is the full
// watch set after the change; a notifier delivers to them.
type TicketChanged struct {
	Number   int64                   `json:"number"`
	ChangeID string                  `json:"change_id"`
	Ref      string                  `json:"ref"`
	IsNew    bool                    `json:"is_new"`
	Pusher   string                  `json:"pusher"`
	Fields   map[ticket.Field]string `json:"fields,omitempty"`
	Watchers []string                `json:"watchers"`
}

// NewTicketChanged builds the event payload for a receive result.
func NewTicketChanged(res receive.Result) TicketChanged {
	ev := TicketChanged{
		Number: res.Number,
		Ref:    res.Ref,
		IsNew:  res.IsNew,
	}
	if res.Change != nil {
		ev.ChangeID = res.Change.ID
		ev.Pusher = res.Change.CreatedBy
		ev.Fields = res.Change.Fields
	}
	if res.Ticket != nil {
		ev.Watchers = res.Ticket.Watchers
	}
	return ev
}
