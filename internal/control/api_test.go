package control

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/ticketd/internal/ticket"
)

type rejection struct{ msg string }

func (r rejection) Error() string { return r.msg }
func (r rejection) Code() string  { return CodeRejected }

func setupTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	dir, err := os.MkdirTemp("", "ticketd-ctl-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	srv := NewServer(filepath.Join(dir, "ctl.sock"))
	srv.Handle(MethodGetTicket, func(_ context.Context, params json.RawMessage) (any, error) {
		var req GetTicketRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if req.Number != 7 {
			var none *ticket.Ticket
			return none, nil
		}
		return &ticket.Ticket{Number: 7, Title: "Fix bug", Status: ticket.StatusOpen, Type: ticket.TypeProposal}, nil
	})
	srv.Handle(MethodReceivePush, func(context.Context, json.RawMessage) (any, error) {
		return nil, rejection{msg: "push rejected: ticket 9 does not exist"}
	})
	srv.Handle("explode", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	client, err := NewClient(srv.socketPath)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return srv, client
}

func TestServerClient(t *testing.T) {
	srv, client := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("GetTicket", func(t *testing.T) {
		tk, err := client.GetTicket(ctx, 7)
		if err != nil {
			t.Fatalf("GetTicket failed: %v", err)
		}
		if tk == nil || tk.Title != "Fix bug" {
			t.Errorf("unexpected ticket: %+v", tk)
		}
	})

	t.Run("GetMissingTicket", func(t *testing.T) {
		tk, err := client.GetTicket(ctx, 8)
		if err != nil {
			t.Fatalf("GetTicket failed: %v", err)
		}
		if tk != nil {
			t.Errorf("expected nil, got %+v", tk)
		}
	})

	t.Run("CodedError", func(t *testing.T) {
		_, err := client.ReceivePush(ctx, ReceivePushRequest{})
		if !IsRejected(err) {
			t.Fatalf("expected rejection, got %v", err)
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		err := client.Call(ctx, "nope", nil, nil)
		var re *RemoteError
		if !errors.As(err, &re) || re.Message != "unknown method: nope" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		if err := client.Call(ctx, "explode", nil, nil); err == nil {
			t.Fatal("expected error from panicking handler")
		}
		// The connection survives.
		if _, err := client.GetTicket(ctx, 7); err != nil {
			t.Errorf("GetTicket after panic failed: %v", err)
		}
	})

	t.Run("Broadcast", func(t *testing.T) {
		srv.Broadcast(EventTicketChanged, TicketChanged{Number: 7, Watchers: []string{"alice"}})

		select {
		case ev := <-client.Events():
			if ev.Type != EventTicketChanged {
				t.Fatalf("event type = %q", ev.Type)
			}
			var payload TicketChanged
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if payload.Number != 7 || len(payload.Watchers) != 1 {
				t.Errorf("unexpected payload: %+v", payload)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	})
}
