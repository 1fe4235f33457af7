package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/ticketd/internal/auth"
	"github.com/drewfead/ticketd/internal/config"
	"github.com/drewfead/ticketd/internal/control"
	"github.com/drewfead/ticketd/internal/receive"
	"github.com/drewfead/ticketd/internal/store"
	"github.com/drewfead/ticketd/internal/ticketref"
)

func setupTestDaemon(t *testing.T, secret string) (*Daemon, *control.Client) {
	t.Helper()

	dir, err := os.MkdirTemp("", "ticketd-daemon-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.Daemon.Socket = filepath.Join(dir, "ticketd.sock")
	cfg.Daemon.Database = filepath.Join(dir, "ticketd.db")
	cfg.Daemon.HookSecret = secret
	cfg.Tickets.Repository = filepath.Join(dir, "repo.git")

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Shutdown)

	client, err := control.NewClient(cfg.Daemon.Socket)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return d, client
}

func TestReceivePushRouting(t *testing.T) {
	_, client := setupTestDaemon(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("NotTicketRef", func(t *testing.T) {
		_, err := client.ReceivePush(ctx, control.ReceivePushRequest{Push: receive.Push{
			Ref: "refs/heads/main", NewID: "1111111111111111111111111111111111111111", Pusher: "alice",
		}})
		if !control.IsNotTicketRef(err) {
			t.Errorf("expected not_ticket_ref, got %v", err)
		}
	})

	t.Run("MalformedTicketRef", func(t *testing.T) {
		_, err := client.ReceivePush(ctx, control.ReceivePushRequest{Push: receive.Push{
			Ref: "refs/heads/ticket/abc", NewID: "1111111111111111111111111111111111111111", Pusher: "alice",
		}})
		if !control.IsRejected(err) {
			t.Errorf("expected rejection, got %v", err)
		}
	})

	t.Run("MissingTicket", func(t *testing.T) {
		_, err := client.ReceivePush(ctx, control.ReceivePushRequest{Push: receive.Push{
			Ref: "refs/heads/ticket/42", NewID: "1111111111111111111111111111111111111111", Pusher: "alice",
		}})
		if !control.IsRejected(err) {
			t.Errorf("expected rejection, got %v", err)
		}
	})
}

func TestReceivePushRequiresSignature(t *testing.T) {
	d, client := setupTestDaemon(t, "s3cret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push := receive.Push{Ref: "refs/heads/main", NewID: "1111111111111111111111111111111111111111", Pusher: "mallory"}

	_, err := client.ReceivePush(ctx, control.ReceivePushRequest{Push: push})
	var re *control.RemoteError
	if !errors.As(err, &re) || re.Code != control.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	token, err := auth.NewSigner("s3cret").Sign("alice", d.config.Tickets.Repository)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	_, err = client.ReceivePush(ctx, control.ReceivePushRequest{Push: push, Token: token})
	if !control.IsNotTicketRef(err) {
		t.Errorf("signed push should pass auth, got %v", err)
	}
}

func TestReceivePushFiltersEnvironment(t *testing.T) {
	d, client := setupTestDaemon(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo := d.config.Tickets.Repository
	if err := os.MkdirAll(filepath.Join(repo, "objects"), 0o755); err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	trace := filepath.Join(t.TempDir(), "trace.out")

	tests := map[string][]string{
		"GitTrace":    {"GIT_TRACE=" + trace},
		"GitDir":      {"GIT_DIR=" + t.TempDir()},
		"OutsideRepo": {"GIT_OBJECT_DIRECTORY=" + t.TempDir()},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := client.ReceivePush(ctx, control.ReceivePushRequest{Push: receive.Push{
				Ref: "refs/for/main", NewID: "1111111111111111111111111111111111111111", Pusher: "alice", Env: env,
			}})
			if !control.IsRejected(err) {
				t.Errorf("expected rejection, got %v", err)
			}
		})
	}

	if _, err := os.Stat(trace); !os.IsNotExist(err) {
		t.Errorf("git ran with the pushed GIT_TRACE: stat err = %v", err)
	}
}

func TestQueries(t *testing.T) {
	_, client := setupTestDaemon(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tk, err := client.GetTicket(ctx, 1)
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if tk != nil {
		t.Errorf("expected no ticket, got %+v", tk)
	}

	tickets, err := client.ListTickets(ctx)
	if err != nil {
		t.Fatalf("ListTickets failed: %v", err)
	}
	if len(tickets) != 0 {
		t.Errorf("expected no tickets, got %d", len(tickets))
	}

	changes, err := client.ListChanges(ctx, 1)
	if err != nil {
		t.Fatalf("ListChanges failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %d", len(changes))
	}
}

func TestShutdownRejectsPushes(t *testing.T) {
	d, _ := setupTestDaemon(t, "")
	d.setDraining(true)

	_, err := d.handleReceivePush(context.Background(), []byte(`{"ref":"refs/heads/ticket/1","pusher":"alice"}`))
	var coded *codedError
	if !errors.As(err, &coded) || coded.Code() != control.CodeRejected {
		t.Errorf("expected rejection while draining, got %v", err)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("wrap: %w", ticketref.ErrNotTicketRef), control.CodeNotTicketRef},
		{fmt.Errorf("%w: no such ticket", receive.ErrRejected), control.CodeRejected},
		{fmt.Errorf("apply: %w", store.ErrRevisionConflict), control.CodeConflict},
		{errors.New("disk full"), ""},
	}
	for _, tt := range tests {
		err := codeFor(tt.err)
		var coded *codedError
		got := ""
		if errors.As(err, &coded) {
			got = coded.Code()
		}
		if got != tt.code {
			t.Errorf("codeFor(%v) code = %q, want %q", tt.err, got, tt.code)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("codeFor(%v) lost the cause", tt.err)
		}
	}
}
