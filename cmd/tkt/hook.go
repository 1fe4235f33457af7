package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drewfead/ticketd/internal/auth"
	"github.com/drewfead/ticketd/internal/cli"
	"github.com/drewfead/ticketd/internal/control"
	"github.com/drewfead/ticketd/internal/receive"
)

// refUpdate is one line of pre-receive input.
type refUpdate struct {
	OldID string
	NewID string
	Ref   string
}

func parseRefUpdates(r io.Reader) ([]refUpdate, error) {
	var updates []refUpdate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed hook input %q", line)
		}
		updates = append(updates, refUpdate{OldID: fields[0], NewID: fields[1], Ref: fields[2]})
	}
	return updates, scanner.Err()
}

func hookPusher(flag string) string {
	if flag != "" {
		return flag
	}
	for _, key := range []string{"TICKETD_PUSHER", "GL_USERNAME", "REMOTE_USER", "USER"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func hookRepository(flag string) (string, error) {
	if flag == "" {
		flag = "."
	}
	return filepath.Abs(flag)
}

func forwardedEnv() []string {
	var env []string
	for _, key := range receive.QuarantineVars {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// runHook forwards every ref update to the daemon. Updates to refs outside
// the ticket namespace pass through untouched. Output goes to the pusher.
func runHook(ctx context.Context, in io.Reader, stdout, stderr io.Writer, pusherFlag, repoFlag string) error {
	updates, err := parseRefUpdates(in)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	pusher := hookPusher(pusherFlag)
	repo, err := hookRepository(repoFlag)
	if err != nil {
		return err
	}

	token, err := auth.NewSigner(cfg.Daemon.HookSecret).Sign(pusher, repo)
	if err != nil {
		return err
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	env := forwardedEnv()
	rejected := 0
	for _, u := range updates {
		res, err := client.ReceivePush(ctx, control.ReceivePushRequest{
			Push: receive.Push{
				Repository: repo,
				Ref:        u.Ref,
				OldID:      u.OldID,
				NewID:      u.NewID,
				Pusher:     pusher,
				Env:        env,
			},
			Token: token,
		})
		switch {
		case control.IsNotTicketRef(err):
			continue
		case err != nil:
			rejected++
			fmt.Fprintf(stderr, "%s %s: %v\n", cli.Failed(cli.CrossMark), u.Ref, err)
			continue
		}
		printResult(stdout, res)
	}

	if rejected > 0 {
		return fmt.Errorf("%d ref update(s) rejected", rejected)
	}
	return nil
}

func printResult(w io.Writer, res *receive.Result) {
	verb := "updated"
	if res.IsNew {
		verb = "created"
	}
	fmt.Fprintf(w, "%s ticket %d %s\n", cli.OK(cli.CheckMark), res.Number, verb)
	if res.Ticket != nil {
		fmt.Fprintf(w, "  %s\n", res.Ticket.Title)
		if ps := res.Ticket.CurrentPatchset(); ps != nil {
			fmt.Fprintf(w, "  patchset %d (%s, %d commits) -> %s\n", ps.Rev, ps.Type, ps.TotalCommits, res.Ref)
		}
	}
	fmt.Fprintf(w, "  push updates to %s\n", cfg.Namespace().HeadRef(res.Number))
}
