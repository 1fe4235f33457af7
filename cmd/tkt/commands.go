package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drewfead/ticketd/internal/cli"
	"github.com/drewfead/ticketd/internal/git"
	"github.com/drewfead/ticketd/internal/pushopt"
	"github.com/drewfead/ticketd/internal/ticket"
	"github.com/drewfead/ticketd/internal/ticketref"
	"github.com/drewfead/ticketd/internal/tui/watch"
)

const requestTimeout = 10 * time.Second

func parseNumber(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid ticket number %q", s)
	}
	return n, nil
}

func runShow(number int64) error {
	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	t, err := client.GetTicket(ctx, number)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("ticket %d not found", number)
	}
	fmt.Print(cli.TicketCard(t, cli.TerminalWidth(80)))
	return nil
}

func runList(all bool) error {
	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var filter []ticket.Status
	if !all {
		filter = []ticket.Status{ticket.StatusNew, ticket.StatusOpen, ticket.StatusOnHold}
	}
	tickets, err := client.ListTickets(ctx, filter...)
	if err != nil {
		return err
	}

	if len(tickets) == 0 {
		fmt.Println(cli.Muted("No tickets. Open one with: git push origin HEAD:refs/for/<branch>"))
		return nil
	}
	for _, t := range tickets {
		line := cli.TicketHeader(t)
		if t.Topic != "" {
			line += " " + cli.Muted("["+t.Topic+"]")
		}
		if ps := t.CurrentPatchset(); ps != nil {
			line += " " + cli.Muted(fmt.Sprintf("rev %d", ps.Rev))
		}
		fmt.Println(line)
	}
	return nil
}

func runChanges(number int64) error {
	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	changes, err := client.ListChanges(ctx, number)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return fmt.Errorf("ticket %d has no changes", number)
	}
	for _, c := range changes {
		fmt.Println(cli.ChangeLine(c))
	}
	return nil
}

func runWatch(number int64) error {
	client, err := getClient()
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(watch.New(client.Events(), number), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runRef(w io.Writer, args []string) error {
	number, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	ns := cfg.Namespace()
	if len(args) == 1 {
		fmt.Fprintln(w, ns.HeadRef(number))
		return nil
	}
	rev, err := strconv.Atoi(args[1])
	if err != nil || rev <= 0 {
		return fmt.Errorf("invalid patchset revision %q", args[1])
	}
	fmt.Fprintln(w, ns.RevisionRef(number, rev))
	return nil
}

func runResolve(w io.Writer, ref string) error {
	ns := cfg.Namespace()

	if ns.IsNewTicketRef(ref) {
		branch := ns.TargetBranch(ref)
		if branch == "" {
			branch = cfg.Tickets.DefaultBranch + " (default)"
		}
		fmt.Fprintf(w, "new ticket -> %s\n", branch)
	} else {
		number, err := ns.TicketNumber(ref)
		switch {
		case errors.Is(err, ticketref.ErrNotTicketRef):
			return fmt.Errorf("%s is not a ticket ref", ref)
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "ticket %d\n", number)
	}

	opts := pushopt.Parse(ref)
	if !opts.Present {
		return nil
	}
	printOpt := func(name string, v *string) {
		if v != nil {
			fmt.Fprintf(w, "  %-9s %s\n", name, *v)
		}
	}
	printOpt("topic", opts.Topic)
	printOpt("assigned", opts.AssignedTo)
	printOpt("milestone", opts.Milestone)
	if len(opts.Watchers) > 0 {
		fmt.Fprintf(w, "  %-9s %s\n", "watch", strings.Join(opts.Watchers, ", "))
	}
	return nil
}

func runParseMessage(ctx context.Context, w io.Writer, repoPath, rev string) error {
	repo := git.Open(repoPath)
	id, err := repo.ResolveRef(ctx, rev)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%s does not name a commit", rev)
	}
	c, err := repo.ReadCommit(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", cli.Muted("commit"), c.Name())
	if c.EncodingFallback() {
		fmt.Fprintln(w, cli.Warn(fmt.Sprintf("declared encoding %q could not be used; decoded with fallback", c.Encoding())))
	}
	fmt.Fprintf(w, "%s %s\n", cli.Muted("title "), cli.Bolden(c.Title()))
	if body := c.Body(); body != "" {
		fmt.Fprintln(w, cli.Muted("body"))
		fmt.Fprintln(w, cli.RenderMarkdown(body, cli.TerminalWidth(80)))
	}
	for _, tr := range c.Trailers() {
		fmt.Fprintf(w, "%s %s: %s\n", cli.Muted("trailer"), tr.Key, tr.Value)
	}
	return nil
}
