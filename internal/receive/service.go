// Package receive turns ref updates pushed to a repository into ticket
// changes. It routes each ref, measures the pushed commits, builds the change
// and hands it to the store, serializing pushes that target the same ticket.
package receive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drewfead/ticketd/internal/commitmsg"
	"github.com/drewfead/ticketd/internal/git"
	"github.com/drewfead/ticketd/internal/logging"
	"github.com/drewfead/ticketd/internal/metrics"
	"github.com/drewfead/ticketd/internal/patchset"
	"github.com/drewfead/ticketd/internal/store"
	"github.com/drewfead/ticketd/internal/ticket"
	"github.com/drewfead/ticketd/internal/ticketref"
)

// ErrRejected marks a push the transport must refuse. The wrapped message is
// meant for the pusher.
var ErrRejected = errors.New("push rejected")

// Push is one ref update received by the transport.
type Push struct {
	Repository string   `json:"repository"`
	Ref        string   `json:"ref"`
	OldID      string   `json:"old_id"`
	NewID      string   `json:"new_id"`
	Pusher     string   `json:"pusher"`
	Env        []string `json:"env,omitempty"`
}

// Result describes the change a push produced.
type Result struct {
	Number int64          `json:"number"`
	Ref    string         `json:"ref"`
	IsNew  bool           `json:"is_new"`
	Change *ticket.Change `json:"change"`
	Ticket *ticket.Ticket `json:"ticket"`
}

// Repository is the git access a push needs.
type Repository interface {
	ReadCommit(ctx context.Context, id string) (*commitmsg.Commit, error)
	NewPatchset(ctx context.Context, prev *ticket.Patchset, mergeTo, tip string) (*ticket.Patchset, error)
}

// Store persists tickets. *store.Store satisfies it.
type Store interface {
	ticket.Source
	NextTicketNumber(ctx context.Context) (int64, error)
	ApplyChange(ctx context.Context, change *ticket.Change) (*ticket.Ticket, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Namespace ticketref.Namespace

	// DefaultBranch is the integration branch for "refs/for/new" pushes and
	// for tickets that never recorded one.
	DefaultBranch string

	Metrics *metrics.Metrics

	// Open returns the repository a push targets. Defaults to git.Open.
	Open func(path string, env []string) Repository
}

// Service handles pushes. It is safe for concurrent use.
type Service struct {
	store         Store
	ns            ticketref.Namespace
	defaultBranch string
	metrics       *metrics.Metrics
	open          func(path string, env []string) Repository
	locks         *keyedMutex
	onChange      func(Result)
}

// New creates a Service over st.
func New(st Store, opts Options) *Service {
	ns := opts.Namespace
	if ns == (ticketref.Namespace{}) {
		ns = ticketref.Default
	}
	open := opts.Open
	if open == nil {
		open = func(path string, env []string) Repository { return git.Open(path, env...) }
	}
	return &Service{
		store:         st,
		ns:            ns,
		defaultBranch: opts.DefaultBranch,
		metrics:       opts.Metrics,
		open:          open,
		locks:         newKeyedMutex(),
	}
}

// OnChange registers a callback invoked after every applied change.
func (s *Service) OnChange(fn func(Result)) {
	s.onChange = fn
}

// Receive processes one ref update. It returns ticketref.ErrNotTicketRef for
// refs outside the ticket namespace, which the transport should let through
// untouched, and an error wrapping ErrRejected for pushes it must refuse.
func (s *Service) Receive(ctx context.Context, push Push) (*Result, error) {
	start := time.Now()
	log := logging.With("repository", push.Repository, "ref", push.Ref, "pusher", push.Pusher)

	res, err := s.receive(ctx, push)

	outcome := metrics.OutcomeAccepted
	switch {
	case err == nil:
		log.Info("push applied", "ticket", res.Number, "patchset_ref", res.Ref, "new", res.IsNew)
	case errors.Is(err, ticketref.ErrNotTicketRef):
		outcome = metrics.OutcomeIgnored
	case errors.Is(err, store.ErrRevisionConflict):
		outcome = metrics.OutcomeConflict
		log.Warn("push lost revision race", "error", err)
	case errors.Is(err, ErrRejected):
		outcome = metrics.OutcomeRejected
		log.Warn("push rejected", "error", err)
	default:
		outcome = metrics.OutcomeError
		log.Error("push failed", "error", err)
	}
	s.metrics.RecordPush(outcome, time.Since(start))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordChange(res.IsNew, res.Change)
	if s.onChange != nil {
		s.onChange(*res)
	}
	return res, nil
}

func (s *Service) receive(ctx context.Context, push Push) (*Result, error) {
	if push.Pusher == "" {
		return nil, fmt.Errorf("%w: unknown pusher", ErrRejected)
	}
	env, err := quarantineEnv(push.Repository, push.Env)
	if err != nil {
		return nil, err
	}
	push.Env = env

	if s.ns.IsNewTicketRef(push.Ref) {
		if git.IsZeroID(push.NewID) {
			return nil, fmt.Errorf("%w: cannot delete %s", ErrRejected, push.Ref)
		}
		return s.newTicket(ctx, push)
	}

	number, err := s.ns.TicketNumber(push.Ref)
	if err != nil {
		if errors.Is(err, ticketref.ErrMalformedRef) {
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return nil, err
	}
	if git.IsZeroID(push.NewID) {
		return nil, fmt.Errorf("%w: ticket refs cannot be deleted", ErrRejected)
	}
	return s.updateTicket(ctx, push, number)
}

func (s *Service) newTicket(ctx context.Context, push Push) (*Result, error) {
	mergeTo := s.ns.TargetBranch(push.Ref)
	if mergeTo == "" {
		mergeTo = s.defaultBranch
	}
	if mergeTo == "" {
		return nil, fmt.Errorf("%w: no integration branch; push to %s<branch>", ErrRejected, s.ns.NewTicketRoot)
	}

	repo := s.open(push.Repository, push.Env)
	commit, err := repo.ReadCommit(ctx, push.NewID)
	if err != nil {
		return nil, err
	}
	ps, err := repo.NewPatchset(ctx, nil, mergeTo, push.NewID)
	if err != nil {
		return nil, err
	}
	if ps.TotalCommits == 0 {
		return nil, fmt.Errorf("%w: %s is already merged into %s", ErrRejected, shortID(push.NewID), mergeTo)
	}

	number, err := s.store.NextTicketNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ticket number: %w", err)
	}

	unlock := s.locks.Lock(number)
	defer unlock()

	cmd := patchset.NewNamespacedCommand(s.ns, push.Pusher, ps)
	cmd.NewTicket(commit, mergeTo, number, push.Ref)
	return s.apply(ctx, cmd, number)
}

func (s *Service) updateTicket(ctx context.Context, push Push, number int64) (*Result, error) {
	unlock := s.locks.Lock(number)
	defer unlock()

	t, err := s.store.GetTicket(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %d: %w", number, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: ticket %d does not exist", ErrRejected, number)
	}

	prev := t.CurrentPatchset()
	if prev != nil && prev.Tip == push.NewID {
		return nil, fmt.Errorf("%w: %s is already patchset %d of ticket %d",
			ErrRejected, shortID(push.NewID), prev.Rev, number)
	}

	mergeTo := t.MergeTo
	if mergeTo == "" {
		mergeTo = s.defaultBranch
	}

	repo := s.open(push.Repository, push.Env)
	commit, err := repo.ReadCommit(ctx, push.NewID)
	if err != nil {
		return nil, err
	}
	ps, err := repo.NewPatchset(ctx, prev, mergeTo, push.NewID)
	if err != nil {
		return nil, err
	}

	cmd := patchset.NewNamespacedCommand(s.ns, push.Pusher, ps)
	cmd.UpdateTicket(commit, mergeTo, t, push.Ref)
	return s.apply(ctx, cmd, number)
}

func (s *Service) apply(ctx context.Context, cmd *patchset.Command, number int64) (*Result, error) {
	got, err := cmd.TicketNumber()
	if err != nil {
		return nil, fmt.Errorf("patchset ref %s: %w", cmd.RefName(), err)
	}
	if got != number {
		return nil, fmt.Errorf("patchset ref %s addresses ticket %d, want %d", cmd.RefName(), got, number)
	}

	change := cmd.Change()
	t, err := s.store.ApplyChange(ctx, change)
	if err != nil {
		return nil, err
	}
	return &Result{
		Number: number,
		Ref:    cmd.RefName(),
		IsNew:  cmd.IsNewTicket(),
		Change: change,
		Ticket: t,
	}, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
