// Package git reads commits and ancestry from a bare repository by running
// the git binary.
package git

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/drewfead/ticketd/internal/commitmsg"
	"github.com/drewfead/ticketd/internal/executil"
	"github.com/drewfead/ticketd/internal/ticket"
)

// ZeroID is the object id git uses for a missing side of a ref update.
const ZeroID = "0000000000000000000000000000000000000000"

// IsZeroID reports whether id names no object.
func IsZeroID(id string) bool {
	return id == "" || strings.Trim(id, "0") == ""
}

// Repository is a git repository on local disk.
type Repository struct {
	Path string

	// Env is passed to every git invocation. A pre-receive hook forwards
	// GIT_OBJECT_DIRECTORY and GIT_ALTERNATE_OBJECT_DIRECTORIES here so the
	// quarantined objects of an in-flight push are readable.
	Env []string
}

// Open returns a repository rooted at path.
func Open(path string, env ...string) *Repository {
	return &Repository{Path: path, Env: env}
}

func (r *Repository) git(ctx context.Context, args ...string) ([]byte, error) {
	return executil.Output(ctx, r.Path, r.Env, "git", args...)
}

// ReadCommit loads and parses a commit object.
func (r *Repository) ReadCommit(ctx context.Context, id string) (*commitmsg.Commit, error) {
	raw, err := r.git(ctx, "cat-file", "commit", id)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", id, err)
	}
	return commitmsg.Parse(id, raw)
}

// ResolveRef returns the object id ref points at, or "" when it does not
// exist.
func (r *Repository) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := r.git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if executil.ExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// UpdateRef points ref at id.
func (r *Repository) UpdateRef(ctx context.Context, ref, id string) error {
	if _, err := r.git(ctx, "update-ref", ref, id); err != nil {
		return fmt.Errorf("failed to update %s: %w", ref, err)
	}
	return nil
}

// DeleteRef removes ref if it still points at id.
func (r *Repository) DeleteRef(ctx context.Context, ref, id string) error {
	if _, err := r.git(ctx, "update-ref", "-d", ref, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

// MergeBase returns the best common ancestor of a and b, or "" when they
// share no history.
func (r *Repository) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := r.git(ctx, "merge-base", a, b)
	if err != nil {
		if executil.ExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("failed to find merge base of %s and %s: %w", a, b, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if executil.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check ancestry of %s: %w", ancestor, err)
}

// CountCommits counts the commits reachable from tip but not from base. An
// empty base counts all of tip's history.
func (r *Repository) CountCommits(ctx context.Context, base, tip string) (int, error) {
	spec := tip
	if base != "" {
		spec = base + ".." + tip
	}
	out, err := r.git(ctx, "rev-list", "--count", spec)
	if err != nil {
		return 0, fmt.Errorf("failed to count commits %s: %w", spec, err)
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(out)))
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", out, err)
	}
	return n, nil
}

// NewPatchset measures tip against the integration branch mergeTo and
// classifies it against the previous patchset prev, which may be nil.
// Number and Ref are left for the change builder to fill.
func (r *Repository) NewPatchset(ctx context.Context, prev *ticket.Patchset, mergeTo, tip string) (*ticket.Patchset, error) {
	ps := &ticket.Patchset{Tip: tip, Rev: 1}
	if prev != nil {
		ps.Rev = prev.Rev + 1
	}

	if mergeTo != "" {
		branchTip, err := r.ResolveRef(ctx, "refs/heads/"+mergeTo)
		if err != nil {
			return nil, err
		}
		if branchTip != "" {
			base, err := r.MergeBase(ctx, branchTip, tip)
			if err != nil {
				return nil, err
			}
			ps.Base = base
		}
	}

	total, err := r.CountCommits(ctx, ps.Base, tip)
	if err != nil {
		return nil, err
	}
	ps.TotalCommits = total

	fastForward := false
	if prev != nil {
		fastForward, err = r.IsAncestor(ctx, prev.Tip, tip)
		if err != nil {
			return nil, err
		}
	}
	ps.Type = Classify(prev, ps, fastForward)

	switch {
	case prev == nil:
		ps.AddedCommits = total
	case fastForward:
		added, err := r.CountCommits(ctx, prev.Tip, tip)
		if err != nil {
			return nil, err
		}
		ps.AddedCommits = added
	default:
		ps.AddedCommits = total
	}
	return ps, nil
}

// Classify decides how next relates to prev. fastForward reports whether
// prev's tip is an ancestor of next's tip.
func Classify(prev, next *ticket.Patchset, fastForward bool) ticket.PatchsetType {
	switch {
	case prev == nil:
		return ticket.PatchsetProposal
	case fastForward:
		return ticket.PatchsetFastForward
	case prev.Base == next.Base:
		if next.TotalCommits < prev.TotalCommits {
			return ticket.PatchsetSquash
		}
		return ticket.PatchsetAmend
	default:
		if next.TotalCommits < prev.TotalCommits {
			return ticket.PatchsetRebaseSquash
		}
		return ticket.PatchsetRebase
	}
}
