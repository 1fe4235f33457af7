package git

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/drewfead/ticketd/internal/ticket"
)

func TestClassify(t *testing.T) {
	prev := &ticket.Patchset{Rev: 1, Tip: "a", Base: "base1", TotalCommits: 3}

	tests := []struct {
		name        string
		prev        *ticket.Patchset
		next        *ticket.Patchset
		fastForward bool
		want        ticket.PatchsetType
	}{
		{"first", nil, &ticket.Patchset{TotalCommits: 1}, false, ticket.PatchsetProposal},
		{"fast forward", prev, &ticket.Patchset{Base: "base1", TotalCommits: 4}, true, ticket.PatchsetFastForward},
		{"amend", prev, &ticket.Patchset{Base: "base1", TotalCommits: 3}, false, ticket.PatchsetAmend},
		{"squash", prev, &ticket.Patchset{Base: "base1", TotalCommits: 1}, false, ticket.PatchsetSquash},
		{"rebase", prev, &ticket.Patchset{Base: "base2", TotalCommits: 3}, false, ticket.PatchsetRebase},
		{"rebase squash", prev, &ticket.Patchset{Base: "base2", TotalCommits: 2}, false, ticket.PatchsetRebaseSquash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.prev, tt.next, tt.fastForward); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsZeroID(t *testing.T) {
	if !IsZeroID(ZeroID) || !IsZeroID("") {
		t.Error("zero ids not recognized")
	}
	if IsZeroID("0000000000000000000000000000000000000001") {
		t.Error("non-zero id reported as zero")
	}
}

// setupTestRepo creates a repository with one commit on main. It skips the
// test when git is not installed.
func setupTestRepo(t *testing.T) (*Repository, func(args ...string) string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
			"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	run("init", "-q", "-b", "main")
	run("commit", "-q", "--allow-empty", "-m", "Initial commit")
	return Open(dir), run
}

func TestRepositoryPatchsets(t *testing.T) {
	repo, run := setupTestRepo(t)
	ctx := context.Background()

	base := run("rev-parse", "HEAD")
	run("checkout", "-q", "-b", "topic")
	run("commit", "-q", "--allow-empty", "-m", "Fix bug\n\nDetailed explanation.\n\nSigned-off-by: A <a@x>")
	first := run("rev-parse", "HEAD")

	commit, err := repo.ReadCommit(ctx, first)
	if err != nil {
		t.Fatalf("ReadCommit failed: %v", err)
	}
	if commit.Title() != "Fix bug" || commit.Body() != "Detailed explanation." {
		t.Errorf("title/body = %q/%q", commit.Title(), commit.Body())
	}

	ps1, err := repo.NewPatchset(ctx, nil, "main", first)
	if err != nil {
		t.Fatalf("NewPatchset failed: %v", err)
	}
	if ps1.Type != ticket.PatchsetProposal || ps1.Rev != 1 || ps1.Base != base || ps1.TotalCommits != 1 {
		t.Errorf("unexpected first patchset: %+v", ps1)
	}

	run("commit", "-q", "--allow-empty", "-m", "Add tests")
	second := run("rev-parse", "HEAD")
	ps2, err := repo.NewPatchset(ctx, ps1, "main", second)
	if err != nil {
		t.Fatalf("NewPatchset failed: %v", err)
	}
	if ps2.Type != ticket.PatchsetFastForward || ps2.Rev != 2 || ps2.TotalCommits != 2 || ps2.AddedCommits != 1 {
		t.Errorf("unexpected second patchset: %+v", ps2)
	}

	run("commit", "-q", "--allow-empty", "--amend", "-m", "Add more tests")
	amended := run("rev-parse", "HEAD")
	ps3, err := repo.NewPatchset(ctx, ps2, "main", amended)
	if err != nil {
		t.Fatalf("NewPatchset failed: %v", err)
	}
	if ps3.Type != ticket.PatchsetAmend {
		t.Errorf("type = %s, want Amend", ps3.Type)
	}

	missing, err := repo.ResolveRef(ctx, "refs/heads/nope")
	if err != nil || missing != "" {
		t.Errorf("ResolveRef(missing) = %q, %v", missing, err)
	}
}
