package executil

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestReplaceEnv(t *testing.T) {
	env := []string{"HOME=/root", "PATH=/tmp/evil:/usr/bin", "PATHEXT=x"}
	got := replaceEnv(env, "PATH", "/usr/bin")
	want := []string{"HOME=/root", "PATHEXT=x", "PATH=/usr/bin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("replaceEnv = %v, want %v", got, want)
	}

	got = replaceEnv(env, "PATH", "")
	if !reflect.DeepEqual(got, []string{"HOME=/root", "PATHEXT=x"}) {
		t.Errorf("replaceEnv with empty value = %v", got)
	}
}

func TestExitCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ExitError{Name: "git", Args: []string{"merge-base"}, Code: 1})
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode = %d, want 1", ExitCode(err))
	}
	if ExitCode(errors.New("boom")) != -1 {
		t.Error("plain errors should report -1")
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Name: "git", Args: []string{"cat-file", "commit", "x"}, Code: 128, Stderr: "fatal: bad object\n"}
	want := "git cat-file commit x: exit status 128: fatal: bad object"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFindExecutableMissing(t *testing.T) {
	if _, err := findExecutable("definitely-not-a-real-binary", []string{t.TempDir()}); err == nil {
		t.Error("expected error for missing executable")
	}
}
