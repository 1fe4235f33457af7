package receive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// QuarantineVars names the variables git sets in pre-receive so that pushed
// objects are readable before they are migrated into the repository. They
// are the only variables a push may carry into the daemon's git calls.
var QuarantineVars = []string{
	"GIT_OBJECT_DIRECTORY",
	"GIT_ALTERNATE_OBJECT_DIRECTORIES",
	"GIT_QUARANTINE_PATH",
}

// quarantineEnv checks a push's environment. Every entry must be a
// quarantine variable whose paths are absolute and inside repo.
func quarantineEnv(repo string, env []string) ([]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	root, err := filepath.Abs(repo)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid repository %q", ErrRejected, repo)
	}

	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !isQuarantineVar(key) {
			return nil, fmt.Errorf("%w: environment variable %q is not allowed", ErrRejected, key)
		}
		paths := []string{value}
		if key == "GIT_ALTERNATE_OBJECT_DIRECTORIES" {
			paths = filepath.SplitList(value)
		}
		for _, p := range paths {
			if !within(root, p) {
				return nil, fmt.Errorf("%w: %s points outside %s", ErrRejected, key, repo)
			}
		}
		out = append(out, kv)
	}
	return out, nil
}

func isQuarantineVar(key string) bool {
	for _, v := range QuarantineVars {
		if key == v {
			return true
		}
	}
	return false
}

// within reports whether path is root or below it. Both are compared as
// given and with symlinks resolved, since git may report either form.
func within(root, path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	if under(root, path) {
		return true
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	return under(realRoot, realPath)
}

func under(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
