// Package ticketref maps ticket numbers to git reference names and back.
//
// Two ref families live under the ticket namespace:
//
//	refs/heads/ticket/<n>            ticket head (current state)
//	refs/tickets/<shard>/<n>/<rev>   patchset revision
//
// The shard is n mod 100 rendered as two digits, which keeps the number of
// entries under any one shard directory at roughly 1% of all tickets.
package ticketref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Default namespace roots.
const (
	DefaultHeadRoot      = "refs/heads/ticket/"
	DefaultPatchsetRoot  = "refs/tickets/"
	DefaultNewTicketRoot = "refs/for/"
)

// ErrNotTicketRef is returned for refs outside both ticket families.
// Callers treat it as "not applicable", not as a failure.
var ErrNotTicketRef = errors.New("not a ticket ref")

// ErrMalformedRef is wrapped by MalformedRefError.
var ErrMalformedRef = errors.New("malformed ticket ref")

// MalformedRefError reports a ref that claims the ticket namespace but whose
// number segment does not parse.
type MalformedRefError struct {
	Ref     string
	Segment string
	Err     error
}

func (e *MalformedRefError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed ticket ref %q: segment %q: %v", e.Ref, e.Segment, e.Err)
	}
	return fmt.Sprintf("malformed ticket ref %q: segment %q", e.Ref, e.Segment)
}

func (e *MalformedRefError) Unwrap() error {
	return ErrMalformedRef
}

// Namespace holds the ref roots used to address tickets. Every root must end
// with a slash.
type Namespace struct {
	HeadRoot      string
	PatchsetRoot  string
	NewTicketRoot string
}

// Default is the namespace used by the package-level functions.
var Default = Namespace{
	HeadRoot:      DefaultHeadRoot,
	PatchsetRoot:  DefaultPatchsetRoot,
	NewTicketRoot: DefaultNewTicketRoot,
}

// NewNamespace returns a namespace with the given roots. Empty roots fall
// back to the defaults and missing trailing slashes are added.
func NewNamespace(headRoot, patchsetRoot, newTicketRoot string) Namespace {
	return Namespace{
		HeadRoot:      normalizeRoot(headRoot, DefaultHeadRoot),
		PatchsetRoot:  normalizeRoot(patchsetRoot, DefaultPatchsetRoot),
		NewTicketRoot: normalizeRoot(newTicketRoot, DefaultNewTicketRoot),
	}
}

// Validate checks that the head and patchset roots are disjoint. A head root
// that prefixes the patchset root (or the reverse) would make revision refs
// parse as malformed head refs.
func (ns Namespace) Validate() error {
	for _, root := range []string{ns.HeadRoot, ns.PatchsetRoot, ns.NewTicketRoot} {
		if !strings.HasPrefix(root, "refs/") || !strings.HasSuffix(root, "/") {
			return fmt.Errorf("ref root %q must start with refs/ and end with /", root)
		}
	}
	if strings.HasPrefix(ns.HeadRoot, ns.PatchsetRoot) || strings.HasPrefix(ns.PatchsetRoot, ns.HeadRoot) {
		return fmt.Errorf("head root %q and patchset root %q overlap", ns.HeadRoot, ns.PatchsetRoot)
	}
	return nil
}

func normalizeRoot(root, fallback string) string {
	if root == "" {
		return fallback
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root
}

// Shard returns the two-digit shard segment for a ticket number.
func Shard(number int64) string {
	m := number % 100
	if m < 0 {
		m = -m
	}
	if m < 10 {
		return "0" + strconv.FormatInt(m, 10)
	}
	return strconv.FormatInt(m, 10)
}

// BaseRef returns "<patchset-root><shard>/<number>/".
func (ns Namespace) BaseRef(number int64) string {
	var sb strings.Builder
	sb.WriteString(ns.PatchsetRoot)
	sb.WriteString(Shard(number))
	sb.WriteByte('/')
	sb.WriteString(strconv.FormatInt(number, 10))
	sb.WriteByte('/')
	return sb.String()
}

// RevisionRef returns the ref of one patchset revision.
func (ns Namespace) RevisionRef(number int64, rev int) string {
	return ns.BaseRef(number) + strconv.Itoa(rev)
}

// HeadRef returns the ticket head ref.
func (ns Namespace) HeadRef(number int64) string {
	return ns.HeadRoot + strconv.FormatInt(number, 10)
}

// TicketNumber extracts the ticket number from a head or revision ref.
// A push option suffix ("%...") is ignored. Refs outside the namespace
// return ErrNotTicketRef; refs inside it with an unparseable number return
// a *MalformedRefError.
func (ns Namespace) TicketNumber(ref string) (int64, error) {
	ref = stripOptions(ref)

	if n, ok, err := ns.matchHead(ref); ok {
		return n, err
	}
	if n, ok, err := ns.matchRevision(ref); ok {
		return n, err
	}
	return 0, ErrNotTicketRef
}

// matchHead reports ok when ref is in the head family.
func (ns Namespace) matchHead(ref string) (int64, bool, error) {
	if !strings.HasPrefix(ref, ns.HeadRoot) {
		return 0, false, nil
	}
	segment := ref[len(ns.HeadRoot):]
	n, err := parseNumber(ref, segment)
	return n, true, err
}

// matchRevision reports ok when ref is in the patchset family. The shard
// segment is skipped and the trailing revision segment is ignored.
func (ns Namespace) matchRevision(ref string) (int64, bool, error) {
	if !strings.HasPrefix(ref, ns.PatchsetRoot) {
		return 0, false, nil
	}
	rest := ref[len(ns.PatchsetRoot):]

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return 0, true, &MalformedRefError{Ref: ref, Segment: rest}
	}
	rest = rest[slash+1:]

	segment := rest
	if slash = strings.IndexByte(rest, '/'); slash >= 0 {
		segment = rest[:slash]
	} else {
		return 0, true, &MalformedRefError{Ref: ref, Segment: rest}
	}

	n, err := parseNumber(ref, segment)
	return n, true, err
}

func parseNumber(ref, segment string) (int64, error) {
	n, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, &MalformedRefError{Ref: ref, Segment: segment, Err: err}
	}
	if n <= 0 {
		return 0, &MalformedRefError{Ref: ref, Segment: segment}
	}
	return n, nil
}

// IsNewTicketRef reports whether ref is a new-ticket push ("refs/for/<branch>").
func (ns Namespace) IsNewTicketRef(ref string) bool {
	ref = stripOptions(ref)
	return strings.HasPrefix(ref, ns.NewTicketRoot) && len(ref) > len(ns.NewTicketRoot)
}

// TargetBranch returns the integration branch named by a new-ticket push,
// or "" when ref is not one. "refs/for/new" names no branch and also
// returns "".
func (ns Namespace) TargetBranch(ref string) string {
	if !ns.IsNewTicketRef(ref) {
		return ""
	}
	branch := stripOptions(ref)[len(ns.NewTicketRoot):]
	if branch == "new" {
		return ""
	}
	return branch
}

func stripOptions(ref string) string {
	if i := strings.IndexByte(ref, '%'); i >= 0 {
		return ref[:i]
	}
	return ref
}

// BaseRef returns the base ref in the default namespace.
func BaseRef(number int64) string { return Default.BaseRef(number) }

// RevisionRef returns the revision ref in the default namespace.
func RevisionRef(number int64, rev int) string { return Default.RevisionRef(number, rev) }

// HeadRef returns the head ref in the default namespace.
func HeadRef(number int64) string { return Default.HeadRef(number) }

// TicketNumber resolves a ref in the default namespace.
func TicketNumber(ref string) (int64, error) { return Default.TicketNumber(ref) }
