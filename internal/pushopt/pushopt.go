// Package pushopt decodes ticket metadata appended to a pushed ref name.
//
// Options follow a literal '%' as comma separated token=value entries:
//
//	refs/for/main%topic=cache,r=alice,cc=bob,cc=carol,m=v2
//
// Token matching is case-insensitive. A value runs to the next comma or the
// end of the string and is not trimmed. Unknown tokens are ignored; nothing
// here rejects input.
package pushopt

import (
	"strings"
)

// Recognized tokens.
const (
	Topic      = "topic="
	AssignedTo = "r="
	Watch      = "cc="
	Milestone  = "m="
)

// Options holds the decoded metadata of one pushed ref.
type Options struct {
	// Present is false when the ref carries no '%' suffix at all.
	Present bool

	// Watchers lists every cc= value in order. Empty (not nil) when the
	// suffix is present but has no cc= entries.
	Watchers []string

	// Single-valued tokens take their first occurrence; nil when absent.
	Topic      *string
	AssignedTo *string
	Milestone  *string
}

// Parse decodes every recognized token from ref.
func Parse(ref string) Options {
	if strings.IndexByte(ref, '%') < 0 {
		return Options{}
	}
	watchers := Values(ref, Watch)
	if watchers == nil {
		watchers = []string{}
	}
	return Options{
		Present:    true,
		Watchers:   watchers,
		Topic:      Single(ref, Topic),
		AssignedTo: Single(ref, AssignedTo),
		Milestone:  Single(ref, Milestone),
	}
}

// Values returns the values of every entry matching token, in order. It
// returns nil when ref has no '%' suffix and an empty slice when the suffix
// is present but holds no matching entry.
func Values(ref, token string) []string {
	i := strings.IndexByte(ref, '%')
	if i < 0 {
		return nil
	}
	token = strings.ToLower(token)
	values := []string{}
	for _, entry := range strings.Split(ref[i+1:], ",") {
		if len(entry) < len(token) {
			continue
		}
		if strings.ToLower(entry[:len(token)]) == token {
			values = append(values, entry[len(token):])
		}
	}
	return values
}

// Single returns the first value matching token, or nil.
func Single(ref, token string) *string {
	values := Values(ref, token)
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

// StripOptions returns ref without its '%' suffix.
func StripOptions(ref string) string {
	if i := strings.IndexByte(ref, '%'); i >= 0 {
		return ref[:i]
	}
	return ref
}

// Value dereferences an optional value, returning "" for nil.
func Value(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
