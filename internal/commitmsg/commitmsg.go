// Package commitmsg parses raw git commit objects into a title, a
// trailer-free body and the trailer block, decoding text with the
// character encoding the commit declares.
package commitmsg

import (
	"bytes"
	"errors"
	"strings"
)

// ErrEmptyCommit is returned when the raw buffer is empty.
var ErrEmptyCommit = errors.New("empty commit buffer")

// Commit is a parsed commit object. The zero value is not usable; create one
// with Parse.
type Commit struct {
	id        string
	raw       []byte
	tree      string
	parents   []string
	author    string
	committer string
	encoding  string
	msgBegin  int // -1 when the buffer has no message
	decoder   decoder
}

// Trailer is one "Key: value" footer line.
type Trailer struct {
	Key   string
	Value string
}

// Parse parses a raw commit buffer as printed by "git cat-file commit". id is
// the object id of the commit; it is not part of the buffer.
func Parse(id string, raw []byte) (*Commit, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyCommit
	}

	c := &Commit{id: id, raw: raw, msgBegin: -1}

	ptr := 0
	for ptr < len(raw) {
		end := nextLF(raw, ptr)
		line := raw[ptr:end]
		line = bytes.TrimSuffix(line, []byte{'\n'})
		if len(line) == 0 {
			c.msgBegin = end
			break
		}
		if line[0] == ' ' {
			// Continuation of a multi-line header (gpgsig, mergetag).
			ptr = end
			continue
		}
		key, value, _ := bytes.Cut(line, []byte{' '})
		switch string(key) {
		case "tree":
			c.tree = string(value)
		case "parent":
			c.parents = append(c.parents, string(value))
		case "author":
			c.author = string(value)
		case "committer":
			c.committer = string(value)
		case "encoding":
			c.encoding = string(value)
		}
		ptr = end
	}

	c.decoder = lookupDecoder(c.encoding)
	if c.msgBegin >= 0 {
		c.decoder.check(c.raw[c.msgBegin:])
	}
	return c, nil
}

// Name returns the commit object id.
func (c *Commit) Name() string { return c.id }

// Tree returns the tree object id.
func (c *Commit) Tree() string { return c.tree }

// Parents returns the parent object ids in header order.
func (c *Commit) Parents() []string { return c.parents }

// Author returns the raw author ident line.
func (c *Commit) Author() string { return c.author }

// Committer returns the raw committer ident line.
func (c *Commit) Committer() string { return c.committer }

// Encoding returns the declared encoding, or "" when none is declared.
func (c *Commit) Encoding() string { return c.encoding }

// EncodingFallback reports whether the declared encoding was missing,
// unrecognized or unable to decode the message, and the standard decoding
// was used instead.
func (c *Commit) EncodingFallback() bool { return c.decoder.fallback }

// Message returns the full decoded commit message.
func (c *Commit) Message() string {
	if c.msgBegin < 0 {
		return ""
	}
	return c.decoder.decode(c.raw[c.msgBegin:])
}

// Title returns the first paragraph of the message with line breaks
// collapsed to single spaces.
func (c *Commit) Title() string {
	if c.msgBegin < 0 {
		return ""
	}
	end := endOfParagraph(c.raw, c.msgBegin)
	title := c.decoder.decode(c.raw[c.msgBegin:end])
	if strings.ContainsAny(title, "\r\n") {
		title = strings.ReplaceAll(title, "\r\n", " ")
		title = strings.ReplaceAll(title, "\n", " ")
		title = strings.ReplaceAll(title, "\r", " ")
	}
	return title
}

// Body returns the message between the title paragraph and the trailer
// block, trimmed of surrounding whitespace. A title-only message has an
// empty body.
func (c *Commit) Body() string {
	if c.msgBegin < 0 {
		return ""
	}
	cut, _ := c.footerBoundary()
	titleEnd := endOfParagraph(c.raw, c.msgBegin)
	if titleEnd >= cut {
		return ""
	}
	return strings.TrimSpace(c.decoder.decode(c.raw[titleEnd:cut]))
}

// Trailers returns the footer lines of the message in order. Continuation
// lines are folded into the preceding value.
func (c *Commit) Trailers() []Trailer {
	if c.msgBegin < 0 {
		return nil
	}
	_, footerStart := c.footerBoundary()
	if footerStart < 0 {
		return nil
	}

	end := trimTrailingLF(c.raw, c.msgBegin)
	var trailers []Trailer
	for _, line := range splitLines(c.raw[footerStart:end]) {
		if isContinuation(line) && len(trailers) > 0 {
			last := &trailers[len(trailers)-1]
			last.Value += " " + strings.TrimSpace(c.decoder.decode(line))
			continue
		}
		key, value, _ := bytes.Cut(line, []byte{':'})
		trailers = append(trailers, Trailer{
			Key:   string(key),
			Value: strings.TrimSpace(c.decoder.decode(value)),
		})
	}
	return trailers
}

// footerBoundary scans backward from the end of the message. It returns the
// cut point marking the end of the body and the start offset of the trailer
// paragraph, or -1 when the message has no trailer block.
//
// The final paragraph is a trailer block only when every line in it is
// trailer-shaped. A short closing paragraph that happens to look like
// "Key: value" is therefore treated as a trailer block.
func (c *Commit) footerBoundary() (cut, footerStart int) {
	end := trimTrailingLF(c.raw, c.msgBegin)
	if end <= c.msgBegin {
		return c.msgBegin, -1
	}

	lineStart := lineStartBefore(c.raw, c.msgBegin, end)
	for {
		line := c.raw[lineStart:lineEnd(c.raw, lineStart, end)]
		if !isTrailerOrContinuation(line) {
			return end, -1
		}
		if lineStart <= c.msgBegin {
			// The final paragraph is the title paragraph; headers are never
			// scanned as footer lines.
			return end, -1
		}
		// c.raw[lineStart-1] is the LF that terminates the line above.
		above := lineStartBefore(c.raw, c.msgBegin, lineStart-1)
		if isBlank(c.raw[above : lineStart-1]) {
			if isContinuation(line) {
				// An indented paragraph is body text, not a folded trailer.
				return end, -1
			}
			return lineStart - 1, lineStart
		}
		lineStart = above
	}
}

func nextLF(b []byte, ptr int) int {
	if i := bytes.IndexByte(b[ptr:], '\n'); i >= 0 {
		return ptr + i + 1
	}
	return len(b)
}

// lineStartBefore returns the start of the line containing offset pos-1,
// never going below floor.
func lineStartBefore(b []byte, floor, pos int) int {
	for i := pos - 1; i >= floor; i-- {
		if b[i] == '\n' {
			return i + 1
		}
	}
	return floor
}

func lineEnd(b []byte, start, limit int) int {
	if i := bytes.IndexByte(b[start:limit], '\n'); i >= 0 {
		return start + i
	}
	return limit
}

func isBlank(line []byte) bool {
	return len(line) == 0 || (len(line) == 1 && line[0] == '\r')
}

// endOfParagraph returns the offset just past the last character of the
// paragraph starting at start, excluding its line terminator.
func endOfParagraph(b []byte, start int) int {
	ptr := start
	for ptr < len(b) && b[ptr] != '\n' && b[ptr] != '\r' {
		ptr = nextLF(b, ptr)
	}
	if ptr > start && b[ptr-1] == '\n' {
		ptr--
	}
	if ptr > start && b[ptr-1] == '\r' {
		ptr--
	}
	return ptr
}

func trimTrailingLF(b []byte, floor int) int {
	end := len(b)
	for end > floor && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	return end
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(b, []byte{'\n'}) {
		lines = append(lines, bytes.TrimSuffix(line, []byte{'\r'}))
	}
	return lines
}

func isContinuation(line []byte) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func isTrailerOrContinuation(line []byte) bool {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return isContinuation(line) || IsTrailer(string(line))
}

// IsTrailer reports whether line has the shape of a footer line: a key of
// letters, digits and dashes immediately followed by a colon.
func IsTrailer(line string) bool {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}
	for _, r := range line[:colon] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
