package commitmsg

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// decoder turns message bytes into a string using the commit's encoding.
type decoder struct {
	enc      encoding.Encoding // nil means standard decoding
	fallback bool
}

// lookupDecoder resolves a declared encoding name. Missing or unknown names
// fall back to standard decoding. IANA names win over the WHATWG table,
// which would read ISO-8859-1 and US-ASCII as windows-1252.
func lookupDecoder(name string) decoder {
	name = strings.TrimSpace(name)
	if name == "" {
		return decoder{fallback: true}
	}
	if isUTF8Name(name) {
		return decoder{}
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return decoder{enc: enc}
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return decoder{enc: enc}
	}
	return decoder{fallback: true}
}

// check decodes the whole message once. A declared encoding that cannot
// decode it is dropped in favor of standard decoding and recorded as a
// fallback.
func (d *decoder) check(message []byte) {
	if d.enc == nil {
		return
	}
	if _, err := d.enc.NewDecoder().Bytes(message); err != nil {
		d.enc = nil
		d.fallback = true
	}
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8":
		return true
	}
	return false
}

func (d decoder) decode(b []byte) string {
	if d.enc != nil {
		out, err := d.enc.NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	return standardDecode(b)
}

// standardDecode reads b as UTF-8 and, when that is not valid, as
// ISO-8859-1, which maps every byte to a rune.
func standardDecode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}
