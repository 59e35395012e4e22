// Package charset transcodes message text between character sets.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Transcoder converts text between character sets.
type Transcoder interface {
	Convert(text, from, to string) (string, error)
	Supported() []string
}

// Codec implements Transcoder on top of the x/text encoding tables.
type Codec struct{}

// New returns the x/text backed transcoder.
func New() Codec {
	return Codec{}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsUTF8 reports whether a charset name means UTF-8 (the pipeline default).
// An empty name counts as UTF-8.
func IsUTF8(name string) bool {
	switch normalize(name) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// Convert transcodes text from one charset to another. Identical source and
// target (including UTF-8 in any spelling) is a no-op returning the input.
func (Codec) Convert(text, from, to string) (string, error) {
	if normalize(from) == normalize(to) || (IsUTF8(from) && IsUTF8(to)) {
		return text, nil
	}

	if !IsUTF8(from) {
		enc, err := htmlindex.Get(from)
		if err != nil {
			return "", fmt.Errorf("unknown charset %q: %w", from, err)
		}
		decoded, err := enc.NewDecoder().String(text)
		if err != nil {
			return "", fmt.Errorf("decode from %s: %w", from, err)
		}
		text = decoded
	}

	if !IsUTF8(to) {
		enc, err := htmlindex.Get(to)
		if err != nil {
			return "", fmt.Errorf("unknown charset %q: %w", to, err)
		}
		encoded, err := enc.NewEncoder().String(text)
		if err != nil {
			return "", fmt.Errorf("encode to %s: %w", to, err)
		}
		text = encoded
	}

	return text, nil
}

// supportedNames is the set of charsets the site config may select. Each one
// resolves through htmlindex; the list stays short on purpose.
var supportedNames = []string{
	"utf-8",
	"iso-8859-1",
	"iso-8859-2",
	"iso-8859-15",
	"windows-1250",
	"windows-1251",
	"windows-1252",
	"koi8-r",
	"shift_jis",
	"euc-jp",
	"euc-kr",
	"gbk",
	"big5",
}

// Supported lists the charset names accepted by Convert.
func (Codec) Supported() []string {
	out := make([]string, 0, len(supportedNames))
	for _, name := range supportedNames {
		if name == "utf-8" {
			out = append(out, name)
			continue
		}
		if _, err := htmlindex.Get(name); err == nil {
			out = append(out, name)
		}
	}
	return out
}
