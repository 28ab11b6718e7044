// Package confusable finds characters that make displayed text differ from
// what a reader believes it says: invisible and bidi formatting characters,
// Unicode tag characters, control characters, and Cyrillic/Greek letters
// that look like Latin ones.
package confusable

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a finding.
type Kind string

const (
	KindInvalid   Kind = "invalid-utf8"
	KindInvisible Kind = "zero-width"
	KindBidi      Kind = "bidi-override"
	KindTag       Kind = "tag-char"
	KindControl   Kind = "control-char"
	KindHomoglyph Kind = "homoglyph"
)

// Finding is one suspicious character.
type Finding struct {
	Kind   Kind
	Rune   rune
	Offset int  // byte offset in the input
	Latin  rune // for homoglyphs, the Latin letter it imitates
}

// Describe renders the finding for a warning line.
func (f Finding) Describe() string {
	switch f.Kind {
	case KindInvalid:
		return fmt.Sprintf("invalid UTF-8 byte at offset %d", f.Offset)
	case KindHomoglyph:
		return fmt.Sprintf("U+%04X imitates Latin '%c'", f.Rune, f.Latin)
	default:
		return fmt.Sprintf("hidden %s character U+%04X", f.Kind, f.Rune)
	}
}

// Report is the result of inspecting one string.
type Report struct {
	Findings []Finding
	// Skeleton is the input with hidden characters dropped and homoglyphs
	// folded to their Latin look-alikes, for comparison against known names.
	Skeleton string
}

// Clean reports whether nothing suspicious was found.
func (r Report) Clean() bool { return len(r.Findings) == 0 }

// Has reports whether any finding is of kind k.
func (r Report) Has(k Kind) bool {
	for _, f := range r.Findings {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Hidden reports whether the input carries characters a reader cannot see.
func (r Report) Hidden() bool {
	return r.Has(KindInvisible) || r.Has(KindBidi) || r.Has(KindTag) || r.Has(KindControl)
}

// Inspect scans s.
func Inspect(s string) Report {
	var rep Report
	var skel strings.Builder

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			rep.Findings = append(rep.Findings, Finding{Kind: KindInvalid, Rune: rune(s[i]), Offset: i})
			i++
			continue
		}

		if k, hidden := classifyHidden(r); hidden {
			rep.Findings = append(rep.Findings, Finding{Kind: k, Rune: r, Offset: i})
			i += size
			continue
		}

		if latin, ok := lookalike(r); ok {
			rep.Findings = append(rep.Findings, Finding{Kind: KindHomoglyph, Rune: r, Offset: i, Latin: latin})
			skel.WriteRune(latin)
			i += size
			continue
		}

		skel.WriteRune(r)
		i += size
	}

	rep.Skeleton = skel.String()
	return rep
}

// Skeleton is shorthand for Inspect(s).Skeleton.
func Skeleton(s string) string {
	return Inspect(s).Skeleton
}

// MixedScript reports whether s mixes Latin letters with Cyrillic or Greek
// ones, the usual shape of an IDN homograph label.
func MixedScript(s string) bool {
	var latin, other bool
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			latin = true
		case unicode.Is(unicode.Cyrillic, r), unicode.Is(unicode.Greek, r):
			other = true
		}
	}
	return latin && other
}

func classifyHidden(r rune) (Kind, bool) {
	switch {
	case isZeroWidth(r):
		return KindInvisible, true
	case isBidiControl(r):
		return KindBidi, true
	case r >= 0xE0001 && r <= 0xE007F:
		return KindTag, true
	case isUnsafeControl(r):
		return KindControl, true
	}
	return "", false
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u2060', '\u180E', '\u200E', '\u200F', '\u00AD':
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

// isUnsafeControl matches C0/C1 controls other than tab, LF and CR.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

func lookalike(r rune) (rune, bool) {
	if r < 0x370 {
		return 0, false
	}
	latin, ok := homoglyphs[r]
	return latin, ok
}

// homoglyphs maps Cyrillic and Greek letters to the Latin letter they
// render like in common fonts.
var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'ј': 'j', 'К': 'K', 'М': 'M', 'о': 'o',
	'О': 'O', 'р': 'p', 'Р': 'P', 'ѕ': 's', 'Т': 'T', 'х': 'x', 'Х': 'X',
	'у': 'y', 'У': 'Y', 'ԁ': 'd', 'ԛ': 'q', 'ԝ': 'w',
	// Greek
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	'Ζ': 'Z', 'ν': 'v', 'ι': 'i',
}
