package pdfdoc

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/image/font/sfnt"
)

// ErrFontCoverage is returned when the configured font has no glyph for
// some of the label text.
var ErrFontCoverage = errors.New("font cannot draw the label set")

// glyphSet answers glyph lookups for one parsed font.
type glyphSet struct {
	font *sfnt.Font
}

func parseGlyphSet(data []byte) (*glyphSet, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &glyphSet{font: f}, nil
}

// missing returns the distinct printable runes of the texts that map to
// the .notdef glyph, in first-seen order.
func (g *glyphSet) missing(texts ...string) []rune {
	var buf sfnt.Buffer
	seen := make(map[rune]bool)
	var out []rune
	for _, text := range texts {
		for _, r := range sanitize(text) {
			if seen[r] || unicode.IsSpace(r) || !unicode.IsPrint(r) {
				continue
			}
			seen[r] = true
			idx, err := g.font.GlyphIndex(&buf, r)
			if err != nil || idx == 0 {
				out = append(out, r)
			}
		}
	}
	return out
}

// MissingGlyphs reports the runes of text that font has no glyph for.
func MissingGlyphs(font []byte, text string) ([]rune, error) {
	g, err := parseGlyphSet(font)
	if err != nil {
		return nil, err
	}
	return g.missing(text), nil
}

func (l Labels) texts() []string {
	return []string{
		l.Title, l.PatientName, l.RegistrationNo, l.Age, l.AgeFormat,
		l.Gender, l.Male, l.Female, l.Diagnosis, l.SurgeryName,
		l.Signatures, l.PatientSignature, l.DoctorSignature, l.Date,
		l.DateLayout,
	}
}

// CheckCoverage fails with ErrFontCoverage when the regular font cannot
// draw every label, e.g. Korean labels with the built-in Go fonts.
func (a *Assembler) CheckCoverage() error {
	g := a.glyphs
	if g == nil {
		var err error
		if g, err = parseGlyphSet(a.regular); err != nil {
			return err
		}
	}
	if missing := g.missing(a.labels.texts()...); len(missing) > 0 {
		return fmt.Errorf("%w: no glyphs for %q", ErrFontCoverage, string(missing))
	}
	return nil
}
