package pdfdoc

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/surgiform/surgiform/internal/domain/consent"
)

// Page geometry in millimetres (A4 portrait).
const (
	PageWidth    = 210.0
	PageHeight   = 297.0
	Margin       = 20.0
	ContentWidth = PageWidth - 2*Margin
	// ContentBottom is the lowest cursor position a line may start from.
	ContentBottom = PageHeight - Margin

	SignatureWidth  = 60.0
	SignatureHeight = 25.0
)

const fontFamily = "consent"

type textStyle struct {
	bold       bool
	size       float64
	lineHeight float64
}

var (
	styleTitle   = textStyle{bold: true, size: 18, lineHeight: 10}
	styleHeading = textStyle{bold: true, size: 12, lineHeight: 7}
	styleBody    = textStyle{size: 10.5, lineHeight: 6}
)

// Option configures an Assembler.
type Option func(*Assembler)

// WithLabels overrides the printed captions.
func WithLabels(l Labels) Option {
	return func(a *Assembler) { a.labels = l }
}

// WithFonts sets the TrueType fonts used for regular and bold text.
func WithFonts(regular, bold []byte) Option {
	return func(a *Assembler) {
		a.regular = regular
		a.bold = bold
	}
}

// WithClock overrides the time source used for the footer date.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// Assembler lays out consent documents. It holds no per-document state and
// is safe for concurrent use.
type Assembler struct {
	logger  zerolog.Logger
	labels  Labels
	regular []byte
	bold    []byte
	now     func() time.Time
	glyphs  *glyphSet
}

// NewAssembler creates an Assembler using KoreanLabels and the Go fonts
// unless overridden.
func NewAssembler(logger zerolog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		logger:  logger.With().Str("component", "pdfdoc").Logger(),
		labels:  KoreanLabels,
		regular: goregular.TTF,
		bold:    gobold.TTF,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if g, err := parseGlyphSet(a.regular); err == nil {
		a.glyphs = g
	}
	return a
}

// LoadFont reads a TrueType font file. The same file is typically used for
// both regular and bold text.
func LoadFont(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	return data, nil
}

// Assemble renders the consent document. Only font and encoding failures
// are returned; an unusable signature keeps its label and its image is
// logged and left out.
func (a *Assembler) Assemble(info PatientInfo, items []consent.Item, sigs Signatures) (*Document, error) {
	now := a.now()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(Margin, Margin, Margin)
	pdf.SetAutoPageBreak(false, Margin)
	pdf.SetCreationDate(now)
	pdf.SetModificationDate(now)
	pdf.SetTitle(a.labels.Title, true)
	if err := a.registerFonts(pdf); err != nil {
		return nil, err
	}

	l := &layout{pdf: pdf, doc: &Document{}}
	l.newPage()

	l.line(a.labels.Title, styleTitle, "C")
	l.space(4)

	for _, row := range a.patientRows(info) {
		l.paragraph(row, styleBody)
	}
	l.space(6)

	for i, item := range items {
		l.paragraph(fmt.Sprintf("%d. %s", i+1, item.Title), styleHeading)
		l.paragraph(item.Description, styleBody)
		l.space(4)
	}

	a.signatureBlock(l, sigs)
	a.warnMissingGlyphs(info, items)

	l.space(4)
	l.line(a.labels.Date+": "+now.Format(a.labels.DateLayout), styleBody, "R")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	l.doc.Data = buf.Bytes()
	return l.doc, nil
}

// registerFonts adds both font styles and selects each once so a font that
// failed to parse surfaces here instead of mid-layout.
func (a *Assembler) registerFonts(pdf *fpdf.Fpdf) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load fonts: %v", r)
		}
	}()
	pdf.AddUTF8FontFromBytes(fontFamily, "", a.regular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", a.bold)
	pdf.SetFont(fontFamily, "B", styleBody.size)
	pdf.SetFont(fontFamily, "", styleBody.size)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("load fonts: %w", err)
	}
	return nil
}

// warnMissingGlyphs logs content the font will print as empty boxes.
func (a *Assembler) warnMissingGlyphs(info PatientInfo, items []consent.Item) {
	if a.glyphs == nil {
		return
	}
	texts := []string{info.Name, info.Diagnosis, info.SurgeryName}
	for _, item := range items {
		texts = append(texts, item.Title, item.Description)
	}
	if missing := a.glyphs.missing(texts...); len(missing) > 0 {
		a.logger.Warn().Str("missing_glyphs", string(missing)).Msg("font has no glyphs for some document text; set PDF_FONT_PATH")
	}
}

func (a *Assembler) patientRows(info PatientInfo) []string {
	age := ""
	if info.Age > 0 {
		age = fmt.Sprintf(a.labels.AgeFormat, info.Age)
	}
	gender := info.Gender
	switch info.Gender {
	case "M":
		gender = a.labels.Male
	case "F":
		gender = a.labels.Female
	}
	return []string{
		a.labels.PatientName + ": " + info.Name,
		a.labels.RegistrationNo + ": " + info.RegistrationNo,
		a.labels.Age + ": " + age,
		a.labels.Gender + ": " + gender,
		a.labels.Diagnosis + ": " + info.Diagnosis,
		a.labels.SurgeryName + ": " + info.SurgeryName,
	}
}

func (a *Assembler) signatureBlock(l *layout, sigs Signatures) {
	entries := []struct {
		name  string
		label string
		data  string
	}{
		{"patient", a.labels.PatientSignature, sigs.Patient},
		{"doctor", a.labels.DoctorSignature, sigs.Doctor},
	}

	present := 0
	for _, e := range entries {
		if strings.TrimSpace(e.data) != "" {
			present++
		}
	}
	if present == 0 {
		return
	}

	l.ensure(styleHeading.lineHeight + styleBody.lineHeight + SignatureHeight)
	l.line(a.labels.Signatures, styleHeading, "L")

	for _, e := range entries {
		if strings.TrimSpace(e.data) == "" {
			continue
		}
		l.ensure(styleBody.lineHeight + SignatureHeight)
		l.line(e.label, styleBody, "L")
		png, err := decodeSignature(e.data)
		if err != nil {
			a.logger.Warn().Err(err).Str("signature", e.name).Msg("skipping signature image")
			continue
		}
		if err := l.image("signature-"+e.name, png); err != nil {
			a.logger.Warn().Err(err).Str("signature", e.name).Msg("skipping signature image")
		}
	}
}

// layout tracks the running cursor and mirrors every drawn element into
// the Document.
type layout struct {
	pdf *fpdf.Fpdf
	doc *Document
	y   float64
}

func (l *layout) newPage() {
	l.pdf.AddPage()
	l.doc.Pages = append(l.doc.Pages, Page{})
	l.y = Margin
}

// ensure starts a new page unless h millimetres fit above the bottom
// margin.
func (l *layout) ensure(h float64) {
	if l.y+h > ContentBottom {
		l.newPage()
	}
}

func (l *layout) space(h float64) {
	l.y += h
}

func (l *layout) setStyle(s textStyle) {
	style := ""
	if s.bold {
		style = "B"
	}
	l.pdf.SetFont(fontFamily, style, s.size)
}

// paragraph word-wraps text to the content width. Blank lines inside text
// are kept; an empty text draws nothing.
func (l *layout) paragraph(text string, s textStyle) {
	if strings.TrimSpace(text) == "" {
		return
	}
	l.setStyle(s)
	limit := ContentWidth - 2*l.pdf.GetCellMargin()
	for _, ln := range wrap(sanitize(text), limit, l.pdf.GetStringWidth) {
		l.draw(ln, s, "L")
	}
}

// wrap breaks text into lines no wider than limit as measured by width.
// Words longer than a line are broken between runes.
func wrap(text string, limit float64, width func(string) float64) []string {
	var lines []string
	for _, para := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if width(candidate) <= limit {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			for width(word) > limit {
				head := splitRunes(word, limit, width)
				lines = append(lines, head)
				word = word[len(head):]
			}
			current = word
		}
		lines = append(lines, current)
	}
	return lines
}

// splitRunes returns the longest prefix of word that fits, and at least
// one rune.
func splitRunes(word string, limit float64, width func(string) float64) string {
	end := 0
	for i, r := range word {
		next := i + utf8.RuneLen(r)
		if end > 0 && width(word[:next]) > limit {
			break
		}
		end = next
	}
	return word[:end]
}

// line draws a single unwrapped line.
func (l *layout) line(text string, s textStyle, align string) {
	l.setStyle(s)
	l.draw(sanitize(text), s, align)
}

func (l *layout) draw(text string, s textStyle, align string) {
	l.ensure(s.lineHeight)
	width := l.pdf.GetStringWidth(text)
	x := Margin
	switch align {
	case "C":
		x = Margin + (ContentWidth-width)/2
	case "R":
		x = Margin + ContentWidth - width
	}
	l.pdf.SetXY(Margin, l.y)
	l.pdf.CellFormat(ContentWidth, s.lineHeight, text, "", 0, align, false, 0, "")
	l.record(Block{Kind: BlockText, X: x, Y: l.y, Width: width, Height: s.lineHeight, Text: text})
	l.y += s.lineHeight
}

func (l *layout) image(name string, png []byte) error {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	l.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	if err := l.pdf.Error(); err != nil {
		l.pdf.ClearError()
		return fmt.Errorf("embed image: %w", err)
	}
	l.pdf.ImageOptions(name, Margin, l.y, SignatureWidth, SignatureHeight, false, opts, 0, "")
	if err := l.pdf.Error(); err != nil {
		l.pdf.ClearError()
		return fmt.Errorf("place image: %w", err)
	}
	l.record(Block{Kind: BlockImage, X: Margin, Y: l.y, Width: SignatureWidth, Height: SignatureHeight, Text: name})
	l.y += SignatureHeight + 2
	return nil
}

func (l *layout) record(b Block) {
	p := &l.doc.Pages[len(l.doc.Pages)-1]
	p.Blocks = append(p.Blocks, b)
}

// sanitize replaces characters the font tables cannot index.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\r':
			return -1
		case r == '\t':
			return ' '
		case r == utf8.RuneError, r > 0xFFFF:
			return '?'
		}
		return r
	}, s)
}
