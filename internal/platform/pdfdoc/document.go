package pdfdoc

// PatientInfo is the demographic block printed under the title.
type PatientInfo struct {
	Name           string
	RegistrationNo string
	Age            int
	Gender         string // "M" or "F"
	Diagnosis      string
	SurgeryName    string
}

// Signatures carries the captured signature images as data URLs or bare
// base64. Empty fields are omitted from the document.
type Signatures struct {
	Patient string `json:"patient,omitempty"`
	Doctor  string `json:"doctor,omitempty"`
}

// BlockKind distinguishes text lines from embedded images.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// Block is one positioned element on a page. Coordinates are millimetres
// from the top-left corner. Width is the rendered text width for text
// blocks.
type Block struct {
	Kind   BlockKind
	X      float64
	Y      float64
	Width  float64
	Height float64
	Text   string
}

// Page lists the blocks drawn on one page in drawing order.
type Page struct {
	Blocks []Block
}

// Document is the laid-out consent form together with its PDF encoding.
type Document struct {
	Pages []Page
	Data  []byte
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// Lines returns the text of every text block in order.
func (d *Document) Lines() []string {
	var out []string
	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			if b.Kind == BlockText {
				out = append(out, b.Text)
			}
		}
	}
	return out
}
