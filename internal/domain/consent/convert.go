package consent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ToFlat projects s into the display list. One item is emitted per
// non-blank leaf, in Fields order.
func ToFlat(s Sections) []Item {
	items := make([]Item, 0, len(Fields))
	for _, f := range Fields {
		text := *f.text(&s)
		if strings.TrimSpace(text) == "" {
			continue
		}
		items = append(items, Item{
			Key:         f.Key,
			Title:       f.Title,
			Description: text,
			Category:    f.Category,
		})
	}
	return items
}

// ToNested rebuilds Sections from a display list. Items are placed by Key
// when it names a known leaf, otherwise by their category and title.
// Items that match no leaf are dropped; later items win.
func ToNested(items []Item) Sections {
	var s Sections
	for _, item := range items {
		f, ok := fieldsByKey[item.Key]
		if !ok {
			f = legacyField(item)
		}
		if f == nil {
			continue
		}
		*f.text(&s) = item.Description
	}
	return s
}

var categoryFields = map[string]string{
	CategoryPrognosis:     KeyPrognosis,
	CategoryAlternatives:  KeyAlternatives,
	CategoryPurpose:       KeyPurpose,
	CategoryComplications: KeyComplications,
	CategoryEmergency:     KeyEmergencyMeasures,
	CategoryRisk:          KeyMortalityRisk,
}

// methodTitleRules are checked in order; 집도의 precedes 변경 because the
// surgeon-change title contains both.
var methodTitleRules = []struct {
	substrings []string
	key        string
}{
	{[]string{"소요시간"}, KeyMethodDuration},
	{[]string{"집도의"}, KeyMethodSurgeon},
	{[]string{"변경", "추가"}, KeyMethodChange},
	{[]string{"수혈"}, KeyMethodTransfusion},
	{[]string{"전반", "설명"}, KeyMethodOverall},
}

// legacyField resolves items saved before keys existed.
func legacyField(item Item) *Field {
	category := strings.TrimSpace(item.Category)
	if key, ok := categoryFields[category]; ok {
		return fieldsByKey[key]
	}
	if category != CategoryMethod {
		return nil
	}
	for _, rule := range methodTitleRules {
		for _, sub := range rule.substrings {
			if strings.Contains(item.Title, sub) {
				return fieldsByKey[rule.key]
			}
		}
	}
	return nil
}

// FlattenReferences lists every reference tagged with its leaf key, in
// Fields order.
func FlattenReferences(r References) []Reference {
	var out []Reference
	for _, f := range Fields {
		for _, ref := range *f.refs(&r) {
			ref.Key = f.Key
			out = append(out, ref)
		}
	}
	return out
}

// NestReferences groups flat references back under their leaves. References
// without a known key are dropped.
func NestReferences(refs []Reference) References {
	var r References
	for _, ref := range refs {
		f, ok := fieldsByKey[ref.Key]
		if !ok {
			continue
		}
		ref.Key = ""
		list := f.refs(&r)
		*list = append(*list, ref)
	}
	return r
}

// Items is a display list that decodes from either the flat array or the
// nested Sections object.
type Items []Item

// UnmarshalJSON implements json.Unmarshaler.
func (it *Items) UnmarshalJSON(data []byte) error {
	switch firstByte(data) {
	case 'n':
		*it = nil
		return nil
	case '[':
		var flat []Item
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode consent list: %w", err)
		}
		*it = flat
		return nil
	case '{':
		var nested Sections
		if err := json.Unmarshal(data, &nested); err != nil {
			return fmt.Errorf("decode consent sections: %w", err)
		}
		*it = ToFlat(nested)
		return nil
	default:
		return fmt.Errorf("decode consents: unexpected JSON %q", truncate(data))
	}
}

// ReferenceList is a flat reference list that decodes from either shape.
type ReferenceList []Reference

// UnmarshalJSON implements json.Unmarshaler.
func (rl *ReferenceList) UnmarshalJSON(data []byte) error {
	switch firstByte(data) {
	case 'n':
		*rl = nil
		return nil
	case '[':
		var flat []Reference
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode reference list: %w", err)
		}
		*rl = flat
		return nil
	case '{':
		var nested References
		if err := json.Unmarshal(data, &nested); err != nil {
			return fmt.Errorf("decode reference sections: %w", err)
		}
		*rl = FlattenReferences(nested)
		return nil
	default:
		return fmt.Errorf("decode references: unexpected JSON %q", truncate(data))
	}
}

func firstByte(data []byte) byte {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

func truncate(data []byte) string {
	if len(data) > 32 {
		return string(data[:32]) + "..."
	}
	return string(data)
}
