package consent

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func sectionsFrom(values []string, blank []bool) Sections {
	var s Sections
	for i, f := range Fields {
		if i < len(values) && !(i < len(blank) && blank[i]) {
			*f.text(&s) = values[i]
		}
	}
	return s
}

// Property: ToFlat(ToNested(ToFlat(x))) == ToFlat(x)
func TestToFlatToNestedIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("flat projection survives a nested round trip", prop.ForAll(
		func(values []string, blank []bool) bool {
			flat := ToFlat(sectionsFrom(values, blank))
			return reflect.DeepEqual(ToFlat(ToNested(flat)), flat)
		},
		gen.SliceOfN(len(Fields), gen.AlphaString()),
		gen.SliceOfN(len(Fields), gen.Bool()),
	))

	properties.Property("legacy items converge after one round trip", prop.ForAll(
		func(titles, categories, descriptions []string) bool {
			var items []Item
			for i := 0; i < len(titles) && i < len(categories) && i < len(descriptions); i++ {
				items = append(items, Item{Title: titles[i], Category: categories[i], Description: descriptions[i]})
			}
			once := ToFlat(ToNested(items))
			return reflect.DeepEqual(ToFlat(ToNested(once)), once)
		},
		gen.SliceOf(gen.OneConstOf("수술 추정 소요시간", "집도의 변경", "수혈", "전반", "other")),
		gen.SliceOf(gen.OneConstOf(CategoryMethod, CategoryRisk, CategoryPrognosis, "기타")),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
