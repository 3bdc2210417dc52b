package vitis

import (
	"strconv"
	"strings"
)

// Category is one of the closed set of portal sections.
type Category string

const (
	CategoryProduction        Category = "production"
	CategoryProcessing        Category = "processing"
	CategoryCommercialization Category = "commercialization"
	CategoryImport            Category = "import"
	CategoryExport            Category = "export"
)

// SubCategory narrows a category. Its meaning depends on the category.
type SubCategory string

const (
	SubVines           SubCategory = "vines"
	SubHybridAmericans SubCategory = "hybrid_americans"
	SubTableGrapes     SubCategory = "table_grapes"
	SubUnclassified    SubCategory = "unclassified"
	SubTableWines      SubCategory = "table_wines"
	SubSparkling       SubCategory = "sparkling"
	SubFreshGrapes     SubCategory = "fresh_grapes"
	SubRaisins         SubCategory = "raisins"
	SubGrapeJuice      SubCategory = "grape_juice"
)

const (
	// MinYear and MaxYear bound the years the portal publishes.
	MinYear = 1970
	MaxYear = 2024

	keySeparator = "_"
)

// section maps a category to its portal option code and sub-option codes.
type section struct {
	option     string
	subOptions []subOption
}

type subOption struct {
	sub  SubCategory
	code string
}

// sections is the static lookup table behind validation and URL building.
// Order is the catalog order.
var sections = []struct {
	category Category
	section
}{
	{CategoryProduction, section{option: "opt_02"}},
	{CategoryProcessing, section{option: "opt_03", subOptions: []subOption{
		{SubVines, "subopt_01"},
		{SubHybridAmericans, "subopt_02"},
		{SubTableGrapes, "subopt_03"},
		{SubUnclassified, "subopt_04"},
	}}},
	{CategoryCommercialization, section{option: "opt_04"}},
	{CategoryImport, section{option: "opt_05", subOptions: []subOption{
		{SubTableWines, "subopt_01"},
		{SubSparkling, "subopt_02"},
		{SubFreshGrapes, "subopt_03"},
		{SubRaisins, "subopt_04"},
		{SubGrapeJuice, "subopt_05"},
	}}},
	{CategoryExport, section{option: "opt_06", subOptions: []subOption{
		{SubTableWines, "subopt_01"},
		{SubSparkling, "subopt_02"},
		{SubFreshGrapes, "subopt_03"},
		{SubGrapeJuice, "subopt_04"},
	}}},
}

func lookupSection(c Category) (section, bool) {
	for _, s := range sections {
		if s.category == c {
			return s.section, true
		}
	}
	return section{}, false
}

func (s section) subOptionCode(sub SubCategory) (string, bool) {
	for _, so := range s.subOptions {
		if so.sub == sub {
			return so.code, true
		}
	}
	return "", false
}

// SubCategories returns the sub-categories defined for c, in portal order.
// It returns nil for categories without sub-categories and for unknown ones.
func SubCategories(c Category) []SubCategory {
	s, ok := lookupSection(c)
	if !ok || len(s.subOptions) == 0 {
		return nil
	}
	subs := make([]SubCategory, len(s.subOptions))
	for i, so := range s.subOptions {
		subs[i] = so.sub
	}
	return subs
}

// Request is the raw, unvalidated input of an extraction.
type Request struct {
	Category    string
	SubCategory string
	Year        *int
}

// Key identifies a dataset. Build it with ParseKey; a Key built by hand must
// pass Validate before use.
type Key struct {
	Category    Category
	SubCategory SubCategory // empty when absent
	Year        int         // 0 when absent
}

// ParseKey validates a request and returns its key.
func ParseKey(req Request) (Key, error) {
	if req.Category == "" {
		return Key{}, &ValidationError{Field: "category", Constraint: "category is required"}
	}
	k := Key{
		Category:    Category(req.Category),
		SubCategory: SubCategory(req.SubCategory),
	}
	if req.Year != nil {
		if *req.Year < MinYear || *req.Year > MaxYear {
			return Key{}, yearError(*req.Year)
		}
		k.Year = *req.Year
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func yearError(year int) *ValidationError {
	return &ValidationError{
		Field:      "year",
		Constraint: "year must be between " + strconv.Itoa(MinYear) + " and " + strconv.Itoa(MaxYear),
		Value:      strconv.Itoa(year),
	}
}

// Validate checks the key against the category table and the year range.
func (k Key) Validate() error {
	if k.Category == "" {
		return &ValidationError{Field: "category", Constraint: "category is required"}
	}
	s, ok := lookupSection(k.Category)
	if !ok {
		return &UnsupportedResourceError{Category: string(k.Category), SubCategory: string(k.SubCategory)}
	}
	if k.SubCategory != "" {
		if _, ok := s.subOptionCode(k.SubCategory); !ok {
			return &UnsupportedResourceError{Category: string(k.Category), SubCategory: string(k.SubCategory)}
		}
	}
	if k.Year != 0 && (k.Year < MinYear || k.Year > MaxYear) {
		return yearError(k.Year)
	}
	return nil
}

// String returns the canonical storage key: the non-empty parts joined by
// "_" in the order category, sub-category, year.
func (k Key) String() string {
	parts := make([]string, 0, 3)
	parts = append(parts, string(k.Category))
	if k.SubCategory != "" {
		parts = append(parts, string(k.SubCategory))
	}
	if k.Year != 0 {
		parts = append(parts, strconv.Itoa(k.Year))
	}
	return strings.Join(parts, keySeparator)
}

// Request converts the key back into request form.
func (k Key) Request() Request {
	req := Request{Category: string(k.Category), SubCategory: string(k.SubCategory)}
	if k.Year != 0 {
		year := k.Year
		req.Year = &year
	}
	return req
}

// Catalog lists every valid (category, sub-category) pair without a year.
// Categories without sub-categories appear once with an empty sub-category.
func Catalog() []Key {
	var keys []Key
	for _, s := range sections {
		if len(s.subOptions) == 0 {
			keys = append(keys, Key{Category: s.category})
			continue
		}
		for _, so := range s.subOptions {
			keys = append(keys, Key{Category: s.category, SubCategory: so.sub})
		}
	}
	return keys
}
