// Package vision is a typed façade over a multimodal vision backend.
// It exposes the three operations the engine needs: describing a single
// subject, enumerating all subjects in a photo, and scoring the
// similarity of two textual descriptions.
package vision

// Detection is one subject found in one photograph. The free-text
// OutfitDescription is the canonical input to the comparator; the
// structured fields are hints, not authoritative.
type Detection struct {
	Position          string   `json:"position"`
	OutfitDescription string   `json:"outfit_description"`
	BibNumber         *string  `json:"bib_number"`
	EquipmentBrands   []string `json:"equipment_brands,omitempty"`
	HelmetBrand       string   `json:"helmet_brand,omitempty"`
	HelmetColors      []string `json:"helmet_colors,omitempty"`
	HelmetPatterns    []string `json:"helmet_patterns,omitempty"`
	GoggleLensColor   string   `json:"goggle_lens_color,omitempty"`
	GoggleStrapColor  string   `json:"goggle_strap_color,omitempty"`
	BootBrand         string   `json:"boot_brand,omitempty"`
	BootColors        []string `json:"boot_colors,omitempty"`
	Patterns          []string `json:"patterns,omitempty"`
	PrimaryColors     []string `json:"primary_colors,omitempty"`
	ClothingItems     []string `json:"clothing_items,omitempty"`
}

// Bib returns the bib number, or "" when none was legible.
func (d Detection) Bib() string {
	if d.BibNumber == nil {
		return ""
	}
	return *d.BibNumber
}

// FeatureTokens returns the dominant visual-feature tokens for naming,
// preferring helmet colors over general clothing colors.
func (d Detection) FeatureTokens() []string {
	if len(d.HelmetColors) > 0 {
		return d.HelmetColors
	}
	return d.PrimaryColors
}

// Prompt kinds used as the second half of the analysis-cache key.
const (
	KindDetectSubjects = "detect_subjects"
	KindDescribeFace   = "describe_face"
)
