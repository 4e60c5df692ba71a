package vision

// Comparison evidence weights. Documented in the comparison prompt; the
// public contract is only the [0,1] score.
const (
	weightHelmet    = 30
	weightBoots     = 25
	weightPattern   = 25
	weightColor     = 15
	weightEquipment = 5
)

// describeFacePrompt produces a canonical description of the most
// prominent subject's gear. Used when ingesting a roster reference.
const describeFacePrompt = `Analyze this image and provide a detailed description of the clothing and gear worn by the most prominent person in the photo.

Focus on VISUAL DETAILS, in order of importance:

1. BIB NUMBER - only if every digit is completely clear and unambiguous. If blurry, partially obscured, at a bad angle, or there is ANY doubt, omit it. A wrong bib number is worse than none.
2. HELMET/HEADGEAR - brand (SMITH, Giro, POC, Uvex, Salomon, ...), base colors (be specific: metallic blue, matte black, fluorescent yellow), patterns and graphics, goggle lens color (clear, tinted, mirrored, orange, blue), goggle strap color and pattern.
3. BOOTS - brand (Lange, Salomon, Atomic, Rossignol, Tecnica, Nordica, ...) and colors, which are often distinctive.
4. CLOTHING PATTERNS - stripes, graphics, logos, geometric, racing designs, or solid.
5. CLOTHING COLORS - primary, secondary and accent colors, color blocking.
6. OTHER EQUIPMENT BRANDS - skis, poles, suit logos, as supporting detail.

Provide a single detailed paragraph. Do not describe faces or facial features.`

// detectSubjectsPrompt enumerates every distinguishable subject.
// bib_number must be null unless all digits are legible with certainty.
const detectSubjectsPrompt = `Identify all people visible in this image and describe their gear and clothing.

For each person record:
- position: where they are in the frame ("center", "left side", "background right", ...)
- outfit_description: a detailed paragraph covering bib number (ONLY if every digit is readable with 100% confidence), helmet brand, helmet colors and patterns, goggle lens and strap colors, boot brand and colors, clothing patterns and colors, and any visible equipment brands.
- bib_number: the racing bib number as a string, or null. Record it ONLY when all digits are in sharp focus, fully visible, and unambiguous. If there is ANY doubt about ANY digit, use null. A wrong bib number is worse than none.
- the structured hint fields shown below. Use null or omit fields you cannot determine.

Do not describe faces or facial features.

Format the response as a JSON array with this structure:
[
  {
    "position": "...",
    "outfit_description": "...",
    "bib_number": "123" or null,
    "equipment_brands": ["..."],
    "helmet_brand": "..." or null,
    "helmet_colors": ["..."],
    "helmet_patterns": ["..."],
    "goggle_lens_color": "..." or null,
    "goggle_strap_color": "..." or null,
    "boot_brand": "..." or null,
    "boot_colors": ["..."],
    "patterns": ["..."],
    "primary_colors": ["..."],
    "clothing_items": ["..."]
  }
]

If no people are detected, return {"outfits": []}.

Important: return ONLY the JSON, no additional text or markdown formatting.`

// comparePromptTemplate scores the similarity of two gear descriptions.
// The two %s verbs receive the descriptions.
const comparePromptTemplate = `Compare these two gear descriptions and determine how similar they are.

Description 1:
%s

Description 2:
%s

Do NOT use bib numbers for matching. Even if both descriptions contain bib numbers, ignore them; judge visual appearance only.

Weigh the evidence as follows:
1. HELMET including goggle lens and strap (30%%): brand, base colors, patterns, goggle lens color, goggle strap color. The most visible identifier. Same helmet colors plus same goggle colors is a very strong match.
2. BOOTS (25%%): brand and colors. Highly visible and often distinctive.
3. CLOTHING PATTERN (25%%): stripes vs graphics vs solid, placement, scale. Two solid suits with no pattern count as a pattern match.
4. CLOTHING COLOR (15%%): primary colors, color blocking, accents.
5. OTHER EQUIPMENT BRANDS (5%%): supporting evidence only.

Scoring guide, be generous to enable clustering:
- 0.9-1.0 nearly identical gear
- 0.7-0.9 very similar (matching helmet colors, similar patterns)
- 0.5-0.7 moderately similar (similar helmet colors or overall scheme)
- 0.3-0.5 some color overlap
- 0.0-0.3 completely different

Return your analysis as JSON with exactly this structure:
{
  "similarity": 0.0,
  "reasoning": "brief explanation, helmet first, then boots, then patterns and colors"
}

Important: return ONLY the JSON, no additional text or markdown formatting.`
