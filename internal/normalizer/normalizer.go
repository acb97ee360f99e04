// Package normalizer maps free-text vehicle make and model strings into the
// canonical key space used for training buckets. Listings arrive from many
// scrape sources with inconsistent casing, trim suffixes, and brand
// nicknames; everything downstream assumes one key per real-world vehicle
// line.
package normalizer

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// makeAliases folds brand nicknames and spelling variants onto one key.
var makeAliases = map[string]string{
	"vw":          "volkswagen",
	"volks wagen": "volkswagen",
	"merc":        "mercedes-benz",
	"merc benz":   "mercedes-benz",
	"mb":          "mercedes-benz",
	"toy":         "toyota",
	"land rover":  "land-rover",
	"lr":          "land-rover",
	"rangerover":  "range-rover",
	"range rover": "range-rover",
	"chevy":       "chevrolet",
	"skoda":       "škoda",
}

// modelAliases maps known variant spellings onto the base model key. Checked
// by prefix, longest first, before token filtering.
var modelAliases = map[string]string{
	"model s":       "models",
	"model y":       "modely",
	"model 3":       "model3",
	"model x":       "modelx",
	"c-hr":          "chr",
	"i-pace":        "ipace",
	"e-tron":        "etron",
	"q4 e-tron":     "q4",
	"id.3":          "id3",
	"id.4":          "id4",
	"id.5":          "id5",
	"glc 300":       "glc",
	"gle 350":       "gle",
	"gla 250":       "gla",
	"cla 250":       "cla",
	"proace verso":  "proace",
	"proace city":   "proace",
	"santa fe":      "santafe",
	"grand cherokee": "grandcherokee",
	"ioniq5":        "ioniq 5",
	"enyaq sportback": "enyaq",
	"q4 sportback":  "q4",
	"q8 sportback":  "q8",
}

// dropTokens are trim levels, powertrain markers, and body-style suffixes
// that never distinguish one price population from another.
var dropTokens = map[string]struct{}{
	"premium": {}, "comfort": {}, "sport": {}, "gt": {}, "gti": {}, "gtd": {},
	"amg": {}, "rs": {}, "m-sport": {}, "msport": {}, "s-line": {}, "sline": {},
	"limited": {}, "ultimate": {}, "elegance": {}, "advanced": {}, "luxury": {},
	"exclusive": {}, "standard": {}, "prestige": {}, "platinum": {}, "style": {},
	"active": {}, "classic": {}, "progressive": {}, "intense": {},

	"xdrive": {}, "4matic": {}, "quattro": {}, "4motion": {},
	"plug-in": {}, "plugin": {}, "phev": {}, "hybrid": {}, "electric": {},
	"ev": {}, "e-tech": {}, "4x4": {}, "awd": {}, "fwd": {}, "rwd": {},
	"recharge": {},

	"tsi": {}, "tdi": {}, "dci": {}, "cdti": {}, "hdi": {}, "bluehdi": {},
	"d4": {}, "d5": {}, "tfsi": {}, "gte": {}, "gtx": {}, "mhev": {},
	"bluetec": {}, "kwh": {},

	"long": {}, "range": {}, "edition": {}, "package": {}, "pack": {},
	"plus": {}, "panorama": {}, "extended": {}, "crew": {}, "double": {},

	"base": {}, "core": {}, "pro": {}, "performance": {},
	"se": {}, "le": {}, "gx": {}, "vx": {}, "ex": {},
}

// modelAliasOrder fixes the alias matching order, longest prefix first, so
// a string matched by two aliases always resolves the same way.
var modelAliasOrder = func() []string {
	keys := make([]string, 0, len(modelAliases))
	for k := range modelAliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var (
	spaceRE     = regexp.MustCompile(`\s+`)
	makeCharRE  = regexp.MustCompile(`[^a-záéíóúýþæö0-9\- ]`)
	modelCharRE = regexp.MustCompile(`[^a-záéíóúýþæö0-9\-/ ]`)
	numberRE    = regexp.MustCompile(`^[0-9]+$`)
	shortCodeRE = regexp.MustCompile(`^[0-9]{1,2}[a-z]$`)
)

// Normalizer implements the canonical key mapping. The zero value is not
// usable; construct with New.
type Normalizer struct{}

// New creates a normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize maps a free-text make and model into canonical keys. Either
// result may be empty when the input carries no usable signal, such as a
// bare Tesla "Model" with no variant letter.
func (n *Normalizer) Normalize(make, model string) (makeKey, modelKey string) {
	return NormalizeMake(make), ModelBase(model)
}

// NormalizeMake canonicalizes a make string: NFKC fold, lowercase, strip
// stray characters, then apply brand aliases.
func NormalizeMake(make string) string {
	m := fold(make)
	m = makeCharRE.ReplaceAllString(m, "")
	m = spaceRE.ReplaceAllString(m, " ")
	m = strings.TrimSpace(m)
	if alias, ok := makeAliases[m]; ok {
		return alias
	}
	return m
}

// NormalizeModel canonicalizes a model string without stripping trim tokens.
func NormalizeModel(model string) string {
	m := fold(model)
	m = modelCharRE.ReplaceAllString(m, " ")
	m = spaceRE.ReplaceAllString(m, " ")
	return strings.TrimSpace(m)
}

// ModelBase reduces a model string to its base key: apply variant aliases,
// drop trim and powertrain tokens, and keep the leading token. Tesla's
// "model s/3/x/y" pairs collapse to one token; a bare "model" yields an
// empty key so it never lands in a bucket shared across distinct vehicles.
func ModelBase(model string) string {
	m := NormalizeModel(model)
	if m == "" {
		return ""
	}

	for _, alias := range modelAliasOrder {
		if strings.HasPrefix(m, alias) {
			return modelAliases[alias]
		}
	}

	var tokens []string
	for _, t := range strings.Fields(m) {
		if _, drop := dropTokens[t]; drop {
			continue
		}
		if numberRE.MatchString(t) {
			continue
		}
		if len(t) <= 3 && shortCodeRE.MatchString(t) {
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return ""
	}

	if tokens[0] == "model" {
		if len(tokens) > 1 {
			switch tokens[1] {
			case "s", "3", "x", "y":
				return "model" + tokens[1]
			}
		}
		if len(tokens) == 1 {
			return ""
		}
	}

	return tokens[0]
}

// fold applies NFKC normalization, lowercases, and collapses non-breaking
// spaces.
func fold(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = norm.NFKC.String(s)
	return strings.ToLower(s)
}
