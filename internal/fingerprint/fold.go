package fingerprint

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer("œ", "oe", "Œ", "oe", "æ", "ae", "Æ", "ae", "ß", "ss")

// Fold lower-cases s, strips accents and replaces every run of characters
// that are not letters or digits with a single space.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	// Transformers carry state; build one per call so Fold is safe for concurrent use.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, ligatures.Replace(s))
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := true
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the folded words of s.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// genericTitleTokens describe the contract rather than the job and are
// dropped from titles before matching.
var genericTitleTokens = map[string]bool{
	"cdi": true, "cdd": true, "alternance": true, "alternant": true, "alternante": true,
	"apprentissage": true, "apprenti": true, "apprentie": true, "stage": true,
	"stagiaire": true, "interim": true, "freelance": true, "hf": true, "fh": true,
}

// connectives left dangling once a generic token is removed,
// e.g. "en" in "technicien en alternance".
var connectives = map[string]bool{
	"en": true, "in": true, "d": true, "de": true, "du": true, "contrat": true,
}

// TitleTokens returns the folded title words with contract suffixes and
// gender markers (H/F, F/H, H/F/X) removed. A title made only of such
// words keeps all of its folded words.
func TitleTokens(title string) []string {
	raw := Tokens(title)
	kept := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		if isGenderPair(raw, i) {
			i++
			if i+1 < len(raw) && raw[i+1] == "x" {
				i++
			}
			continue
		}
		if genericTitleTokens[tok] {
			for len(kept) > 0 && connectives[kept[len(kept)-1]] {
				kept = kept[:len(kept)-1]
			}
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return raw
	}
	return kept
}

func isGenderPair(toks []string, i int) bool {
	if i+1 >= len(toks) {
		return false
	}
	a, b := toks[i], toks[i+1]
	return (a == "h" && b == "f") || (a == "f" && b == "h")
}
