package fingerprint

import "strings"

const (
	shingleSize = 3
	// MaxShingleWords caps the words read from each description.
	MaxShingleWords = 400
)

// TitleSimilarity is the Jaccard overlap of the two titles' folded token sets.
func TitleSimilarity(a, b string) float64 {
	return jaccard(toSet(TitleTokens(a)), toSet(TitleTokens(b)))
}

// DescriptionSimilarity is the Jaccard overlap of word 3-gram shingles taken
// from at most MaxShingleWords words of each description.
func DescriptionSimilarity(a, b string) float64 {
	return jaccard(shingles(a), shingles(b))
}

// Combined weighs title against description similarity. When either
// description is empty only the title counts.
func Combined(titleA, titleB, descA, descB string, titleWeight float64) float64 {
	ts := TitleSimilarity(titleA, titleB)
	if strings.TrimSpace(descA) == "" || strings.TrimSpace(descB) == "" {
		return ts
	}
	ds := DescriptionSimilarity(descA, descB)
	return titleWeight*ts + (1-titleWeight)*ds
}

func shingles(text string) map[string]struct{} {
	toks := Tokens(text)
	if len(toks) > MaxShingleWords {
		toks = toks[:MaxShingleWords]
	}
	if len(toks) < shingleSize {
		return toSet(toks)
	}
	set := make(map[string]struct{}, len(toks))
	for i := 0; i+shingleSize <= len(toks); i++ {
		set[strings.Join(toks[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

func toSet(toks []string) map[string]struct{} {
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
