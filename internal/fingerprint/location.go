package fingerprint

import (
	"regexp"
	"strings"
)

var (
	rePostalCode = regexp.MustCompile(`\b(\d{5})\b`)
	reParenDept  = regexp.MustCompile(`\((\d{2}|2[ABab])\)`)
	reLeadDept   = regexp.MustCompile(`^\s*(\d{2})\s*[-–]`)
)

// placeDepartments maps folded place names to department codes. Longer
// names come first so "seine saint denis" wins over "saint denis".
var placeDepartments = []struct {
	name string
	dept string
}{
	{"seine saint denis", "93"},
	{"seine et marne", "77"},
	{"hauts de seine", "92"},
	{"val de marne", "94"},
	{"val d oise", "95"},
	{"boulogne billancourt", "92"},
	{"issy les moulineaux", "92"},
	{"rueil malmaison", "92"},
	{"la defense", "92"},
	{"saint quentin en yvelines", "78"},
	{"yvelines", "78"},
	{"essonne", "91"},
	{"nanterre", "92"},
	{"courbevoie", "92"},
	{"puteaux", "92"},
	{"saint denis", "93"},
	{"montreuil", "93"},
	{"creteil", "94"},
	{"versailles", "78"},
	{"evry", "91"},
	{"massy", "91"},
	{"cergy", "95"},
	{"paris", "75"},
	{"lyon", "69"},
	{"marseille", "13"},
	{"toulouse", "31"},
	{"lille", "59"},
	{"bordeaux", "33"},
	{"nantes", "44"},
	{"strasbourg", "67"},
	{"rennes", "35"},
}

// Department extracts a French department code from a free-form location:
// a postal code, an explicit "(92)" or "92 - " code, or a known place name.
// Returns "" when none can be derived.
func Department(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	if m := rePostalCode.FindStringSubmatch(location); m != nil {
		code := m[1]
		if strings.HasPrefix(code, "97") {
			return code[:3]
		}
		return code[:2]
	}
	if m := reParenDept.FindStringSubmatch(location); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := reLeadDept.FindStringSubmatch(location); m != nil {
		return m[1]
	}

	padded := " " + Fold(location) + " "
	for _, p := range placeDepartments {
		if strings.Contains(padded, " "+p.name+" ") {
			return p.dept
		}
	}
	return ""
}

// LocationBucket groups locations for matching: the department when known,
// otherwise the first folded word of the location.
func LocationBucket(location string) string {
	if dept := Department(location); dept != "" {
		return dept
	}
	for _, tok := range Tokens(location) {
		if !isNumeric(tok) {
			return tok
		}
	}
	return ""
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
