package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint returns a deterministic SHA-256 hex digest identifying an offer
// by its folded title, folded company and location bucket. Two offers with
// the same fingerprint are the same offer.
func Fingerprint(title, company, location string) string {
	key := strings.Join([]string{
		strings.Join(TitleTokens(title), " "),
		CompanyKey(company),
		LocationBucket(location),
	}, "|")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

// companySuffixes are legal-form tokens that do not distinguish employers.
var companySuffixes = map[string]bool{
	"sa": true, "sas": true, "sasu": true, "sarl": true, "eurl": true,
	"group": true, "groupe": true, "inc": true, "ltd": true, "gmbh": true,
}

// CompanyKey is the folded company name without trailing legal forms.
func CompanyKey(company string) string {
	toks := Tokens(company)
	for len(toks) > 1 && companySuffixes[toks[len(toks)-1]] {
		toks = toks[:len(toks)-1]
	}
	return strings.Join(toks, " ")
}
