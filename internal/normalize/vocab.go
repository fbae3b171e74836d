package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jobhunter/internal/fingerprint"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// contractVocabulary is checked in order; alternance comes first so that
// "CDD en alternance" maps to alternance.
var contractVocabulary = []struct {
	contract models.ContractType
	phrases  []string
}{
	{models.ContractAlternance, []string{"alternance", "apprentissage", "apprenti", "professionnalisation", "apprenticeship", "work study", "alternant"}},
	{models.ContractStage, []string{"stage", "internship", "intern", "stagiaire"}},
	{models.ContractInterim, []string{"interim", "mis", "temporary agency", "travail temporaire"}},
	{models.ContractCDI, []string{"cdi", "permanent", "indefinite", "duree indeterminee"}},
	{models.ContractCDD, []string{"cdd", "fixed term", "duree determinee", "temporary"}},
	{models.ContractFreelance, []string{"freelance", "independant", "contractor", "portage"}},
}

// ContractFrom maps source-specific contract labels to the canonical enum.
func ContractFrom(labels ...string) models.ContractType {
	padded := " " + fingerprint.Fold(strings.Join(labels, " ")) + " "
	if strings.TrimSpace(padded) == "" {
		return models.ContractUnknown
	}
	for _, entry := range contractVocabulary {
		for _, phrase := range entry.phrases {
			if strings.Contains(padded, " "+phrase+" ") {
				return entry.contract
			}
		}
	}
	return models.ContractUnknown
}

var reBacLevel = regexp.MustCompile(`\bbac (\d)\b`)

var diplomaLevels = []struct {
	phrase string
	level  models.EducationLevel
}{
	{"doctorat", 8},
	{"phd", 8},
	{"master", 5},
	{"mastere", 5},
	{"msc", 5},
	{"licence pro", 3},
	{"licence", 3},
	{"bachelor", 3},
	{"bts", 2},
	{"dut", 2},
	{"deust", 2},
}

// EducationFrom reads an explicit level ("bac+5", "5") when present and
// otherwise detects one in free text. Returns EducationUnknown when nothing
// matches.
func EducationFrom(explicit string, texts ...string) models.EducationLevel {
	if explicit != "" {
		if l, err := models.ParseEducationLevel(explicit); err == nil {
			return l
		}
		if l := detectEducation(explicit); l.Known() {
			return l
		}
	}
	for _, t := range texts {
		if l := detectEducation(t); l.Known() {
			return l
		}
	}
	return models.EducationUnknown
}

func detectEducation(text string) models.EducationLevel {
	folded := fingerprint.Fold(text)
	if folded == "" {
		return models.EducationUnknown
	}
	if m := reBacLevel.FindStringSubmatch(folded); m != nil {
		n, _ := strconv.Atoi(m[1])
		if l := models.EducationLevel(n); l.Known() {
			return l
		}
	}
	padded := " " + folded + " "
	for _, d := range diplomaLevels {
		if strings.Contains(padded, " "+d.phrase+" ") {
			return d.level
		}
	}
	return models.EducationUnknown
}

// europeanLevels maps the European qualification framework levels some
// APIs report to bac+N.
var europeanLevels = map[string]models.EducationLevel{
	"5": 2,
	"6": 3,
	"7": 5,
	"8": 8,
}

// recruiterMarkers identify staffing agencies and recruitment firms.
var recruiterMarkers = []string{
	"interim", "recrutement", "recruitment", "recruiting", "staffing", "cabinet",
	"randstad", "adecco", "manpower", "hays", "expectra", "synergie", "proman",
	"michael page", "page personnel", "robert half", "spring france",
}

// OfferTypeFrom infers whether an offer comes from the employer itself.
func OfferTypeFrom(declared, title, company string) models.OfferType {
	if strings.EqualFold(strings.TrimSpace(declared), string(models.OfferTypeRecruiter)) {
		return models.OfferTypeRecruiter
	}
	if strings.HasPrefix(fingerprint.Fold(title), "recruteur potentiel") {
		return models.OfferTypeRecruiter
	}
	padded := " " + fingerprint.Fold(company) + " "
	for _, m := range recruiterMarkers {
		if strings.Contains(padded, " "+m+" ") {
			return models.OfferTypeRecruiter
		}
	}
	return models.OfferTypeDirectEmployer
}
