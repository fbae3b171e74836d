// Package scoring decides whether an offer matches the search criteria and
// ranks it. Evaluate is pure: the same offer, configuration and clock give
// the same result, so stored scores can always be recomputed.
package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/fingerprint"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// Score contributions.
const (
	titlePhrase      = 15
	titleTokens      = 7
	titleCap         = 45
	descPhrase       = 5
	descPartial      = 2
	descCap          = 20
	targetCompany    = 30
	durationMatch    = 10
	departmentMatch  = 10
	educationMatch   = 10
	recruiterPenalty = -20
	recentPosting    = 10
	hasDescription   = 5
)

// Config is the part of the search criteria that drives evaluation.
type Config struct {
	Keywords        []string
	Departments     []string
	ContractTypes   []models.ContractType
	EducationMin    models.EducationLevel
	EducationMax    models.EducationLevel
	DurationMonths  int
	RecencyDays     int
	TargetCompanies []string
}

// FromCriteria maps the criteria file onto an evaluation Config.
func FromCriteria(c *config.Criteria) Config {
	cfg := Config{
		Keywords:        c.Keywords,
		Departments:     c.Departments,
		EducationMin:    models.EducationLevel(c.Education.Min),
		EducationMax:    models.EducationLevel(c.Education.Max),
		DurationMonths:  c.DurationMonths,
		RecencyDays:     c.RecencyDays,
		TargetCompanies: c.TargetCompanies,
	}
	for _, ct := range c.ContractTypes {
		cfg.ContractTypes = append(cfg.ContractTypes, models.ContractType(ct))
	}
	return cfg
}

type keyword struct {
	phrase string
	tokens []string
}

// Engine evaluates offers against one Config.
type Engine struct {
	cfg         Config
	keywords    []keyword
	departments map[string]bool
	contracts   map[models.ContractType]bool
	targets     []string
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:         cfg,
		departments: make(map[string]bool, len(cfg.Departments)),
		contracts:   make(map[models.ContractType]bool, len(cfg.ContractTypes)),
	}
	for _, kw := range cfg.Keywords {
		folded := fingerprint.Fold(kw)
		if folded == "" {
			continue
		}
		e.keywords = append(e.keywords, keyword{phrase: folded, tokens: strings.Fields(folded)})
	}
	for _, d := range cfg.Departments {
		e.departments[strings.ToUpper(strings.TrimSpace(d))] = true
	}
	for _, c := range cfg.ContractTypes {
		e.contracts[c] = true
	}
	for _, t := range cfg.TargetCompanies {
		if folded := fingerprint.Fold(t); folded != "" {
			e.targets = append(e.targets, folded)
		}
	}
	return e
}

// Evaluate runs the inclusion test and computes the score of o at now.
func (e *Engine) Evaluate(o *models.Offer, now time.Time) models.Evaluation {
	title := pad(fingerprint.Fold(o.Title))
	desc := pad(fingerprint.Fold(o.Description))
	dept := o.Department
	if dept == "" {
		dept = fingerprint.Department(o.Location)
	}

	var ev models.Evaluation
	ev.IsTargetCompany = e.isTarget(o.Company)

	// Inclusion.
	if len(e.keywords) > 0 && !o.Source.Prefiltered() && !e.mentionsKeyword(title, desc) {
		ev.FilterReasons = append(ev.FilterReasons, "no keyword match")
	}
	if len(e.departments) > 0 {
		switch {
		case dept == "":
			ev.Flags = append(ev.Flags, models.FlagLocationUnknown)
		case !e.departments[dept]:
			ev.FilterReasons = append(ev.FilterReasons, fmt.Sprintf("department %s not in allowed set", dept))
		}
	}
	if len(e.contracts) > 0 && !e.contracts[o.ContractType] {
		ev.FilterReasons = append(ev.FilterReasons, fmt.Sprintf("contract type %s not allowed", o.ContractType))
	}
	if e.educationBounded() {
		switch {
		case !o.EducationLevel.Known():
			ev.Flags = append(ev.Flags, models.FlagEducationUnknown)
		case !e.educationInRange(o.EducationLevel):
			ev.FilterReasons = append(ev.FilterReasons, fmt.Sprintf("education %s outside %s", o.EducationLevel, e.educationRange()))
		}
	}
	ev.FilteredOut = len(ev.FilterReasons) > 0

	// Score.
	score := e.keywordScore(title, desc)
	if ev.IsTargetCompany {
		score += targetCompany
	}
	if e.cfg.DurationMonths > 0 && mentionsDuration(title+desc, e.cfg.DurationMonths) {
		score += durationMatch
	}
	if dept != "" && e.departments[dept] {
		score += departmentMatch
	}
	if e.educationBounded() && o.EducationLevel.Known() && e.educationInRange(o.EducationLevel) {
		score += educationMatch
	}
	if o.OfferType == models.OfferTypeRecruiter {
		score += recruiterPenalty
	}
	if e.postedRecently(o.PostedDate, now) {
		score += recentPosting
	}
	if strings.TrimSpace(o.Description) != "" {
		score += hasDescription
	}
	ev.Score = float64(max(score, 0))

	return ev
}

func (e *Engine) mentionsKeyword(title, desc string) bool {
	for _, kw := range e.keywords {
		if strings.Contains(title, kw.phrase) || strings.Contains(desc, kw.phrase) {
			return true
		}
	}
	return false
}

func (e *Engine) keywordScore(title, desc string) int {
	var t, d int
	for _, kw := range e.keywords {
		switch {
		case strings.Contains(title, pad(kw.phrase)):
			t += titlePhrase
		case containsAll(title, kw.tokens):
			t += titleTokens
		}
		switch {
		case strings.Contains(desc, pad(kw.phrase)):
			d += descPhrase
		case containsAll(desc, kw.tokens):
			d += descPartial
		}
	}
	return min(t, titleCap) + min(d, descCap)
}

func (e *Engine) isTarget(company string) bool {
	c := pad(fingerprint.Fold(company))
	for _, t := range e.targets {
		if strings.Contains(c, pad(t)) {
			return true
		}
	}
	return false
}

func (e *Engine) educationBounded() bool {
	return e.cfg.EducationMin.Known() || e.cfg.EducationMax.Known()
}

func (e *Engine) educationInRange(l models.EducationLevel) bool {
	if e.cfg.EducationMin.Known() && l < e.cfg.EducationMin {
		return false
	}
	if e.cfg.EducationMax.Known() && l > e.cfg.EducationMax {
		return false
	}
	return true
}

func (e *Engine) educationRange() string {
	lo, hi := "bac+1", "bac+8"
	if e.cfg.EducationMin.Known() {
		lo = e.cfg.EducationMin.String()
	}
	if e.cfg.EducationMax.Known() {
		hi = e.cfg.EducationMax.String()
	}
	return lo + ".." + hi
}

func (e *Engine) postedRecently(posted *time.Time, now time.Time) bool {
	if posted == nil || e.cfg.RecencyDays <= 0 {
		return false
	}
	age := now.Sub(*posted)
	return age >= -24*time.Hour && age <= time.Duration(e.cfg.RecencyDays)*24*time.Hour
}

var reDuration = regexp.MustCompile(`\b(\d{1,2}) (mois|months?|ans?|years?)\b`)

// mentionsDuration reports whether folded text states a contract length of
// months, written as "24 mois", "2 ans" or "24 months".
func mentionsDuration(text string, months int) bool {
	for _, m := range reDuration.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if strings.HasPrefix(m[2], "an") || strings.HasPrefix(m[2], "year") {
			n *= 12
		}
		if n == months {
			return true
		}
	}
	return false
}

func containsAll(text string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(text, pad(t)) {
			return false
		}
	}
	return true
}

func pad(s string) string {
	return " " + s + " "
}
