package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"gopkg.in/yaml.v3"
)

const DefaultCriteriaFile = "config/criteria.yaml"

// Criteria is the search configuration: what to look for, how to score it
// and which sources to query.
type Criteria struct {
	Keywords        []string       `yaml:"keywords"         json:"keywords"`
	Departments     []string       `yaml:"departments"      json:"departments"`
	ContractTypes   []string       `yaml:"contract_types"   json:"contract_types"`
	Education       EducationRange `yaml:"education"        json:"education"`
	DurationMonths  int            `yaml:"duration_months"  json:"duration_months"`
	RecencyDays     int            `yaml:"recency_days"     json:"recency_days"`
	TargetCompanies []string       `yaml:"target_companies" json:"target_companies"`
	Dedup           DedupConfig    `yaml:"dedup"            json:"dedup"`
	Sources         SourcesConfig  `yaml:"sources"          json:"-"`
}

// EducationRange bounds the accepted bac+N levels, inclusive.
type EducationRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

type DedupConfig struct {
	Threshold   float64 `yaml:"threshold"    json:"threshold"`
	Band        float64 `yaml:"band"         json:"band"`
	TitleWeight float64 `yaml:"title_weight" json:"title_weight"`
}

type SourcesConfig struct {
	LaBonneAlternance  LBAConfig             `yaml:"la_bonne_alternance"`
	FranceTravail      FranceTravailConfig   `yaml:"france_travail"`
	Lever              LeverConfig           `yaml:"lever"`
	SmartRecruiters    SmartRecruitersConfig `yaml:"smartrecruiters"`
	WelcomeToTheJungle WTTJConfig            `yaml:"welcome_to_the_jungle"`
	PlaceEmploiPublic  PEPConfig             `yaml:"place_emploi_public"`
	CareerPages        []CareerPageConfig    `yaml:"career_pages"`
}

type LBAConfig struct {
	Enabled   bool     `yaml:"enabled"`
	RomeCodes []string `yaml:"rome_codes"`
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
	RadiusKM  int      `yaml:"radius_km"`
}

// FranceTravailConfig drives the offer search. Credentials come from the
// environment.
type FranceTravailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Keywords string `yaml:"keywords"`
	// ContractNatures are nature codes such as E2 (apprenticeship) and FS
	// (professionalisation).
	ContractNatures []string `yaml:"contract_natures"`
	MaxPages        int      `yaml:"max_pages"`
}

type LeverConfig struct {
	Enabled bool `yaml:"enabled"`
	// Companies are Lever site slugs, as in jobs.lever.co/<slug>.
	Companies []string `yaml:"companies"`
}

type SmartRecruitersConfig struct {
	Enabled   bool                     `yaml:"enabled"`
	Companies []SmartRecruitersCompany `yaml:"companies"`
	Queries   []string                 `yaml:"queries"`
}

// SmartRecruitersCompany pairs a company identifier, as in
// jobs.smartrecruiters.com/<id>, with the name shown on offers.
type SmartRecruitersCompany struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type WTTJConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppID   string `yaml:"app_id"`
	APIKey  string `yaml:"api_key"`
	Index   string `yaml:"index"`
	Query   string `yaml:"query"`
}

type PEPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SearchURL string `yaml:"search_url"`
	MaxPages  int    `yaml:"max_pages"`
}

type CareerPageConfig struct {
	Company string `yaml:"company"`
	URL     string `yaml:"url"`
	// LinkSelector matches the anchors of individual offers on the page.
	LinkSelector string `yaml:"link_selector"`
}

// DefaultCriteria is used when no criteria file exists.
func DefaultCriteria() *Criteria {
	c := &Criteria{}
	c.applyDefaults()
	return c
}

// Clone returns a copy whose search fields can be changed without
// touching c. Source settings are shared.
func (c *Criteria) Clone() *Criteria {
	out := *c
	out.Keywords = slices.Clone(c.Keywords)
	out.Departments = slices.Clone(c.Departments)
	out.ContractTypes = slices.Clone(c.ContractTypes)
	out.TargetCompanies = slices.Clone(c.TargetCompanies)
	return &out
}

// LoadCriteria reads and validates the YAML criteria file at path. A missing
// file at the default location yields DefaultCriteria.
func LoadCriteria(path string) (*Criteria, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && path == DefaultCriteriaFile {
		return DefaultCriteria(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read criteria file: %w", err)
	}

	var c Criteria
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse criteria file %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("criteria file %s: %w", path, err)
	}
	return &c, nil
}

func (c *Criteria) applyDefaults() {
	if c.RecencyDays == 0 {
		c.RecencyDays = 14
	}
	if c.Dedup.Threshold == 0 {
		c.Dedup.Threshold = 0.85
	}
	if c.Dedup.Band == 0 {
		c.Dedup.Band = 0.03
	}
	if c.Dedup.TitleWeight == 0 {
		c.Dedup.TitleWeight = 0.6
	}
	if c.Sources.LaBonneAlternance.RadiusKM == 0 {
		c.Sources.LaBonneAlternance.RadiusKM = 30
	}
	if c.Sources.FranceTravail.MaxPages == 0 {
		c.Sources.FranceTravail.MaxPages = 3
	}
	if len(c.Sources.FranceTravail.ContractNatures) == 0 {
		c.Sources.FranceTravail.ContractNatures = []string{"E2", "FS"}
	}
	if len(c.Sources.SmartRecruiters.Queries) == 0 {
		c.Sources.SmartRecruiters.Queries = []string{"alternance", "apprentissage"}
	}
	if c.Sources.PlaceEmploiPublic.MaxPages == 0 {
		c.Sources.PlaceEmploiPublic.MaxPages = 3
	}
	if c.Sources.WelcomeToTheJungle.Index == "" {
		c.Sources.WelcomeToTheJungle.Index = "wttj_jobs_production_fr"
	}
}

// Validate reports the first inconsistent setting.
func (c *Criteria) Validate() error {
	if c.Education.Min < 0 || c.Education.Max > 8 {
		return fmt.Errorf("education range must stay within bac+0..bac+8, got %d..%d", c.Education.Min, c.Education.Max)
	}
	if c.Education.Max != 0 && c.Education.Min > c.Education.Max {
		return fmt.Errorf("education min %d is above max %d", c.Education.Min, c.Education.Max)
	}
	for _, d := range c.Departments {
		if len(d) < 2 || len(d) > 3 {
			return fmt.Errorf("department %q must be a 2 or 3 character code", d)
		}
	}
	for _, ct := range c.ContractTypes {
		if !models.ContractType(ct).Valid() {
			return fmt.Errorf("unknown contract type %q", ct)
		}
	}
	if c.RecencyDays < 0 || c.DurationMonths < 0 {
		return fmt.Errorf("recency_days and duration_months must not be negative")
	}
	d := c.Dedup
	if d.Threshold <= 0 || d.Threshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0, 1], got %v", d.Threshold)
	}
	if d.Band < 0 || d.Threshold-d.Band <= 0 {
		return fmt.Errorf("dedup band %v is invalid for threshold %v", d.Band, d.Threshold)
	}
	if d.TitleWeight < 0 || d.TitleWeight > 1 {
		return fmt.Errorf("dedup title_weight must be in [0, 1], got %v", d.TitleWeight)
	}
	if lba := c.Sources.LaBonneAlternance; lba.Enabled && len(lba.RomeCodes) == 0 {
		return fmt.Errorf("la_bonne_alternance needs at least one rome code")
	}
	for i, co := range c.Sources.SmartRecruiters.Companies {
		if co.ID == "" {
			return fmt.Errorf("smartrecruiters company %d needs an id", i)
		}
	}
	for i, p := range c.Sources.CareerPages {
		if p.Company == "" || p.URL == "" {
			return fmt.Errorf("career page %d needs a company and a url", i)
		}
	}
	return nil
}
