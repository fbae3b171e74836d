package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContractType is the canonical contract vocabulary every source maps into.
type ContractType string

const (
	ContractAlternance ContractType = "alternance"
	ContractCDI        ContractType = "cdi"
	ContractCDD        ContractType = "cdd"
	ContractStage      ContractType = "stage"
	ContractInterim    ContractType = "interim"
	ContractFreelance  ContractType = "freelance"
	ContractUnknown    ContractType = "unknown"
)

// ContractTypes lists every known contract type except ContractUnknown.
var ContractTypes = []ContractType{
	ContractAlternance, ContractCDI, ContractCDD, ContractStage, ContractInterim, ContractFreelance,
}

// Valid reports whether c is a known contract type.
func (c ContractType) Valid() bool {
	for _, known := range ContractTypes {
		if c == known {
			return true
		}
	}
	return false
}

// OfferType distinguishes offers posted by the hiring company from those
// relayed by a recruiter or surfaced as a potential recruiter.
type OfferType string

const (
	OfferTypeDirectEmployer OfferType = "direct_employer"
	OfferTypeRecruiter      OfferType = "recruiter"
)

// EducationLevel is the required diploma level expressed as years after the
// baccalaureate (bac+1 .. bac+8). Zero means unknown.
type EducationLevel int

const (
	EducationUnknown EducationLevel = 0
	EducationMin     EducationLevel = 1
	EducationMax     EducationLevel = 8
)

func (l EducationLevel) Known() bool {
	return l >= EducationMin && l <= EducationMax
}

func (l EducationLevel) String() string {
	if !l.Known() {
		return ""
	}
	return fmt.Sprintf("bac+%d", int(l))
}

// ParseEducationLevel parses "bac+5", "Bac +5" or "5".
func ParseEducationLevel(s string) (EducationLevel, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	v = strings.TrimPrefix(v, "bac+")
	n, err := strconv.Atoi(v)
	if err != nil {
		return EducationUnknown, fmt.Errorf("invalid education level %q", s)
	}
	l := EducationLevel(n)
	if !l.Known() {
		return EducationUnknown, fmt.Errorf("education level %q out of range bac+1..bac+8", s)
	}
	return l, nil
}

// Evaluation flags recorded on offers that were retained without full information.
const (
	FlagEducationUnknown = "education_unknown"
	FlagLocationUnknown  = "location_unknown"
)

// Offer is the canonical, deduplicated record for one real-world job.
type Offer struct {
	ID              uuid.UUID      `db:"id"                json:"id"`
	Fingerprint     string         `db:"fingerprint"       json:"fingerprint"`
	Title           string         `db:"title"             json:"title"`
	Company         string         `db:"company"           json:"company"`
	Location        string         `db:"location"          json:"location"`
	Department      string         `db:"department"        json:"department,omitempty"`
	Description     string         `db:"description"       json:"description"`
	ContractType    ContractType   `db:"contract_type"     json:"contract_type"`
	EducationLevel  EducationLevel `db:"education_level"   json:"education_level"`
	Source          Source         `db:"source"            json:"source"`
	Sources         []Source       `db:"sources"           json:"sources"`
	SourceURL       string         `db:"source_url"        json:"source_url"`
	ExternalID      string         `db:"external_id"       json:"external_id,omitempty"`
	PostedDate      *time.Time     `db:"posted_date"       json:"posted_date,omitempty"`
	FirstSeenAt     time.Time      `db:"first_seen_at"     json:"first_seen_at"`
	LastSeenAt      time.Time      `db:"last_seen_at"      json:"last_seen_at"`
	IsTargetCompany bool           `db:"is_target_company" json:"is_target_company"`
	Score           float64        `db:"score"             json:"score"`
	OfferType       OfferType      `db:"offer_type"        json:"offer_type"`
	FilteredOut     bool           `db:"filtered_out"      json:"filtered_out"`
	FilterReasons   []string       `db:"filter_reasons"    json:"filter_reasons,omitempty"`
	Flags           []string       `db:"flags"             json:"flags,omitempty"`
}

// HasSource reports whether s has already reported this offer.
func (o *Offer) HasSource(s Source) bool {
	for _, existing := range o.Sources {
		if existing == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	c := *o
	c.Sources = append([]Source(nil), o.Sources...)
	c.FilterReasons = append([]string(nil), o.FilterReasons...)
	c.Flags = append([]string(nil), o.Flags...)
	if o.PostedDate != nil {
		d := *o.PostedDate
		c.PostedDate = &d
	}
	return &c
}

// TrackedOffer pairs a canonical offer with its workflow state.
type TrackedOffer struct {
	Offer
	Tracking *Tracking `json:"tracking"`
}
