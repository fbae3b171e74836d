package normalize

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/jobhunter/internal/fingerprint"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// fieldMap tells the normalizer which raw keys carry each canonical field
// for one source. Paths are dotted and tried in order.
type fieldMap struct {
	title       []string
	company     []string
	location    []string
	description []string // all present values are concatenated
	contract    []string
	education   []string
	url         []string
	externalID  []string
	posted      []string
	offerType   []string

	// fixup adjusts the offer with source-specific rules after mapping.
	fixup func(fields map[string]any, o *models.Offer)
}

// flatFields is the layout used by scrapers and manual entries that build
// their records with canonical key names.
var flatFields = fieldMap{
	title:       []string{"title"},
	company:     []string{"company", "employer"},
	location:    []string{"location"},
	description: []string{"description"},
	contract:    []string{"contract_type", "contract"},
	education:   []string{"education_level", "education"},
	url:         []string{"url", "source_url"},
	externalID:  []string{"external_id", "reference"},
	posted:      []string{"posted_date", "published", "posted"},
	offerType:   []string{"offer_type"},
}

var sourceFields = map[models.Source]fieldMap{
	models.SourceLaBonneAlternance: {
		title:       []string{"offer.title"},
		company:     []string{"workplace.brand", "workplace.name", "workplace.legal_name", "workplace.enseigne", "identifier.partner_label"},
		location:    []string{"workplace.location.address"},
		description: []string{"offer.description", "offer.desired_skills", "offer.to_be_acquired_skills"},
		contract:    []string{"contract.type"},
		education:   []string{"offer.target_diploma.label"},
		url:         []string{"apply.url"},
		externalID:  []string{"identifier.partner_job_id", "identifier.id"},
		posted:      []string{"offer.publication.creation"},
		offerType:   []string{"offer_type"},
		fixup:       fixLaBonneAlternance,
	},
	models.SourceFranceTravail: {
		title:       []string{"intitule"},
		company:     []string{"entreprise.nom"},
		location:    []string{"lieuTravail.libelle", "lieuTravail.codePostal"},
		description: []string{"description"},
		contract:    []string{"typeContratLibelle", "typeContrat", "natureContrat"},
		education:   []string{"formations"},
		url:         []string{"origineOffre.urlOrigine"},
		externalID:  []string{"id"},
		posted:      []string{"dateCreation"},
		fixup:       fixFranceTravail,
	},
	models.SourceLever: {
		title:       []string{"text"},
		company:     []string{"company"},
		location:    []string{"categories.location", "categories.allLocations"},
		description: []string{"descriptionPlain", "description"},
		contract:    []string{"categories.commitment"},
		url:         []string{"hostedUrl", "applyUrl"},
		externalID:  []string{"id"},
		posted:      []string{"createdAt"},
	},
	models.SourceSmartRecruiters: {
		title:       []string{"name"},
		company:     []string{"company.name"},
		location:    []string{"location.fullLocation", "location.city"},
		description: []string{"jobAd.sections.jobDescription.text", "jobAd.sections.qualifications.text", "summary"},
		contract:    []string{"contract", "typeOfEmployment.label"},
		education:   []string{"experienceLevel.label"},
		url:         []string{"postingUrl", "ref"},
		externalID:  []string{"id"},
		posted:      []string{"releasedDate"},
	},
	models.SourceWelcomeToTheJungle: {
		title:       []string{"name"},
		company:     []string{"organization.name"},
		location:    []string{"offices"},
		description: []string{"summary", "profile"},
		contract:    []string{"contract_type"},
		education:   []string{"education_level"},
		url:         []string{"url"},
		externalID:  []string{"reference", "objectID"},
		posted:      []string{"published_at"},
		fixup:       fixWelcomeToTheJungle,
	},
	models.SourcePlaceEmploiPublic: flatFields,
	models.SourceCareerPage:        flatFields,
	models.SourceManual:            flatFields,
}

// Normalizer maps raw records from any known source into partial canonical
// offers. It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	fields map[models.Source]fieldMap
}

func New() *Normalizer {
	return &Normalizer{fields: sourceFields}
}

// Normalize maps raw into an Offer without id or fingerprint. It returns a
// *NormalizationError when a required field is missing or a date cannot be
// parsed.
func (n *Normalizer) Normalize(raw models.RawOffer) (*models.Offer, error) {
	fm, ok := n.fields[raw.Source]
	if !ok {
		return nil, &NormalizationError{Source: raw.Source, Kind: KindUnknownSource, Field: "source", Value: string(raw.Source)}
	}
	f := raw.Fields
	if f == nil {
		f = map[string]any{}
	}

	o := &models.Offer{
		Title:       collapse(first(f, fm.title)),
		Company:     collapse(first(f, fm.company)),
		Location:    collapse(first(f, fm.location)),
		Description: StripHTML(all(f, fm.description)),
		SourceURL:   strings.TrimSpace(first(f, fm.url)),
		ExternalID:  first(f, fm.externalID),
		Source:      raw.Source,
		Sources:     []models.Source{raw.Source},
	}
	o.ContractType = ContractFrom(first(f, fm.contract))
	if o.ContractType == models.ContractUnknown {
		o.ContractType = ContractFrom(o.Title)
	}
	o.EducationLevel = EducationFrom(first(f, fm.education), o.Title, o.Description)
	if fm.fixup != nil {
		fm.fixup(f, o)
	}

	if err := n.required(raw.Source, o); err != nil {
		return nil, err
	}

	if v, path := firstRaw(f, fm.posted); v != nil {
		d, err := parseDate(v)
		if err != nil {
			return nil, &NormalizationError{Source: raw.Source, Kind: KindUnparseableDate, Field: path, Value: fmt.Sprint(v)}
		}
		o.PostedDate = d
	}

	o.OfferType = OfferTypeFrom(first(f, fm.offerType), o.Title, o.Company)
	o.Department = fingerprint.Department(o.Location)

	return o, nil
}

func (n *Normalizer) required(src models.Source, o *models.Offer) error {
	switch {
	case o.Title == "":
		return &NormalizationError{Source: src, Kind: KindMissingRequiredField, Field: "title"}
	case o.Company == "":
		return &NormalizationError{Source: src, Kind: KindMissingRequiredField, Field: "company"}
	case o.SourceURL == "":
		return &NormalizationError{Source: src, Kind: KindMissingRequiredField, Field: "source_url"}
	}
	return nil
}

// fixLaBonneAlternance titles potential-recruiter entries, which carry no
// offer block, and reads the European diploma level. Every result of this
// source is a work-study contract.
func fixLaBonneAlternance(f map[string]any, o *models.Offer) {
	if o.ContractType == models.ContractUnknown {
		o.ContractType = models.ContractAlternance
	}
	if v, ok := lookup(f, "offer.target_diploma.european"); ok {
		if l, found := europeanLevels[stringify(v)]; found {
			o.EducationLevel = l
		}
	}
	if first(f, []string{"offer_type"}) != string(models.OfferTypeRecruiter) || o.Title != "" {
		return
	}
	if naf := first(f, []string{"workplace.domain.naf.label"}); naf != "" {
		o.Title = "Recruteur potentiel - " + naf
		o.Description = "Entreprise susceptible de recruter en alternance. Secteur : " + naf
	} else {
		o.Title = "Recruteur potentiel en alternance"
	}
}

// fixFranceTravail links offers without an origin URL to their public page
// and reads the degree level from the training requirements.
func fixFranceTravail(f map[string]any, o *models.Offer) {
	if o.SourceURL == "" {
		if id := first(f, []string{"id"}); id != "" {
			o.SourceURL = "https://candidat.francetravail.fr/offres/recherche/detail/" + id
		}
	}
	if o.EducationLevel.Known() {
		return
	}
	formations, _ := f["formations"].([]any)
	for _, e := range formations {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if l := EducationFrom(stringify(m["niveauLibelle"])); l.Known() {
			o.EducationLevel = l
			return
		}
	}
}

// fixWelcomeToTheJungle builds the public URL from organization and job slugs.
func fixWelcomeToTheJungle(f map[string]any, o *models.Offer) {
	if o.SourceURL != "" {
		return
	}
	org := first(f, []string{"organization.slug"})
	slug := first(f, []string{"slug"})
	if org != "" && slug != "" {
		o.SourceURL = fmt.Sprintf("https://www.welcometothejungle.com/fr/companies/%s/jobs/%s", org, slug)
	}
}
