package normalize_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/normalize"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lbaJob() map[string]any {
	return map[string]any{
		"identifier": map[string]any{"id": "abc123", "partner_label": "La bonne alternance"},
		"workplace": map[string]any{
			"brand":    "Thales",
			"location": map[string]any{"address": "4 Avenue des Louvresses 92230 Gennevilliers"},
		},
		"offer": map[string]any{
			"title":          "Administrateur systèmes et réseaux H/F",
			"description":    "<p>Vous administrez les <b>serveurs</b> Linux.</p>",
			"desired_skills": []any{"Linux", "Ansible"},
			"target_diploma": map[string]any{"european": "7", "label": "Master"},
			"publication":    map[string]any{"creation": "2024-03-12T08:30:00.000Z"},
		},
		"contract": map[string]any{"type": []any{"Apprentissage"}},
		"apply":    map[string]any{"url": "https://labonnealternance.apprentissage.beta.gouv.fr/offre/abc123"},
	}
}

func TestNormalize_LaBonneAlternanceJob(t *testing.T) {
	n := normalize.New()

	o, err := n.Normalize(models.RawOffer{Source: models.SourceLaBonneAlternance, Fields: lbaJob()})
	require.NoError(t, err)

	assert.Equal(t, "Administrateur systèmes et réseaux H/F", o.Title)
	assert.Equal(t, "Thales", o.Company)
	assert.Equal(t, "4 Avenue des Louvresses 92230 Gennevilliers", o.Location)
	assert.Equal(t, "92", o.Department)
	assert.Equal(t, "Vous administrez les serveurs Linux.\nLinux, Ansible", o.Description)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	assert.Equal(t, models.EducationLevel(5), o.EducationLevel)
	assert.Equal(t, "abc123", o.ExternalID)
	assert.Equal(t, models.OfferTypeDirectEmployer, o.OfferType)
	assert.Equal(t, []models.Source{models.SourceLaBonneAlternance}, o.Sources)
	require.NotNil(t, o.PostedDate)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), *o.PostedDate)
	assert.Empty(t, o.Fingerprint)
}

func TestNormalize_LaBonneAlternanceRecruiter(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"offer_type": "recruiter",
		"identifier": map[string]any{"id": "r-42"},
		"workplace": map[string]any{
			"name":     "ACME Informatique",
			"location": map[string]any{"address": "75011 Paris"},
			"domain":   map[string]any{"naf": map[string]any{"label": "Programmation informatique"}},
		},
		"apply": map[string]any{"url": "https://labonnealternance.apprentissage.beta.gouv.fr/recruteur/r-42"},
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourceLaBonneAlternance, Fields: raw})
	require.NoError(t, err)

	assert.Equal(t, "Recruteur potentiel - Programmation informatique", o.Title)
	assert.Equal(t, models.OfferTypeRecruiter, o.OfferType)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	assert.Equal(t, "75", o.Department)
	assert.Nil(t, o.PostedDate)
}

func TestNormalize_LeverEpochMillis(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"id":               "4f1c",
		"text":             "Ingénieur Infrastructure - Alternance",
		"company":          "Doctolib",
		"hostedUrl":        "https://jobs.lever.co/doctolib/4f1c",
		"descriptionPlain": "Rejoignez l'équipe SRE.",
		"createdAt":        float64(1710230400000),
		"categories": map[string]any{
			"commitment":   "Apprenticeship",
			"allLocations": []any{"Paris", "Levallois-Perret"},
		},
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourceLever, Fields: raw})
	require.NoError(t, err)

	assert.Equal(t, "Paris, Levallois-Perret", o.Location)
	assert.Equal(t, "75", o.Department)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	require.NotNil(t, o.PostedDate)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), *o.PostedDate)
}

func TestNormalize_FranceTravail(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"id":                 "174KLMP",
		"intitule":           "Administrateur systèmes et réseaux en alternance (H/F)",
		"description":        "Vous rejoignez la DSI.",
		"dateCreation":       "2024-03-11T14:02:11.000Z",
		"typeContratLibelle": "Contrat d'apprentissage",
		"entreprise":         map[string]any{"nom": "SAFRAN"},
		"lieuTravail":        map[string]any{"libelle": "92 - Nanterre", "codePostal": "92000"},
		"formations": []any{
			map[string]any{"domaineLibelle": "Informatique", "niveauLibelle": "Bac+3, Bac+4 ou équivalents"},
		},
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourceFranceTravail, Fields: raw})
	require.NoError(t, err)

	assert.Equal(t, "SAFRAN", o.Company)
	assert.Equal(t, "174KLMP", o.ExternalID)
	assert.Equal(t, "https://candidat.francetravail.fr/offres/recherche/detail/174KLMP", o.SourceURL)
	assert.Equal(t, "92", o.Department)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	assert.Equal(t, models.EducationLevel(3), o.EducationLevel)
	require.NotNil(t, o.PostedDate)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), *o.PostedDate)
}

func TestNormalize_SmartRecruitersListing(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"id":           "744000012345",
		"name":         "Alternance - Technicien Systèmes",
		"releasedDate": "2024-03-14T09:30:00.000Z",
		"company":      map[string]any{"identifier": "SopraSteria1", "name": "Sopra Steria"},
		"location":     map[string]any{"city": "Paris", "fullLocation": "Paris, 75008, Île-de-France"},
		"postingUrl":   "https://jobs.smartrecruiters.com/SopraSteria1/744000012345",
		"summary":      "Infrastructure - Information Technology",
		"contract":     "Alternance",
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourceSmartRecruiters, Fields: raw})
	require.NoError(t, err)

	assert.Equal(t, "Sopra Steria", o.Company)
	assert.Equal(t, "75", o.Department)
	assert.Equal(t, "Infrastructure - Information Technology", o.Description)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	assert.Equal(t, "744000012345", o.ExternalID)
}

func TestNormalize_WelcomeToTheJungleBuildsURL(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"name":          "Technicien Support N2 (F/H)",
		"slug":          "technicien-support-n2",
		"contract_type": "apprenticeship",
		"organization":  map[string]any{"name": "Qonto", "slug": "qonto"},
		"offices":       []any{map[string]any{"city": "Paris", "zip_code": "75009"}},
		"published_at":  "2024-03-01T10:00:00Z",
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourceWelcomeToTheJungle, Fields: raw})
	require.NoError(t, err)

	assert.Equal(t, "https://www.welcometothejungle.com/fr/companies/qonto/jobs/technicien-support-n2", o.SourceURL)
	assert.Equal(t, "75009 Paris", o.Location)
	assert.Equal(t, "75", o.Department)
}

func TestNormalize_FlatDayFirstDate(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"title":     "Administrateur réseaux",
		"employer":  "Ministère des Armées",
		"location":  "Yvelines (78)",
		"url":       "https://place-emploi-public.gouv.fr/offre-emploi/123",
		"published": "05/02/2024",
		"contract":  "Contrat d'apprentissage",
		"education": "Bac+3",
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourcePlaceEmploiPublic, Fields: raw})
	require.NoError(t, err)

	require.NotNil(t, o.PostedDate)
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), *o.PostedDate)
	assert.Equal(t, models.EducationLevel(3), o.EducationLevel)
	assert.Equal(t, models.ContractAlternance, o.ContractType)
	assert.Equal(t, "78", o.Department)
}

func TestNormalize_FrenchMonthDate(t *testing.T) {
	n := normalize.New()
	raw := map[string]any{
		"title":     "Technicien systèmes",
		"employer":  "Ville de Paris",
		"location":  "Paris (75)",
		"url":       "https://choisirleservicepublic.gouv.fr/offre-emploi/456",
		"published": "Publiée le 1er février 2024",
	}

	o, err := n.Normalize(models.RawOffer{Source: models.SourcePlaceEmploiPublic, Fields: raw})
	require.NoError(t, err)

	require.NotNil(t, o.PostedDate)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *o.PostedDate)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source models.Source
		fields map[string]any
		kind   normalize.ErrorKind
		field  string
	}{
		{
			name:   "missing title",
			source: models.SourceManual,
			fields: map[string]any{"company": "ACME", "url": "https://x"},
			kind:   normalize.KindMissingRequiredField,
			field:  "title",
		},
		{
			name:   "blank company",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "   ", "url": "https://x"},
			kind:   normalize.KindMissingRequiredField,
			field:  "company",
		},
		{
			name:   "missing url",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "ACME"},
			kind:   normalize.KindMissingRequiredField,
			field:  "source_url",
		},
		{
			name:   "unparseable date",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "ACME", "url": "https://x", "posted_date": "not a date at all"},
			kind:   normalize.KindUnparseableDate,
			field:  "posted_date",
		},
		{
			name:   "day first date past end of month",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "ACME", "url": "https://x", "posted_date": "31/02/2024"},
			kind:   normalize.KindUnparseableDate,
			field:  "posted_date",
		},
		{
			name:   "day first date in non leap year",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "ACME", "url": "https://x", "posted_date": "29.02.2023"},
			kind:   normalize.KindUnparseableDate,
			field:  "posted_date",
		},
		{
			name:   "french month date past end of month",
			source: models.SourceManual,
			fields: map[string]any{"title": "Admin", "company": "ACME", "url": "https://x", "posted_date": "Publiée le 31 avril 2024"},
			kind:   normalize.KindUnparseableDate,
			field:  "posted_date",
		},
		{
			name:   "unknown source",
			source: models.Source("monster"),
			fields: map[string]any{"title": "Admin"},
			kind:   normalize.KindUnknownSource,
			field:  "source",
		},
	}

	n := normalize.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := n.Normalize(models.RawOffer{Source: tt.source, Fields: tt.fields})
			assert.Nil(t, o)

			var nerr *normalize.NormalizationError
			require.True(t, errors.As(err, &nerr))
			assert.Equal(t, tt.kind, nerr.Kind)
			assert.Equal(t, tt.field, nerr.Field)
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain text", input: "  hello   world ", expected: "hello world"},
		{name: "entities", input: "R&amp;D &eacute;quipe", expected: "R&D équipe"},
		{name: "block elements", input: "<ul><li>Linux</li><li>Windows</li></ul>", expected: "Linux\nWindows"},
		{name: "drops scripts", input: "<p>Texte</p><script>alert(1)</script><style>p{}</style>", expected: "Texte"},
		{name: "line breaks", input: "a<br>b<br/>c", expected: "a\nb\nc"},
		{name: "empty", input: "   ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalize.StripHTML(tt.input))
		})
	}
}

func TestContractFrom(t *testing.T) {
	tests := []struct {
		input    string
		expected models.ContractType
	}{
		{"Alternance", models.ContractAlternance},
		{"Contrat de professionnalisation", models.ContractAlternance},
		{"CDD en alternance", models.ContractAlternance},
		{"Internship", models.ContractStage},
		{"CDI", models.ContractCDI},
		{"Permanent", models.ContractCDI},
		{"CDD", models.ContractCDD},
		{"MIS", models.ContractInterim},
		{"Freelance", models.ContractFreelance},
		{"Full-time", models.ContractUnknown},
		{"", models.ContractUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalize.ContractFrom(tt.input))
		})
	}
}

func TestEducationFrom(t *testing.T) {
	assert.Equal(t, models.EducationLevel(5), normalize.EducationFrom("bac+5"))
	assert.Equal(t, models.EducationLevel(3), normalize.EducationFrom("Licence professionnelle"))
	assert.Equal(t, models.EducationLevel(2), normalize.EducationFrom("", "Technicien BTS SIO"))
	assert.Equal(t, models.EducationLevel(3), normalize.EducationFrom("", "Profil Bac +3 à Bac +5"))
	assert.Equal(t, models.EducationLevel(8), normalize.EducationFrom("", "Doctorat en informatique"))
	assert.Equal(t, models.EducationUnknown, normalize.EducationFrom("", "Administrateur systèmes"))
}

func TestOfferTypeFrom(t *testing.T) {
	assert.Equal(t, models.OfferTypeRecruiter, normalize.OfferTypeFrom("recruiter", "Admin", "ACME"))
	assert.Equal(t, models.OfferTypeRecruiter, normalize.OfferTypeFrom("", "Recruteur potentiel - Informatique", "ACME"))
	assert.Equal(t, models.OfferTypeRecruiter, normalize.OfferTypeFrom("", "Admin sys", "Randstad Digital"))
	assert.Equal(t, models.OfferTypeRecruiter, normalize.OfferTypeFrom("", "Admin sys", "Cabinet Dupont Recrutement"))
	assert.Equal(t, models.OfferTypeDirectEmployer, normalize.OfferTypeFrom("", "Admin sys", "Thales"))
}
