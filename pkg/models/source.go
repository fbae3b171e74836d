package models

// Source identifies the adapter an offer was collected from.
type Source string

const (
	SourceLaBonneAlternance  Source = "la_bonne_alternance"
	SourceFranceTravail      Source = "france_travail"
	SourceLever              Source = "lever"
	SourceSmartRecruiters    Source = "smartrecruiters"
	SourceWelcomeToTheJungle Source = "welcome_to_the_jungle"
	SourcePlaceEmploiPublic  Source = "place_emploi_public"
	SourceCareerPage         Source = "career_page"
	SourceManual             Source = "manual"
)

// TrustTier orders sources by how reliable their data is when two of them
// disagree about the same offer. Higher wins.
type TrustTier int

const (
	TrustUnknown      TrustTier = 0
	TrustUnstructured TrustTier = 1
	TrustStructured   TrustTier = 2
	TrustAPI          TrustTier = 3
)

var sourceTrust = map[Source]TrustTier{
	SourceLaBonneAlternance:  TrustAPI,
	SourceFranceTravail:      TrustAPI,
	SourceLever:              TrustAPI,
	SourceSmartRecruiters:    TrustAPI,
	SourceWelcomeToTheJungle: TrustStructured,
	SourcePlaceEmploiPublic:  TrustStructured,
	SourceManual:             TrustStructured,
	SourceCareerPage:         TrustUnstructured,
}

// prefilteredSources are queried by occupation code upstream, so their
// results are relevant without a keyword match.
var prefilteredSources = map[Source]bool{
	SourceLaBonneAlternance: true,
}

// Trust returns the trust tier of the source, TrustUnknown for unregistered sources.
func (s Source) Trust() TrustTier {
	return sourceTrust[s]
}

// Valid reports whether s is a registered source.
func (s Source) Valid() bool {
	_, ok := sourceTrust[s]
	return ok
}

// Prefiltered reports whether offers from s skip keyword matching.
func (s Source) Prefiltered() bool {
	return prefilteredSources[s]
}
