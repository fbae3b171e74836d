package models

import "slices"

// Evaluation is the outcome of filtering and scoring one offer under the
// current search configuration.
type Evaluation struct {
	Score           float64  `json:"score"`
	IsTargetCompany bool     `json:"is_target_company"`
	FilteredOut     bool     `json:"filtered_out"`
	FilterReasons   []string `json:"filter_reasons,omitempty"`
	Flags           []string `json:"flags,omitempty"`
}

// Evaluation returns the evaluation currently recorded on the offer.
func (o *Offer) Evaluation() Evaluation {
	return Evaluation{
		Score:           o.Score,
		IsTargetCompany: o.IsTargetCompany,
		FilteredOut:     o.FilteredOut,
		FilterReasons:   o.FilterReasons,
		Flags:           o.Flags,
	}
}

// ApplyEvaluation records e on the offer.
func (o *Offer) ApplyEvaluation(e Evaluation) {
	o.Score = e.Score
	o.IsTargetCompany = e.IsTargetCompany
	o.FilteredOut = e.FilteredOut
	o.FilterReasons = e.FilterReasons
	o.Flags = e.Flags
}

// Equal reports whether two evaluations would persist identically.
func (e Evaluation) Equal(other Evaluation) bool {
	return e.Score == other.Score &&
		e.IsTargetCompany == other.IsTargetCompany &&
		e.FilteredOut == other.FilteredOut &&
		slices.Equal(e.FilterReasons, other.FilterReasons) &&
		slices.Equal(e.Flags, other.Flags)
}
