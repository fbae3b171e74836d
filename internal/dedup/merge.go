package dedup

import (
	"time"

	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// merge folds an incoming observation into a copy of the canonical offer.
// Identity (id, title, company, fingerprint) is never touched here. Missing
// values are filled in; conflicting values go to the source with the higher
// trust tier, and on equal trust the first-seen value stays.
func merge(dst, in *models.Offer, now time.Time) {
	if now.After(dst.LastSeenAt) {
		dst.LastSeenAt = now
	}
	if !in.FirstSeenAt.IsZero() && in.FirstSeenAt.Before(dst.FirstSeenAt) {
		dst.FirstSeenAt = in.FirstSeenAt
	}
	if !dst.HasSource(in.Source) {
		dst.Sources = append(dst.Sources, in.Source)
	}

	higher := in.Source.Trust() > dst.Source.Trust()

	switch {
	case dst.PostedDate == nil && in.PostedDate != nil:
		d := *in.PostedDate
		dst.PostedDate = &d
	case higher && in.PostedDate != nil && !in.PostedDate.Equal(*dst.PostedDate):
		d := *in.PostedDate
		dst.PostedDate = &d
	}

	if dst.Description == "" || (higher && in.Description != "") {
		if in.Description != "" {
			dst.Description = in.Description
		}
	}

	if in.Location != "" && (dst.Location == "" || higher) {
		dst.Location = in.Location
		dst.Department = in.Department
	}

	if in.ContractType != "" && in.ContractType != models.ContractUnknown {
		if dst.ContractType == "" || dst.ContractType == models.ContractUnknown || higher {
			dst.ContractType = in.ContractType
		}
	}

	if in.EducationLevel.Known() && (!dst.EducationLevel.Known() || higher) {
		dst.EducationLevel = in.EducationLevel
	}

	if higher {
		dst.Source = in.Source
		dst.SourceURL = in.SourceURL
		dst.ExternalID = in.ExternalID
		if in.OfferType != "" {
			dst.OfferType = in.OfferType
		}
	}
}
