package dedup

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/fingerprint"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// Store persists canonical offer decisions. SaveOffer inserts or updates
// the identity and mergeable fields of one offer atomically.
type Store interface {
	SaveOffer(ctx context.Context, offer *models.Offer) error
}

// Config tunes near-duplicate matching.
type Config struct {
	// Threshold is the combined similarity at which two offers are the same job.
	Threshold float64
	// Band is the half-width of the uncertainty zone around Threshold in
	// which offers are never merged.
	Band float64
	// TitleWeight is the share of title similarity in the combined score.
	TitleWeight float64
}

// DefaultConfig favours missed merges over wrong ones.
func DefaultConfig() Config {
	return Config{Threshold: 0.85, Band: 0.03, TitleWeight: 0.6}
}

// Outcome is the decision taken for one incoming offer.
type Outcome string

const (
	OutcomeNew    Outcome = "new"
	OutcomeRepeat Outcome = "repeat"
	OutcomeMerged Outcome = "merged"
)

// Result reports the canonical offer an incoming offer resolved to.
type Result struct {
	Offer     *models.Offer
	Outcome   Outcome
	Ambiguous bool
}

// Resolver owns the canonical offer set for one ingestion run. Every
// decision (match, merge or create, then persist) runs inside one critical
// section so concurrent callers never both create the same offer.
type Resolver struct {
	mu    sync.Mutex
	store Store
	cfg   Config
	now   func() time.Time

	offers        map[uuid.UUID]*models.Offer
	byFingerprint map[string]uuid.UUID
	byExternalID  map[string]uuid.UUID
	byURL         map[string]uuid.UUID
	byGroup       map[string][]uuid.UUID
}

// NewResolver builds a resolver over the offers already persisted.
func NewResolver(store Store, cfg Config, existing []*models.Offer) *Resolver {
	r := &Resolver{
		store:         store,
		cfg:           cfg,
		now:           time.Now,
		offers:        make(map[uuid.UUID]*models.Offer, len(existing)),
		byFingerprint: make(map[string]uuid.UUID, len(existing)),
		byExternalID:  make(map[string]uuid.UUID),
		byURL:         make(map[string]uuid.UUID, len(existing)),
		byGroup:       make(map[string][]uuid.UUID),
	}
	for _, o := range existing {
		c := o.Clone()
		r.offers[c.ID] = c
		r.index(c)
	}
	return r
}

// WithClock replaces the time source. Used by tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve decides whether in is new, a repeat, or a near-duplicate of a
// canonical offer, persists the decision and returns the canonical offer.
// in must be normalized; its ID and Fingerprint are ignored. A cancelled
// context refuses the decision before any state is touched.
func (r *Resolver) Resolve(ctx context.Context, in *models.Offer) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	fp := fingerprint.Fingerprint(in.Title, in.Company, in.Location)

	if existing, refresh := r.exactMatch(fp, in); existing != nil {
		updated := existing.Clone()
		if refresh {
			updated.Title = in.Title
			updated.Company = in.Company
			updated.Location = in.Location
			updated.Department = in.Department
			updated.Fingerprint = fp
		}
		merge(updated, in, now)
		if err := r.commit(ctx, existing, updated); err != nil {
			return nil, err
		}
		return &Result{Offer: updated.Clone(), Outcome: OutcomeRepeat}, nil
	}

	candidate, ambiguous := r.nearDuplicate(in)
	if candidate != nil {
		updated := candidate.Clone()
		merge(updated, in, now)
		if err := r.commit(ctx, candidate, updated); err != nil {
			return nil, err
		}
		return &Result{Offer: updated.Clone(), Outcome: OutcomeMerged}, nil
	}
	if ambiguous != nil {
		slog.Warn("near-duplicate left unmerged", "error", ambiguous.Error(),
			"candidate_id", ambiguous.CandidateID, "similarity", ambiguous.Similarity)
	}

	created := in.Clone()
	created.ID = uuid.New()
	created.Fingerprint = fp
	created.FirstSeenAt = now
	created.LastSeenAt = now
	created.Sources = []models.Source{in.Source}
	if err := r.commit(ctx, nil, created); err != nil {
		return nil, err
	}
	return &Result{Offer: created.Clone(), Outcome: OutcomeNew, Ambiguous: ambiguous != nil}, nil
}

// Offers returns a copy of the canonical set.
func (r *Resolver) Offers() []*models.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Offer, 0, len(r.offers))
	for _, o := range r.offers {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	return out
}

// Len returns the size of the canonical set.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offers)
}

// exactMatch finds the offer with the same fingerprint, or the same listing
// re-fetched from its source (same external id or URL). refresh is true in
// the latter case when in's source is the only one backing the offer, so an
// edit upstream may rewrite its identifying fields. An offer merged from
// several sources keeps the identity it was first created with.
func (r *Resolver) exactMatch(fp string, in *models.Offer) (*models.Offer, bool) {
	if id, ok := r.byFingerprint[fp]; ok {
		return r.offers[id], false
	}
	if key := externalKey(in); key != "" {
		if id, ok := r.byExternalID[key]; ok {
			existing := r.offers[id]
			return existing, soleSource(existing, in.Source)
		}
	}
	if in.SourceURL != "" {
		if id, ok := r.byURL[in.SourceURL]; ok {
			existing := r.offers[id]
			return existing, soleSource(existing, in.Source)
		}
	}
	return nil, false
}

func soleSource(o *models.Offer, src models.Source) bool {
	return o.Source == src && len(o.Sources) == 1 && o.Sources[0] == src
}

// nearDuplicate returns the best candidate clearing the threshold plus band.
// When none clears it but one lands inside the band, that ambiguity is
// returned instead.
func (r *Resolver) nearDuplicate(in *models.Offer) (*models.Offer, *AmbiguousMergeError) {
	var (
		best      *models.Offer
		bestSim   float64
		ambiguous *AmbiguousMergeError
	)
	for _, id := range r.byGroup[groupKey(in)] {
		cand := r.offers[id]
		sim := fingerprint.Combined(cand.Title, in.Title, cand.Description, in.Description, r.cfg.TitleWeight)
		switch {
		case sim >= r.cfg.Threshold+r.cfg.Band:
			if best == nil || sim > bestSim || (sim == bestSim && cand.FirstSeenAt.Before(best.FirstSeenAt)) {
				best, bestSim = cand, sim
			}
		case sim >= r.cfg.Threshold-r.cfg.Band:
			if ambiguous == nil || sim > ambiguous.Similarity {
				ambiguous = &AmbiguousMergeError{
					Title:       in.Title,
					CandidateID: cand.ID,
					Similarity:  sim,
					Threshold:   r.cfg.Threshold,
				}
			}
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, ambiguous
}

// commit persists updated and swaps it into the index. On failure nothing
// in memory changes.
func (r *Resolver) commit(ctx context.Context, previous, updated *models.Offer) error {
	if err := r.store.SaveOffer(ctx, updated); err != nil {
		op := "update"
		if previous == nil {
			op = "create"
		}
		return &PersistenceError{Op: op, OfferID: updated.ID, Err: err}
	}
	if previous != nil {
		r.unindex(previous)
	}
	r.offers[updated.ID] = updated
	r.index(updated)
	return nil
}

func (r *Resolver) index(o *models.Offer) {
	r.byFingerprint[o.Fingerprint] = o.ID
	if key := externalKey(o); key != "" {
		r.byExternalID[key] = o.ID
	}
	if o.SourceURL != "" {
		r.byURL[o.SourceURL] = o.ID
	}
	g := groupKey(o)
	r.byGroup[g] = append(r.byGroup[g], o.ID)
}

func (r *Resolver) unindex(o *models.Offer) {
	if r.byFingerprint[o.Fingerprint] == o.ID {
		delete(r.byFingerprint, o.Fingerprint)
	}
	if key := externalKey(o); key != "" && r.byExternalID[key] == o.ID {
		delete(r.byExternalID, key)
	}
	if o.SourceURL != "" && r.byURL[o.SourceURL] == o.ID {
		delete(r.byURL, o.SourceURL)
	}
	g := groupKey(o)
	ids := r.byGroup[g]
	for i, id := range ids {
		if id == o.ID {
			r.byGroup[g] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byGroup[g]) == 0 {
		delete(r.byGroup, g)
	}
}

func groupKey(o *models.Offer) string {
	return fingerprint.CompanyKey(o.Company) + "|" + fingerprint.LocationBucket(o.Location)
}

func externalKey(o *models.Offer) string {
	if o.ExternalID == "" {
		return ""
	}
	return string(o.Source) + "|" + o.ExternalID
}
