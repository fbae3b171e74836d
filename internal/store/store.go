package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// ListCanonicalOffers returns every offer, filtered or not.
	ListCanonicalOffers(ctx context.Context) ([]*models.Offer, error)
	// SaveOffer inserts the offer or updates its identity and merged fields.
	// Evaluation columns are left alone on update.
	SaveOffer(ctx context.Context, offer *models.Offer) error
	UpdateOfferEvaluation(ctx context.Context, id uuid.UUID, eval models.Evaluation) error
	GetOffer(ctx context.Context, id uuid.UUID) (*models.TrackedOffer, error)
	ListOffers(ctx context.Context, filter OfferFilter) ([]*models.TrackedOffer, int, error)

	// CreateTrackingIfAbsent inserts t unless the offer already has tracking.
	// It reports whether a row was created.
	CreateTrackingIfAbsent(ctx context.Context, t *models.Tracking) (bool, error)
	GetTracking(ctx context.Context, offerID uuid.UUID) (*models.Tracking, error)
	// UpdateTracking locks the tracking row, hands a copy to fn and writes
	// the result back in the same transaction. An error from fn aborts it.
	UpdateTracking(ctx context.Context, offerID uuid.UUID, fn func(*models.Tracking) error) (*models.Tracking, error)
	// TrackingStats counts offers and tracking rows by workflow state.
	TrackingStats(ctx context.Context) (*models.TrackingStats, error)
}

const trackingTotalsQuery = `SELECT
	(SELECT COUNT(*) FROM offers),
	COUNT(*),
	COUNT(*) FILTER (WHERE cv_sent),
	COUNT(*) FILTER (WHERE follow_up_done)
FROM tracking`

const trackingByStatusQuery = `SELECT status, COUNT(*) FROM tracking GROUP BY status`

// OfferFilter selects offers for listing. Zero values mean no constraint.
type OfferFilter struct {
	IncludeFiltered bool
	Status          models.TrackingStatus
	Source          models.Source
	Company         string
	TargetOnly      bool
	MinScore        *float64
	Page            int
	Limit           int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Pagination clamps page and limit and returns limit and offset.
func (f OfferFilter) Pagination() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
