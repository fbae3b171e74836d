// Package tracking applies user updates to the application workflow state
// attached to each offer.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

var ErrInvalidStatus = errors.New("invalid tracking status")

// NotFoundError is returned when an update targets an offer that does not exist.
type NotFoundError struct {
	OfferID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("offer %s not found", e.OfferID)
}

func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

var statusReplacer = strings.NewReplacer("_", " ", "-", " ")

// ParseStatus accepts any casing and spaces, underscores or hyphens between
// words, so "followed_up" and "FOLLOWED-UP" both yield StatusFollowedUp.
func ParseStatus(s string) (models.TrackingStatus, error) {
	norm := strings.Join(strings.Fields(statusReplacer.Replace(strings.ToLower(s))), " ")
	for _, st := range models.TrackingStatuses {
		if strings.ToLower(string(st)) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Update is a partial change to a tracking row. Nil fields are left alone.
type Update struct {
	Status       *models.TrackingStatus
	CVSent       *bool
	DateSent     *time.Time
	FollowUpDone *bool
	FollowUpDate *time.Time
	Notes        *string
}

func (u Update) Empty() bool {
	return u.Status == nil && u.CVSent == nil && u.DateSent == nil &&
		u.FollowUpDone == nil && u.FollowUpDate == nil && u.Notes == nil
}

// Apply writes u onto t. Turning cv_sent or follow_up_done on stamps the
// matching date with today's date unless one is given or already set;
// turning it off clears the date.
func Apply(t *models.Tracking, u Update, now time.Time) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	t.CVSent, t.DateSent = stamp(t.CVSent, t.DateSent, u.CVSent, u.DateSent, now)
	t.FollowUpDone, t.FollowUpDate = stamp(t.FollowUpDone, t.FollowUpDate, u.FollowUpDone, u.FollowUpDate, now)
	if u.Notes != nil {
		t.Notes = strings.TrimSpace(*u.Notes)
	}
	t.UpdatedAt = now
}

func stamp(flag bool, date *time.Time, newFlag *bool, newDate *time.Time, now time.Time) (bool, *time.Time) {
	if newFlag != nil {
		flag = *newFlag
	}
	if !flag {
		return false, nil
	}
	switch {
	case newDate != nil:
		d := truncateDay(*newDate)
		return true, &d
	case date == nil:
		d := truncateDay(now)
		return true, &d
	}
	return true, date
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Store is the subset of store.Store the service needs.
type Store interface {
	GetOffer(ctx context.Context, id uuid.UUID) (*models.TrackedOffer, error)
	CreateTrackingIfAbsent(ctx context.Context, t *models.Tracking) (bool, error)
	UpdateTracking(ctx context.Context, offerID uuid.UUID, fn func(*models.Tracking) error) (*models.Tracking, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(st Store) *Service {
	return &Service{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used for date stamping.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Update applies u to the tracking of offerID, creating the row first when
// the offer has none yet.
func (s *Service) Update(ctx context.Context, offerID uuid.UUID, u Update) (*models.Tracking, error) {
	if _, err := s.store.GetOffer(ctx, offerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{OfferID: offerID}
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}

	now := s.now()
	if _, err := s.store.CreateTrackingIfAbsent(ctx, models.NewTracking(offerID, now)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{OfferID: offerID}
		}
		return nil, fmt.Errorf("create tracking: %w", err)
	}

	t, err := s.store.UpdateTracking(ctx, offerID, func(t *models.Tracking) error {
		Apply(t, u, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{OfferID: offerID}
		}
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	return t, nil
}
