package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackingStatus is the user-driven application workflow state.
type TrackingStatus string

const (
	StatusNew        TrackingStatus = "New"
	StatusApplied    TrackingStatus = "Applied"
	StatusFollowedUp TrackingStatus = "Followed up"
	StatusInterview  TrackingStatus = "Interview"
	StatusAccepted   TrackingStatus = "Accepted"
	StatusRejected   TrackingStatus = "Rejected"
	StatusNoResponse TrackingStatus = "No response"
)

// TrackingStatuses lists every status in workflow order.
var TrackingStatuses = []TrackingStatus{
	StatusNew, StatusApplied, StatusFollowedUp, StatusInterview,
	StatusAccepted, StatusRejected, StatusNoResponse,
}

// Tracking is the mutable, user-owned state attached 1:1 to an Offer.
// Ingestion creates it once and never writes to it again.
type Tracking struct {
	OfferID      uuid.UUID      `db:"offer_id"       json:"offer_id"`
	Status       TrackingStatus `db:"status"         json:"status"`
	CVSent       bool           `db:"cv_sent"        json:"cv_sent"`
	DateSent     *time.Time     `db:"date_sent"      json:"date_sent,omitempty"`
	FollowUpDone bool           `db:"follow_up_done" json:"follow_up_done"`
	FollowUpDate *time.Time     `db:"follow_up_date" json:"follow_up_date,omitempty"`
	Notes        string         `db:"notes"          json:"notes"`
	CreatedAt    time.Time      `db:"created_at"     json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"     json:"updated_at"`
}

// NewTracking returns the initial tracking state for an offer.
func NewTracking(offerID uuid.UUID, now time.Time) *Tracking {
	return &Tracking{
		OfferID:   offerID,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TrackingStats summarises the application workflow over every offer.
type TrackingStats struct {
	TotalOffers  int                    `json:"total_offers"`
	Tracked      int                    `json:"tracked"`
	CVSent       int                    `json:"cv_sent"`
	FollowUps    int                    `json:"follow_ups"`
	StatusCounts map[TrackingStatus]int `json:"status_counts"`
}

// NewTrackingStats returns empty stats with a zero count for every status.
func NewTrackingStats() *TrackingStats {
	s := &TrackingStats{StatusCounts: make(map[TrackingStatus]int, len(TrackingStatuses))}
	for _, st := range TrackingStatuses {
		s.StatusCounts[st] = 0
	}
	return s
}
