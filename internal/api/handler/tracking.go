package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/api/response"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/internal/tracking"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// TrackingUpdater applies partial tracking updates.
type TrackingUpdater interface {
	Update(ctx context.Context, offerID uuid.UUID, u tracking.Update) (*models.Tracking, error)
}

type trackingRequest struct {
	Status       *string `json:"status"`
	CVSent       *bool   `json:"cv_sent"`
	DateSent     *string `json:"date_sent"`
	FollowUpDone *bool   `json:"follow_up_done"`
	FollowUpDate *string `json:"follow_up_date"`
	Notes        *string `json:"notes"`
}

// NewUpdateTrackingHandler returns an http.HandlerFunc for
// PATCH /api/v1/offers/{offerID}/tracking.
func NewUpdateTrackingHandler(svc TrackingUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := offerID(w, r)
		if !ok {
			return
		}

		var req trackingRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		u, details := req.update()
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid tracking update", details)
			return
		}
		if u.Empty() {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "At least one field is required", nil)
			return
		}

		t, err := svc.Update(r.Context(), id, u)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Offer not found", nil)
				return
			}
			internalError(w, r, "update tracking", err)
			return
		}
		response.JSON(w, t)
	}
}

func (req trackingRequest) update() (tracking.Update, map[string]string) {
	u := tracking.Update{
		CVSent:       req.CVSent,
		FollowUpDone: req.FollowUpDone,
		Notes:        req.Notes,
	}
	details := make(map[string]string)

	if req.Status != nil {
		st, err := tracking.ParseStatus(*req.Status)
		if err != nil {
			details["status"] = fmt.Sprintf("must be one of %v", models.TrackingStatuses)
		} else {
			u.Status = &st
		}
	}
	if req.DateSent != nil {
		d, err := parseDay(*req.DateSent)
		if err != nil {
			details["date_sent"] = err.Error()
		}
		u.DateSent = d
	}
	if req.FollowUpDate != nil {
		d, err := parseDay(*req.FollowUpDate)
		if err != nil {
			details["follow_up_date"] = err.Error()
		}
		u.FollowUpDate = d
	}
	return u, details
}

// parseDay accepts a calendar date or a full RFC 3339 timestamp.
func parseDay(s string) (*time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")
}
