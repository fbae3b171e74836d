package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/api/response"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/internal/tracking"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// OfferReader is the read side of the offer store.
type OfferReader interface {
	ListOffers(ctx context.Context, filter store.OfferFilter) ([]*models.TrackedOffer, int, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*models.TrackedOffer, error)
}

// NewListOffersHandler returns an http.HandlerFunc for GET /api/v1/offers.
func NewListOffersHandler(offers OfferReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, details := parseOfferFilter(r.URL.Query())
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid query parameters", details)
			return
		}

		list, total, err := offers.ListOffers(r.Context(), filter)
		if err != nil {
			internalError(w, r, "list offers", err)
			return
		}
		if list == nil {
			list = []*models.TrackedOffer{}
		}

		limit, _ := filter.Pagination()
		response.Collection(w, list, response.Paginate(filter.Page, limit, total))
	}
}

// NewGetOfferHandler returns an http.HandlerFunc for GET /api/v1/offers/{offerID}.
func NewGetOfferHandler(offers OfferReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := offerID(w, r)
		if !ok {
			return
		}

		offer, err := offers.GetOffer(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Offer not found", nil)
				return
			}
			internalError(w, r, "get offer", err)
			return
		}
		response.JSON(w, offer)
	}
}

// parseOfferFilter maps query parameters onto a filter. details names every
// parameter that could not be parsed.
func parseOfferFilter(q url.Values) (store.OfferFilter, map[string]string) {
	var (
		f       store.OfferFilter
		details = make(map[string]string)
		err     error
	)

	if f.IncludeFiltered, err = boolParam(q, "include_filtered"); err != nil {
		details["include_filtered"] = err.Error()
	}
	if f.TargetOnly, err = boolParam(q, "target_only"); err != nil {
		details["target_only"] = err.Error()
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = tracking.ParseStatus(v); err != nil {
			details["status"] = err.Error()
		}
	}
	if v := q.Get("source"); v != "" {
		f.Source = models.Source(v)
		if !f.Source.Valid() {
			details["source"] = fmt.Sprintf("unknown source %q", v)
		}
	}
	f.Company = q.Get("company")
	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			details["min_score"] = "must be a number"
		} else {
			f.MinScore = &score
		}
	}
	if f.Page, err = intParam(q, "page"); err != nil {
		details["page"] = err.Error()
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		details["limit"] = err.Error()
	}
	return f, details
}

func boolParam(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("must be true or false")
	}
	return b, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}
