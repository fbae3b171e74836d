// Package handler implements the HTTP endpoints of the API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/api/response"
)

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error("request failed",
		"op", op,
		"request_id", chimw.GetReqID(r.Context()),
		"error", err,
	)
	response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
}

// offerID reads the {offerID} path parameter, writing a 400 when it is not
// a UUID.
func offerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "offerID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
