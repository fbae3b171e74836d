package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/api/response"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/pipeline"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

const maxBodyBytes = 1 << 20

// Runner starts ingestion runs and reports the last one.
type Runner interface {
	Start(ctx context.Context, rc pipeline.RunConfig) (uuid.UUID, error)
	LatestRun(ctx context.Context) (*models.IngestionRun, bool, error)
}

// NewStartRunHandler returns an http.HandlerFunc for POST /api/v1/runs.
// A JSON body overrides fields of the configured criteria for this run
// only; source settings cannot be overridden.
func NewStartRunHandler(runner Runner, base *config.Criteria) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		crit, err := criteriaFromBody(r, base)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}

		runID, err := runner.Start(r.Context(), pipeline.RunConfig{Criteria: crit})
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrRunInProgress):
				response.Error(w, http.StatusConflict, response.CodeConflict,
					"An ingestion run is already in progress", nil)
			default:
				internalError(w, r, "start run", err)
			}
			return
		}

		response.Accepted(w, map[string]any{
			"run_id": runID,
			"status": "running",
		})
	}
}

// NewLatestRunHandler returns an http.HandlerFunc for GET /api/v1/runs/latest.
func NewLatestRunHandler(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, found, err := runner.LatestRun(r.Context())
		if err != nil {
			internalError(w, r, "latest run", err)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "No ingestion run recorded yet", nil)
			return
		}
		response.JSON(w, runResponse{IngestionRun: run, Fetched: run.Fetched()})
	}
}

type runResponse struct {
	*models.IngestionRun
	Fetched int `json:"fetched"`
}

// criteriaFromBody decodes the optional override body on top of a copy of
// base. An empty body yields base unchanged.
func criteriaFromBody(r *http.Request, base *config.Criteria) (*config.Criteria, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("could not read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return base, nil
	}

	crit := base.Clone()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(crit); err != nil {
		return nil, errors.New("invalid JSON body: " + err.Error())
	}
	if err := crit.Validate(); err != nil {
		return nil, err
	}
	return crit, nil
}
