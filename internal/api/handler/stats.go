package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/jobhunter/internal/api/response"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// StatsReader reports workflow counts.
type StatsReader interface {
	TrackingStats(ctx context.Context) (*models.TrackingStats, error)
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(stats StatsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := stats.TrackingStats(r.Context())
		if err != nil {
			internalError(w, r, "tracking stats", err)
			return
		}
		response.JSON(w, s)
	}
}
