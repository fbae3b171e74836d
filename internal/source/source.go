// Package source fetches raw job offers from external job boards. Each
// adapter returns records in its source's own field layout; mapping them to
// the canonical model is the normalizer's job.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// Adapter is one job board integration.
type Adapter interface {
	Name() models.Source
	Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error)
}

// Criteria narrows what adapters ask for. Sources that cannot filter
// server-side may ignore any field.
type Criteria struct {
	Keywords      []string
	Departments   []string
	ContractTypes []models.ContractType
	Since         time.Time
}

// CriteriaFrom builds fetch criteria from the search configuration. Since is
// derived from the recency window.
func CriteriaFrom(c *config.Criteria, now time.Time) Criteria {
	out := Criteria{
		Keywords:    c.Keywords,
		Departments: c.Departments,
	}
	for _, ct := range c.ContractTypes {
		out.ContractTypes = append(out.ContractTypes, models.ContractType(ct))
	}
	if c.RecencyDays > 0 {
		out.Since = now.AddDate(0, 0, -c.RecencyDays)
	}
	return out
}

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindAuth        ErrorKind = "auth"
	KindParse       ErrorKind = "parse"
	KindRateLimited ErrorKind = "rate_limited"
)

// FetchError reports why an adapter could not produce results.
type FetchError struct {
	Source models.Source
	Kind   ErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func raw(src models.Source, fields map[string]any, at time.Time) models.RawOffer {
	return models.RawOffer{Source: src, Fields: fields, FetchedAt: at}
}
