package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

const (
	wttjHitsPerPage = 50
	wttjMaxPages    = 10
	// Around Paris, 60 km.
	wttjAroundLatLng = "48.8566, 2.3522"
	wttjAroundRadius = 60000
)

// wttjContracts maps canonical contract types to the board's facet values.
var wttjContracts = map[models.ContractType]string{
	models.ContractAlternance: "apprenticeship",
	models.ContractCDI:        "full_time",
	models.ContractCDD:        "temporary",
	models.ContractStage:      "internship",
	models.ContractFreelance:  "freelance",
}

// WelcomeToTheJungle searches the board's Algolia index with its public
// search-only credentials.
type WelcomeToTheJungle struct {
	cfg     config.WTTJConfig
	baseURL string
	http    *httpClient
	now     func() time.Time
}

func NewWelcomeToTheJungle(cfg config.WTTJConfig, timeout time.Duration) *WelcomeToTheJungle {
	return &WelcomeToTheJungle{
		cfg:     cfg,
		baseURL: fmt.Sprintf("https://%s-dsn.algolia.net", cfg.AppID),
		http:    newHTTPClient(models.SourceWelcomeToTheJungle, timeout, 500*time.Millisecond),
		now:     time.Now,
	}
}

func (w *WelcomeToTheJungle) Name() models.Source { return models.SourceWelcomeToTheJungle }

type algoliaQuery struct {
	Query        string     `json:"query"`
	HitsPerPage  int        `json:"hitsPerPage"`
	Page         int        `json:"page"`
	FacetFilters [][]string `json:"facetFilters,omitempty"`
	AroundLatLng string     `json:"aroundLatLng"`
	AroundRadius int        `json:"aroundRadius"`
}

type algoliaResponse struct {
	Hits    []map[string]any `json:"hits"`
	NbPages int              `json:"nbPages"`
}

// Fetch runs one paginated search per query: the configured query, or each
// keyword when none is set.
func (w *WelcomeToTheJungle) Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error) {
	if w.cfg.AppID == "" || w.cfg.APIKey == "" {
		return nil, &FetchError{Source: w.Name(), Kind: KindAuth, Err: errors.New("algolia app_id and api_key are required")}
	}

	queries := c.Keywords
	if w.cfg.Query != "" {
		queries = []string{w.cfg.Query}
	}
	if len(queries) == 0 {
		queries = []string{""}
	}

	var contracts []string
	for _, ct := range c.ContractTypes {
		if v, ok := wttjContracts[ct]; ok {
			contracts = append(contracts, "contract_type:"+v)
		}
	}
	var facets [][]string
	if len(contracts) > 0 {
		facets = append(facets, contracts)
	}

	seen := make(map[string]bool)
	var out []models.RawOffer
	for _, q := range queries {
		hits, err := w.search(ctx, q, facets)
		if err != nil {
			return nil, err
		}
		at := w.now().UTC()
		for _, h := range hits {
			id := fmt.Sprint(h["objectID"])
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, raw(w.Name(), h, at))
		}
	}
	return out, nil
}

func (w *WelcomeToTheJungle) search(ctx context.Context, query string, facets [][]string) ([]map[string]any, error) {
	header := http.Header{}
	header.Set("X-Algolia-Application-Id", w.cfg.AppID)
	header.Set("X-Algolia-API-Key", w.cfg.APIKey)
	header.Set("Referer", "https://www.welcometothejungle.com/")
	u := fmt.Sprintf("%s/1/indexes/%s/query", w.baseURL, w.cfg.Index)

	var hits []map[string]any
	for page := 0; page < wttjMaxPages; page++ {
		body := algoliaQuery{
			Query:        query,
			HitsPerPage:  wttjHitsPerPage,
			Page:         page,
			FacetFilters: facets,
			AroundLatLng: wttjAroundLatLng,
			AroundRadius: wttjAroundRadius,
		}
		var resp algoliaResponse
		if err := w.http.postJSON(ctx, u, header.Clone(), body, &resp); err != nil {
			return nil, err
		}
		hits = append(hits, resp.Hits...)
		if page+1 >= resp.NbPages {
			break
		}
	}
	return hits, nil
}
