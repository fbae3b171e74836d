package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// LaBonneAlternance queries the public apprenticeship API by occupation
// (ROME) codes. Results include posted jobs and companies likely to hire,
// the latter tagged as recruiter records.
type LaBonneAlternance struct {
	cfg     config.LBAConfig
	baseURL string
	apiKey  string
	caller  string
	http    *httpClient
	now     func() time.Time
}

func NewLaBonneAlternance(cfg config.LBAConfig, env config.SourceEnv, timeout time.Duration) *LaBonneAlternance {
	return &LaBonneAlternance{
		cfg:     cfg,
		baseURL: strings.TrimRight(env.LBAAPIURL, "/"),
		apiKey:  env.LBAAPIKey,
		caller:  env.LBACaller,
		http:    newHTTPClient(models.SourceLaBonneAlternance, timeout, time.Second),
		now:     time.Now,
	}
}

func (a *LaBonneAlternance) Name() models.Source { return models.SourceLaBonneAlternance }

type lbaResponse struct {
	Jobs       []map[string]any `json:"jobs"`
	Recruiters []map[string]any `json:"recruiters"`
	Warnings   []struct {
		Message string `json:"message"`
	} `json:"warnings"`
}

// Fetch runs a radius search around the configured point and a search over
// the wanted departments, then drops records seen twice.
func (a *LaBonneAlternance) Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error) {
	if a.apiKey == "" {
		return nil, &FetchError{Source: a.Name(), Kind: KindAuth, Err: errors.New("LBA_API_KEY is not set")}
	}

	var searches []url.Values
	if a.cfg.Latitude != 0 || a.cfg.Longitude != 0 {
		q := a.baseQuery()
		q.Set("latitude", strconv.FormatFloat(a.cfg.Latitude, 'f', -1, 64))
		q.Set("longitude", strconv.FormatFloat(a.cfg.Longitude, 'f', -1, 64))
		q.Set("radius", strconv.Itoa(a.cfg.RadiusKM))
		searches = append(searches, q)
	}
	if len(c.Departments) > 0 {
		q := a.baseQuery()
		for _, d := range c.Departments {
			q.Add("departements", d)
		}
		searches = append(searches, q)
	}
	if len(searches) == 0 {
		searches = append(searches, a.baseQuery())
	}

	seen := make(map[string]bool)
	var out []models.RawOffer
	for _, q := range searches {
		resp, err := a.search(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, w := range resp.Warnings {
			slog.Warn("la bonne alternance warning", "message", w.Message)
		}
		at := a.now().UTC()
		for _, job := range resp.Jobs {
			if id := lbaID(job); id == "" || !seen[id] {
				seen[id] = true
				out = append(out, raw(a.Name(), job, at))
			}
		}
		for _, rec := range resp.Recruiters {
			if id := lbaID(rec); id == "" || !seen[id] {
				seen[id] = true
				rec["offer_type"] = string(models.OfferTypeRecruiter)
				out = append(out, raw(a.Name(), rec, at))
			}
		}
	}
	return out, nil
}

func (a *LaBonneAlternance) baseQuery() url.Values {
	q := url.Values{}
	q.Set("romes", strings.Join(a.cfg.RomeCodes, ","))
	if a.caller != "" {
		q.Set("caller", a.caller)
	}
	return q
}

func (a *LaBonneAlternance) search(ctx context.Context, q url.Values) (*lbaResponse, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	var resp lbaResponse
	u := fmt.Sprintf("%s/job/v1/search?%s", a.baseURL, q.Encode())
	if err := a.http.getJSON(ctx, u, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func lbaID(record map[string]any) string {
	ident, _ := record["identifier"].(map[string]any)
	if ident == nil {
		return ""
	}
	if id, ok := ident["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	return ""
}
