package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

const (
	smartRecruitersAPIURL  = "https://api.smartrecruiters.com/v1/companies"
	smartRecruitersJobsURL = "https://jobs.smartrecruiters.com"
	smartRecruitersPage    = 100
)

// SmartRecruiters reads the public posting API of companies hosted on
// SmartRecruiters.
type SmartRecruiters struct {
	companies []config.SmartRecruitersCompany
	queries   []string
	baseURL   string
	jobsURL   string
	http      *httpClient
	now       func() time.Time
}

func NewSmartRecruiters(cfg config.SmartRecruitersConfig, timeout time.Duration) *SmartRecruiters {
	return &SmartRecruiters{
		companies: cfg.Companies,
		queries:   cfg.Queries,
		baseURL:   smartRecruitersAPIURL,
		jobsURL:   smartRecruitersJobsURL,
		http:      newHTTPClient(models.SourceSmartRecruiters, timeout, 500*time.Millisecond),
		now:       time.Now,
	}
}

func (s *SmartRecruiters) Name() models.Source { return models.SourceSmartRecruiters }

type srPage struct {
	TotalFound int              `json:"totalFound"`
	Content    []map[string]any `json:"content"`
}

// Fetch runs every query against every company and keeps each posting
// once. A company that fails is skipped unless all of them fail.
func (s *SmartRecruiters) Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error) {
	var (
		out      []models.RawOffer
		firstErr error
		failures int
	)
	for _, company := range s.companies {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: s.Name(), Kind: KindNetwork, Err: err}
		}
		postings, err := s.company(ctx, company.ID)
		if err != nil {
			slog.Warn("smartrecruiters company fetch failed", "company", company.ID, "error", err)
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		at := s.now().UTC()
		for _, p := range postings {
			if !inFrance(p) {
				continue
			}
			if !c.Since.IsZero() && releasedBefore(p["releasedDate"], c.Since) {
				continue
			}
			s.enrich(p, company)
			out = append(out, raw(s.Name(), p, at))
		}
	}
	if failures > 0 && failures == len(s.companies) {
		return nil, firstErr
	}
	return out, nil
}

// company pages through every query for one company and drops postings
// returned by more than one query.
func (s *SmartRecruiters) company(ctx context.Context, id string) ([]map[string]any, error) {
	queries := s.queries
	if len(queries) == 0 {
		queries = []string{""}
	}

	seen := make(map[string]bool)
	var out []map[string]any
	for _, query := range queries {
		for offset := 0; ; offset += smartRecruitersPage {
			q := url.Values{}
			if query != "" {
				q.Set("q", query)
			}
			q.Set("limit", strconv.Itoa(smartRecruitersPage))
			q.Set("offset", strconv.Itoa(offset))

			var page srPage
			u := fmt.Sprintf("%s/%s/postings?%s", s.baseURL, url.PathEscape(id), q.Encode())
			if err := s.http.getJSON(ctx, u, nil, &page); err != nil {
				return nil, err
			}
			for _, p := range page.Content {
				pid := str(p["id"])
				if pid != "" && seen[pid] {
					continue
				}
				seen[pid] = true
				out = append(out, p)
			}
			if len(page.Content) == 0 || offset+len(page.Content) >= page.TotalFound {
				break
			}
		}
	}
	return out, nil
}

// enrich fills the fields the listing endpoint leaves out: the public
// posting URL, a single location line, a short summary and the contract
// type carried in custom fields.
func (s *SmartRecruiters) enrich(p map[string]any, company config.SmartRecruitersCompany) {
	comp, _ := p["company"].(map[string]any)
	if comp == nil {
		comp = map[string]any{}
		p["company"] = comp
	}
	if company.Name != "" {
		comp["name"] = company.Name
	} else if str(comp["name"]) == "" {
		comp["name"] = company.ID
	}

	if str(p["postingUrl"]) == "" {
		identifier := str(comp["identifier"])
		if identifier == "" {
			identifier = company.ID
		}
		p["postingUrl"] = fmt.Sprintf("%s/%s/%s", s.jobsURL, identifier, str(p["id"]))
	}

	if loc, ok := p["location"].(map[string]any); ok && str(loc["fullLocation"]) == "" {
		var parts []string
		for _, k := range []string{"city", "postalCode", "region"} {
			if v := str(loc[k]); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			loc["fullLocation"] = strings.Join(parts, ", ")
		}
	}

	var summary []string
	for _, k := range []string{"department", "function"} {
		if m, ok := p[k].(map[string]any); ok && str(m["label"]) != "" {
			summary = append(summary, str(m["label"]))
		}
	}
	if len(summary) > 0 {
		p["summary"] = strings.Join(summary, " - ")
	}

	fields, _ := p["customField"].([]any)
	for _, f := range fields {
		cf, ok := f.(map[string]any)
		if !ok {
			continue
		}
		label := strings.ToLower(str(cf["fieldLabel"]))
		if strings.Contains(label, "contract") || strings.Contains(label, "contrat") {
			p["contract"] = str(cf["valueLabel"])
			break
		}
	}
}

// inFrance drops postings explicitly located in another country.
func inFrance(p map[string]any) bool {
	loc, ok := p["location"].(map[string]any)
	if !ok {
		return true
	}
	country := strings.ToLower(str(loc["country"]))
	return country == "" || country == "fr"
}

// releasedBefore reports whether an RFC 3339 timestamp lies before since.
// Values that do not parse are never considered old.
func releasedBefore(v any, since time.Time) bool {
	t, err := time.Parse(time.RFC3339, str(v))
	if err != nil {
		return false
	}
	return t.Before(since)
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
