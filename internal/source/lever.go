package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const leverAPIURL = "https://api.lever.co/v0/postings"

// Lever reads the public postings API of companies hosted on Lever.
type Lever struct {
	companies []string
	baseURL   string
	http      *httpClient
	now       func() time.Time
}

func NewLever(cfg config.LeverConfig, timeout time.Duration) *Lever {
	return &Lever{
		companies: cfg.Companies,
		baseURL:   leverAPIURL,
		http:      newHTTPClient(models.SourceLever, timeout, 500*time.Millisecond),
		now:       time.Now,
	}
}

func (l *Lever) Name() models.Source { return models.SourceLever }

// Fetch lists every company's postings. A company that fails is skipped
// unless all of them fail.
func (l *Lever) Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error) {
	var (
		out      []models.RawOffer
		firstErr error
		failures int
	)
	for _, slug := range l.companies {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: l.Name(), Kind: KindNetwork, Err: err}
		}
		postings, err := l.company(ctx, slug)
		if err != nil {
			slog.Warn("lever company fetch failed", "company", slug, "error", err)
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		at := l.now().UTC()
		name := companyName(slug)
		for _, p := range postings {
			if !c.Since.IsZero() && postedBefore(p["createdAt"], c.Since) {
				continue
			}
			if _, ok := p["company"]; !ok {
				p["company"] = name
			}
			out = append(out, raw(l.Name(), p, at))
		}
	}
	if failures > 0 && failures == len(l.companies) {
		return nil, firstErr
	}
	return out, nil
}

func (l *Lever) company(ctx context.Context, slug string) ([]map[string]any, error) {
	var postings []map[string]any
	u := fmt.Sprintf("%s/%s?mode=json", l.baseURL, url.PathEscape(slug))
	if err := l.http.getJSON(ctx, u, nil, &postings); err != nil {
		return nil, err
	}
	return postings, nil
}

// companyName turns a Lever site slug such as "societe-generale" into a
// display name.
func companyName(slug string) string {
	return cases.Title(language.French).String(strings.ReplaceAll(slug, "-", " "))
}

// postedBefore reports whether an epoch-millis value lies before since.
// Values that are not numbers are never considered old.
func postedBefore(v any, since time.Time) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	ms, err := n.Int64()
	if err != nil {
		return false
	}
	return time.UnixMilli(ms).Before(since)
}
