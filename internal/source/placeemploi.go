package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

const defaultPEPSearchURL = "https://choisirleservicepublic.gouv.fr/nos-offres/"

// pepSelectors locate the parts of one result card on the listing page.
type pepSelectors struct {
	card      string
	link      string
	employer  string
	location  string
	published string
	reference string
}

var defaultPEPSelectors = pepSelectors{
	card:      ".fr-card",
	link:      ".fr-card__title a",
	employer:  ".fr-card__detail",
	location:  ".fr-card__location",
	published: ".fr-card__date",
	reference: "data-reference",
}

// PlaceEmploiPublic scrapes the public-sector job portal. Listing pages give
// title, employer, location and date; each offer page is then reduced to its
// readable text for the description.
type PlaceEmploiPublic struct {
	searchURL string
	maxPages  int
	timeout   time.Duration
	sel       pepSelectors
	transport *limitedTransport
	now       func() time.Time
}

func NewPlaceEmploiPublic(cfg config.PEPConfig, timeout time.Duration) *PlaceEmploiPublic {
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = defaultPEPSearchURL
	}
	return &PlaceEmploiPublic{
		searchURL: searchURL,
		maxPages:  cfg.MaxPages,
		timeout:   timeout,
		sel:       defaultPEPSelectors,
		transport: newLimitedTransport(time.Second),
		now:       time.Now,
	}
}

func (p *PlaceEmploiPublic) Name() models.Source { return models.SourcePlaceEmploiPublic }

// ctxTransport binds every request colly issues to the fetch context.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func (p *PlaceEmploiPublic) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.WithTransport(&ctxTransport{ctx: ctx, base: p.transport})
	c.SetRequestTimeout(p.timeout)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	return c
}

func (p *PlaceEmploiPublic) Fetch(ctx context.Context, _ Criteria) ([]models.RawOffer, error) {
	listing := p.collector(ctx)
	detail := p.collector(ctx)

	var (
		records []map[string]any
		byURL   = make(map[string]map[string]any)
		status  int
	)

	detail.OnResponse(func(r *colly.Response) {
		rec := byURL[r.Request.URL.String()]
		if rec == nil {
			return
		}
		article, err := readability.FromReader(bytes.NewReader(r.Body), r.Request.URL)
		if err != nil {
			slog.Debug("offer page not readable", "url", r.Request.URL.String(), "error", err)
			return
		}
		if text := strings.TrimSpace(article.TextContent); text != "" {
			rec["description"] = text
		}
	})
	detail.OnError(func(r *colly.Response, err error) {
		slog.Debug("offer page fetch failed", "url", r.Request.URL.String(), "error", err)
	})

	listing.OnHTML(p.sel.card, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.ChildAttr(p.sel.link, "href"))
		if href == "" {
			return
		}
		link := e.Request.AbsoluteURL(href)
		if _, dup := byURL[link]; dup {
			return
		}
		rec := map[string]any{
			"title":     strings.TrimSpace(e.ChildText(p.sel.link)),
			"employer":  strings.TrimSpace(e.ChildText(p.sel.employer)),
			"location":  strings.TrimSpace(e.ChildText(p.sel.location)),
			"published": strings.TrimSpace(e.ChildText(p.sel.published)),
			"url":       link,
		}
		if ref := e.Attr(p.sel.reference); ref != "" {
			rec["reference"] = ref
		}
		byURL[link] = rec
		records = append(records, rec)
		_ = detail.Visit(link)
	})
	listing.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	for page := 1; page <= max(p.maxPages, 1); page++ {
		before := len(records)
		pageURL, err := p.pageURL(page)
		if err != nil {
			return nil, &FetchError{Source: p.Name(), Kind: KindParse, Err: err}
		}
		if err := listing.Visit(pageURL); err != nil {
			if page == 1 {
				return nil, p.visitError(ctx, status, err)
			}
			slog.Warn("place emploi public page failed", "page", page, "error", err)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Source: p.Name(), Kind: KindNetwork, Err: err}
		}
		if len(records) == before {
			break
		}
	}

	at := p.now().UTC()
	out := make([]models.RawOffer, 0, len(records))
	for _, rec := range records {
		out = append(out, raw(p.Name(), rec, at))
	}
	return out, nil
}

func (p *PlaceEmploiPublic) pageURL(page int) (string, error) {
	u, err := url.Parse(p.searchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	if page > 1 {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (p *PlaceEmploiPublic) visitError(ctx context.Context, status int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	kind := KindNetwork
	if status != 0 {
		kind = kindForStatus(status)
	}
	return &FetchError{Source: p.Name(), Kind: kind, Err: err}
}
