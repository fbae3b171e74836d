package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

const defaultLinkSelector = `a[href*="/job"], a[href*="/offre"], a[href*="/career"]`

// Link is one anchor found on a rendered page.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Renderer loads a page, runs its scripts and returns the anchors matching
// selector.
type Renderer interface {
	Links(ctx context.Context, pageURL, selector string) ([]Link, error)
}

// ChromeRenderer drives a headless Chrome through the DevTools protocol.
type ChromeRenderer struct {
	ExecPath string
	// Settle is how long scripts get to populate the page after load.
	Settle time.Duration
}

func (r *ChromeRenderer) Links(ctx context.Context, pageURL, selector string) ([]Link, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(a => ({
		title: (a.innerText || a.textContent || "").trim(),
		url: a.href
	}))`, sel)

	var links []Link
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.Settle),
		chromedp.Evaluate(script, &links),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return links, nil
}

// CareerPage collects offer links from company career sites that build
// their listings client-side.
type CareerPage struct {
	pages    []config.CareerPageConfig
	renderer Renderer
	now      func() time.Time
}

func NewCareerPage(pages []config.CareerPageConfig, r Renderer) *CareerPage {
	return &CareerPage{pages: pages, renderer: r, now: time.Now}
}

func (c *CareerPage) Name() models.Source { return models.SourceCareerPage }

// Fetch renders every configured page. A page that fails is skipped unless
// all of them fail.
func (c *CareerPage) Fetch(ctx context.Context, _ Criteria) ([]models.RawOffer, error) {
	var (
		out      []models.RawOffer
		firstErr error
		failures int
	)
	seen := make(map[string]bool)
	for _, page := range c.pages {
		selector := page.LinkSelector
		if selector == "" {
			selector = defaultLinkSelector
		}
		links, err := c.renderer.Links(ctx, page.URL, selector)
		if err != nil {
			slog.Warn("career page fetch failed", "company", page.Company, "url", page.URL, "error", err)
			failures++
			if firstErr == nil {
				firstErr = &FetchError{Source: c.Name(), Kind: KindNetwork, Err: err}
			}
			continue
		}
		at := c.now().UTC()
		for _, l := range links {
			title := strings.Join(strings.Fields(l.Title), " ")
			if title == "" || l.URL == "" || seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			out = append(out, raw(c.Name(), map[string]any{
				"title":   title,
				"company": page.Company,
				"url":     l.URL,
			}, at))
		}
	}
	if failures > 0 && failures == len(c.pages) {
		return nil, firstErr
	}
	return out, nil
}
