package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	franceTravailScope = "api_offresdemploiv2 o2dsoffre"
	// franceTravailPage is the largest range the search endpoint accepts.
	franceTravailPage = 150
	// franceTravailMaxDepartments per search; larger sets are split.
	franceTravailMaxDepartments = 5
)

// FranceTravail queries the public employment service's job offer API.
// Access tokens come from the OAuth2 client credentials flow and are reused
// until they expire.
type FranceTravail struct {
	cfg     config.FranceTravailConfig
	baseURL string
	hasAuth bool
	http    *httpClient
	now     func() time.Time
}

func NewFranceTravail(cfg config.FranceTravailConfig, env config.SourceEnv, timeout time.Duration) *FranceTravail {
	creds := clientcredentials.Config{
		ClientID:     env.FranceTravailClientID,
		ClientSecret: env.FranceTravailClientSecret,
		TokenURL:     env.FranceTravailTokenURL,
		Scopes:       strings.Fields(franceTravailScope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})

	hc := newHTTPClient(models.SourceFranceTravail, timeout, 250*time.Millisecond)
	hc.client.Transport = &oauth2.Transport{
		Source: creds.TokenSource(tokenCtx),
		Base:   hc.client.Transport,
	}

	return &FranceTravail{
		cfg:     cfg,
		baseURL: strings.TrimRight(env.FranceTravailAPIURL, "/"),
		hasAuth: env.FranceTravailClientID != "" && env.FranceTravailClientSecret != "",
		http:    hc,
		now:     time.Now,
	}
}

func (f *FranceTravail) Name() models.Source { return models.SourceFranceTravail }

type ftResponse struct {
	Resultats []map[string]any `json:"resultats"`
}

// Fetch searches each group of departments and pages through the results.
// Offers listed under several departments are kept once.
func (f *FranceTravail) Fetch(ctx context.Context, c Criteria) ([]models.RawOffer, error) {
	if !f.hasAuth {
		return nil, &FetchError{Source: f.Name(), Kind: KindAuth, Err: errors.New("FRANCE_TRAVAIL_CLIENT_ID and FRANCE_TRAVAIL_CLIENT_SECRET must be set")}
	}

	seen := make(map[string]bool)
	var out []models.RawOffer
	for _, depts := range chunk(c.Departments, franceTravailMaxDepartments) {
		for page := 0; page < f.cfg.MaxPages; page++ {
			if err := ctx.Err(); err != nil {
				return nil, &FetchError{Source: f.Name(), Kind: KindNetwork, Err: err}
			}
			q := f.query(depts, c.Since)
			start := page * franceTravailPage
			q.Set("range", fmt.Sprintf("%d-%d", start, start+franceTravailPage-1))

			var resp ftResponse
			u := fmt.Sprintf("%s/v2/offres/search?%s", f.baseURL, q.Encode())
			if err := f.http.getJSON(ctx, u, nil, &resp); err != nil {
				return nil, err
			}
			at := f.now().UTC()
			for _, o := range resp.Resultats {
				id := str(o["id"])
				if id != "" && seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, raw(f.Name(), o, at))
			}
			if len(resp.Resultats) < franceTravailPage {
				break
			}
		}
	}
	return out, nil
}

func (f *FranceTravail) query(depts []string, since time.Time) url.Values {
	q := url.Values{}
	if f.cfg.Keywords != "" {
		q.Set("motsCles", f.cfg.Keywords)
	}
	if len(f.cfg.ContractNatures) > 0 {
		q.Set("natureContrat", strings.Join(f.cfg.ContractNatures, ","))
	}
	if len(depts) > 0 {
		q.Set("departement", strings.Join(depts, ","))
	}
	if !since.IsZero() {
		// Both bounds are required together.
		q.Set("minCreationDate", since.UTC().Format("2006-01-02T15:04:05Z"))
		q.Set("maxCreationDate", f.now().UTC().Format("2006-01-02T15:04:05Z"))
	}
	return q
}

// chunk splits s into groups of at most n. An empty s yields one empty
// group so callers still run a single unfiltered search.
func chunk(s []string, n int) [][]string {
	if len(s) == 0 {
		return [][]string{nil}
	}
	var out [][]string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}
