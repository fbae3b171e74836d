package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (compatible; jobhunter/1.0; +https://github.com/kiranshivaraju/jobhunter)"

// statusRateLimited is what La Bonne Alternance answers instead of 429.
const statusRateLimited = 419

// limitedTransport waits on a shared limiter before every request so one
// adapter never hammers its board, whichever client issues the request.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}

// httpClient performs JSON requests for one source and turns failures into
// *FetchError values.
type httpClient struct {
	source models.Source
	client *http.Client
}

// newHTTPClient allows one request per interval with a burst of two.
func newHTTPClient(src models.Source, timeout, interval time.Duration) *httpClient {
	return &httpClient{
		source: src,
		client: &http.Client{
			Timeout:   timeout,
			Transport: newLimitedTransport(interval),
		},
	}
}

func newLimitedTransport(interval time.Duration) *limitedTransport {
	return &limitedTransport{
		base:    http.DefaultTransport,
		limiter: rate.NewLimiter(rate.Every(interval), 2),
	}
}

func (c *httpClient) getJSON(ctx context.Context, u string, header http.Header, out any) error {
	return c.do(ctx, http.MethodGet, u, header, nil, out)
}

func (c *httpClient) postJSON(ctx context.Context, u string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return c.fail(KindParse, fmt.Errorf("encoding request: %w", err))
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return c.do(ctx, http.MethodPost, u, header, bytes.NewReader(payload), out)
}

func (c *httpClient) do(ctx context.Context, method, u string, header http.Header, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return c.fail(KindNetwork, fmt.Errorf("building request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classify(err)
	}
	defer resp.Body.Close()

	// France Travail answers 206 when more pages are available.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode == http.StatusNoContent {
			return nil
		}
		return c.statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.fail(KindParse, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func (c *httpClient) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	return c.fail(kindForStatus(resp.StatusCode), err)
}

func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests, statusRateLimited:
		return KindRateLimited
	}
	return KindNetwork
}

// classify maps transport-level errors to a fetch error.
func (c *httpClient) classify(err error) error {
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return c.fail(KindAuth, fmt.Errorf("token request: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return c.fail(KindNetwork, fmt.Errorf("request aborted: %w", err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.fail(KindNetwork, fmt.Errorf("request timeout: %w", err))
	}
	return c.fail(KindNetwork, err)
}

func (c *httpClient) fail(kind ErrorKind, err error) error {
	return &FetchError{Source: c.source, Kind: kind, Err: err}
}
