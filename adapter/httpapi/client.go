package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecociel/fetchq/adapter"
	"github.com/ecociel/fetchq/domain"
	"github.com/rs/zerolog"
)

// Client is a JSON-over-HTTP binding to the upstream financial-data
// service. Each task kind maps to one endpoint; the payload is posted
// verbatim as the request body.
type Client struct {
	baseURL    string
	httpClient *http.Client
	routes     map[domain.Kind]string
	log        zerolog.Logger
}

func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		routes:     make(map[domain.Kind]string),
		log:        log,
	}
	c.Route(domain.KindFetchItemMetadata, "/item/get")
	c.Route(domain.KindFetchAccounts, "/accounts/get")
	c.Route(domain.KindFetchTransactions, "/transactions/get")
	return c
}

// Route maps a task kind to an upstream endpoint path.
func (c *Client) Route(kind domain.Kind, path string) {
	c.routes[kind] = path
}

func (c *Client) Perform(ctx context.Context, kind domain.Kind, payload []byte) (adapter.Result, error) {
	path, ok := c.routes[kind]
	if !ok {
		return adapter.Result{}, domain.PermanentError("unknown_kind", fmt.Errorf("no route for kind %q", kind))
	}

	url := c.baseURL + path
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return adapter.Result{}, domain.PermanentError("invalid_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", url).Dur("elapsed", time.Since(start)).Msg("upstream request failed")
		if errors.Is(err, context.Canceled) {
			return adapter.Result{}, err
		}
		return adapter.Result{}, domain.TransientError("upstream_unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return adapter.Result{}, domain.TransientError("upstream_read", err)
	}

	c.log.Debug().Str("url", url).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("upstream request done")

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return adapter.Result{}, err
	}
	return adapter.Result{Data: body}, nil
}

func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return domain.TransientError("rate_limited", httpError(code, body))
	case code == http.StatusRequestTimeout:
		return domain.TransientError("upstream_timeout", httpError(code, body))
	case code >= 500:
		return domain.TransientError("upstream_error", httpError(code, body))
	default:
		return domain.PermanentError("invalid_request", httpError(code, body))
	}
}

func httpError(code int, body []byte) error {
	const maxExcerpt = 256
	if len(body) > maxExcerpt {
		body = body[:maxExcerpt]
	}
	return fmt.Errorf("HTTP %d: %s", code, body)
}
