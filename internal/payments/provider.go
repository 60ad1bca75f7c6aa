package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

// Option configures optional adapter behavior.
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
}

// WithHTTPClient overrides the default HTTP client used for provider APIs.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithClock overrides the adapter clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(timeout time.Duration, opts []Option) options {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	o := options{
		httpClient: &http.Client{Timeout: timeout},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// apiClient is the rate limited JSON client shared by the query paths.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	headers    map[string]string
}

func newAPIClient(baseURL string, perSecond float64, httpClient *http.Client, headers map[string]string) *apiClient {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &apiClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		limiter:    rate.NewLimiter(limit, burst),
		headers:    headers,
	}
}

func (c *apiClient) configured() bool {
	return c != nil && c.baseURL != ""
}

// do sends one request and decodes a JSON response into out. A 404 is
// returned as the status with no error so callers can treat it as "unknown".
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "gateway rate limiter")
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrapf(pkgerrors.CodeGatewayUnavailable, err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "gateway unavailable")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "gateway request rejected")
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
		}
	}
	return resp.StatusCode, nil
}

// parseMinorUnits reads an amount in minor units. Fractions are rejected.
func parseMinorUnits(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount missing")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount is not a number")
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has a fractional part")
	}
	if d.IsNegative() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	return d.IntPart(), nil
}

// formatMinorUnits renders an amount the way gateways expect it.
func formatMinorUnits(amount int64) string {
	return decimal.NewFromInt(amount).StringFixed(0)
}

// stringFields flattens a decoded JSON object into canonical string values.
func stringFields(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		default:
			encoded, _ := json.Marshal(val)
			out[k] = string(encoded)
		}
	}
	return out
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback body")
	}
	if out == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "empty callback body")
	}
	return out, nil
}

func rawJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return encoded
}
