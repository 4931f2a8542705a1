package ingest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// requestTimeout is the default HTTP client deadline for a single ingest
// request.
const requestTimeout = 30 * time.Second

// httpResponse is the trio of fields the rest of this package needs out
// of a round trip: status, headers (lower-cased keys, single value each —
// sufficient for the content-type sniff this package performs), and body.
type httpResponse struct {
	status  int
	headers map[string]string
	body    string
}

// doRequest performs one HTTP round trip. method/params/body are applied
// exactly as named; a non-GET request with a non-empty body sends it as
// the request body, matching the original's "only non-GET requests carry
// a body" rule.
func doRequest(ctx context.Context, client *http.Client, method, rawURL string, headers, params map[string]string, body string) (httpResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return httpResponse{}, errors.Wrap(err, "ingest: parse endpoint url")
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var reqBody io.Reader
	if method != http.MethodGet && body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return httpResponse{}, errors.Wrap(err, "ingest: build request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return httpResponse{}, errors.Wrap(err, "ingest: http request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResponse{}, errors.Wrap(err, "ingest: read response body")
	}

	hdrs := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		hdrs[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return httpResponse{status: resp.StatusCode, headers: hdrs, body: string(data)}, nil
}

// isCSVFormat decides whether a response should be parsed as CSV:
// an explicit cfg.Parse of "csv" wins, then response content-type, then a
// format/FORMAT query param.
func isCSVFormat(resp httpResponse, params map[string]string, cfg *Config) bool {
	hint := strings.ToLower(strings.TrimSpace(cfg.Parse))
	if hint == "csv" {
		return true
	}
	ct := strings.ToLower(resp.headers["content-type"])
	if strings.Contains(ct, "text/csv") || strings.Contains(ct, "application/csv") || strings.Contains(ct, "csv") {
		return true
	}
	fmtParam := strings.ToLower(strings.TrimSpace(firstNonEmpty(params["format"], params["FORMAT"])))
	return fmtParam == "csv"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func maskParams(params map[string]string) map[string]string {
	masked := make(map[string]string, len(params))
	for k, v := range params {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "secret") ||
			strings.Contains(lk, "password") || strings.Contains(lk, "auth") {
			masked[k] = "***"
		} else {
			masked[k] = v
		}
	}
	return masked
}
