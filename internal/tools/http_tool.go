package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yishaik/wotbot/internal/httpkit"
)

// redactedHeaders are never echoed back in tool results or logs.
var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
}

// responseCap bounds text bodies returned to the model.
const responseCap = 4000

// HTTPTool performs outbound HTTP requests on behalf of the model,
// restricted to an allowlist of domains.
type HTTPTool struct {
	client       *http.Client
	allowDomains []string
	logger       *slog.Logger
}

// NewHTTPTool builds the tool. allowDomains of ["*"] permits any
// domain; an empty list denies everything. Matching is by host suffix
// so "example.com" also allows "api.example.com".
func NewHTTPTool(allowDomains []string, timeout time.Duration, logger *slog.Logger) *HTTPTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &HTTPTool{
		client: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithLogger(logger),
		),
		allowDomains: allowDomains,
		logger:       logger,
	}
}

// RequestSpec describes one HTTP request from the model.
type RequestSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    any
}

// Request performs the HTTP request and returns an in-band Result:
// {ok, status, headers, data} on success with response headers
// redacted, or {ok: false, error} for disallowed methods or domains
// and transport failures.
func (t *HTTPTool) Request(ctx context.Context, spec RequestSpec) Result {
	method := strings.ToUpper(spec.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return errResult("Unsupported method %s", method)
	}
	if !t.domainAllowed(spec.URL) {
		return errResult("Domain not allowed for URL: %s", spec.URL)
	}

	target, err := url.Parse(spec.URL)
	if err != nil {
		return errResult("%v", err)
	}
	if len(spec.Params) > 0 {
		q := target.Query()
		for k, v := range spec.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch b := spec.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return errResult("encode body: %v", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return errResult("%v", err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	t.logger.Info("HTTP tool request",
		"method", method, "url", spec.URL, "headers", redactHeaderMap(spec.Headers))

	resp, err := t.client.Do(req)
	if err != nil {
		return errResult("%v", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errResult("read response: %v", err)
	}

	var data any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if jerr := json.Unmarshal(raw, &data); jerr != nil {
			data = truncateBody(raw)
		}
	} else {
		data = truncateBody(raw)
	}

	return Result{
		"ok":      true,
		"status":  resp.StatusCode,
		"headers": redactHeaders(resp.Header),
		"data":    data,
	}
}

// domainAllowed reports whether the URL's host falls under the
// configured allowlist. "*" allows everything; an empty allowlist
// denies everything.
func (t *HTTPTool) domainAllowed(rawURL string) bool {
	if len(t.allowDomains) == 0 {
		return false
	}
	if len(t.allowDomains) == 1 && t.allowDomains[0] == "*" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, d := range t.allowDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if _, secret := redactedHeaders[strings.ToLower(k)]; secret {
			out[k] = "<redacted>"
		} else {
			out[k] = h.Get(k)
		}
	}
	return out
}

func redactHeaderMap(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, secret := redactedHeaders[strings.ToLower(k)]; secret {
			out[k] = "<redacted>"
		} else {
			out[k] = v
		}
	}
	return out
}

func truncateBody(raw []byte) string {
	if len(raw) > responseCap {
		cut := responseCap
		// Keep the cut on a rune boundary.
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return string(raw)
}
