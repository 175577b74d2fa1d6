package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/moaterr"
)

// maxProxyTimeout is the hard ceiling on a proxied request.
const maxProxyTimeout = 30 * time.Second

const maxRedirects = 5

// Hop-by-hop headers (RFC 2616 s13.5.1). Never forwarded either way.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// strippedRequestHeaders adds the headers the proxy always recomputes.
var strippedRequestHeaders = merge(hopByHopHeaders, map[string]struct{}{
	"host":           {},
	"content-length": {},
})

// strippedResponseHeaders adds what the transport has already consumed.
var strippedResponseHeaders = merge(hopByHopHeaders, map[string]struct{}{
	"content-encoding": {},
	"content-length":   {},
})

var allowedMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {},
	http.MethodDelete: {}, http.MethodPatch: {}, http.MethodHead: {},
	http.MethodOptions: {},
}

var bodyMethods = map[string]struct{}{
	http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {},
}

func merge(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// HTTPProxyAdapter forwards agent-initiated HTTP to allowlisted external
// hosts. Every hop, including each redirect target, passes the SSRF and
// allowlist rules; hop-by-hop and credential-bearing transport headers
// are stripped in both directions.
//
// Expected params:
//
//	url     string  required; https, host on the allowlist
//	method  string  default GET; restricted verb set
//	headers map     forwarded after sanitization
//	body    any     JSON if map/list, raw bytes otherwise
//	timeout number  seconds, capped at 30
type HTTPProxyAdapter struct {
	allowlist map[string]struct{}
	logger    *slog.Logger

	clientOnce sync.Once
	client     *http.Client
}

// NewHTTPProxyAdapter creates the proxy adapter with the given exact
// hostname allowlist.
func NewHTTPProxyAdapter(allowlist map[string]struct{}) *HTTPProxyAdapter {
	return &HTTPProxyAdapter{
		allowlist: allowlist,
		logger:    slog.Default().With("component", "http_proxy_adapter"),
	}
}

// ProviderName implements Adapter.
func (a *HTTPProxyAdapter) ProviderName() string { return "http_proxy" }

// httpClient returns the shared pooled client, constructing it on first
// use. CheckRedirect re-runs the full URL validation on every hop so a
// 301/302 can never escape the allowlist.
func (a *HTTPProxyAdapter) httpClient() *http.Client {
	a.clientOnce.Do(func() {
		a.client = &http.Client{
			Timeout: maxProxyTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if _, err := ValidateURL(req.URL.String(), a.allowlist); err != nil {
					return fmt.Errorf("redirect target rejected: %w", err)
				}
				return nil
			},
		}
	})
	return a.client
}

// Execute implements Adapter.
func (a *HTTPProxyAdapter) Execute(ctx context.Context, req Request) (map[string]any, error) {
	rawURL, _ := req.Params["url"].(string)
	if rawURL == "" {
		return nil, moaterr.NewAdapterError(a.ProviderName(), "http proxy requires 'url' (string) in params", nil)
	}

	method := http.MethodGet
	if m, ok := req.Params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if _, ok := allowedMethods[method]; !ok {
		return nil, moaterr.NewAdapterError(a.ProviderName(), fmt.Sprintf("http method %q is not allowed", method), nil)
	}

	target, err := ValidateURL(rawURL, a.allowlist)
	if err != nil {
		return nil, moaterr.NewAdapterError(a.ProviderName(), err.Error(), err)
	}

	headers, err := sanitizeRequestHeaders(req.Params["headers"])
	if err != nil {
		return nil, moaterr.NewAdapterError(a.ProviderName(), err.Error(), err)
	}

	timeout := maxProxyTimeout
	if t, ok := asFloat(req.Params["timeout"]); ok && t > 0 {
		if caller := time.Duration(t * float64(time.Second)); caller < timeout {
			timeout = caller
		}
	}

	var bodyReader io.Reader
	contentType := ""
	if body, present := req.Params["body"]; present && body != nil {
		if _, admits := bodyMethods[method]; admits {
			bodyReader, contentType, err = encodeBody(body)
			if err != nil {
				return nil, moaterr.NewAdapterError(a.ProviderName(), err.Error(), err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, moaterr.NewAdapterError(a.ProviderName(), "request build failed", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	a.logger.InfoContext(ctx, "proxying http request",
		"capability_id", req.CapabilityID,
		"method", method,
		"url_host", target.Hostname(),
		"url_path", target.Path)

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		adapterErr := moaterr.NewAdapterError(a.ProviderName(), "upstream request failed", err)
		return nil, adapterErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, moaterr.NewAdapterError(a.ProviderName(), "upstream response read failed", err)
	}

	respHeaders := make(map[string]string)
	for k, vals := range resp.Header {
		if _, strip := strippedResponseHeaders[strings.ToLower(k)]; strip || len(vals) == 0 {
			continue
		}
		respHeaders[k] = vals[0]
	}

	respContentType := resp.Header.Get("Content-Type")
	var respBody any = string(raw)
	if strings.Contains(respContentType, "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			respBody = decoded
		}
	}

	a.logger.InfoContext(ctx, "http proxy response received",
		"capability_id", req.CapabilityID,
		"status_code", resp.StatusCode,
		"content_type", respContentType,
		"response_size", len(raw))

	if resp.StatusCode >= 500 {
		err := moaterr.NewAdapterError(a.ProviderName(),
			fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
		err.StatusCode = resp.StatusCode
		err.ProviderRequestID = resp.Header.Get("X-Request-Id")
		return nil, err
	}

	return map[string]any{
		"status_code":  resp.StatusCode,
		"headers":      respHeaders,
		"body":         respBody,
		"content_type": respContentType,
	}, nil
}

func sanitizeRequestHeaders(raw any) (map[string]string, error) {
	if raw == nil {
		return map[string]string{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'headers' must be a mapping")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, strip := strippedRequestHeaders[strings.ToLower(k)]; strip {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch t := body.(type) {
	case string:
		return strings.NewReader(t), "", nil
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, "", fmt.Errorf("body encode failed: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	default:
		return strings.NewReader(fmt.Sprintf("%v", t)), "", nil
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
