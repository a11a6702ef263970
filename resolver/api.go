package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/placeholder"
)

// resolveAPI issues the HTTP call described by the requirement. Placeholders
// are substituted into the URL, params, headers and body first. The response
// body is parsed as JSON when possible, otherwise returned as raw text.
//
// API failures are reported as errors here; the default fail-open policy in
// Resolve degrades them to nil so a flaky upstream never blocks evaluation
// unless the requirement opts into on_error=fail.
func (rv *Resolver) resolveAPI(ctx context.Context, req Requirement, data map[string]any) (any, error) {
	if req.URL == "" {
		return nil, enginerr.Newf(enginerr.TypeValidation, "api requirement %q has no url", req.Name)
	}

	endpoint := placeholder.Substitute(req.URL, data)

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	params, _ := placeholder.SubstituteAny(req.Params, data).(map[string]any)
	headers, _ := placeholder.SubstituteAny(req.Headers, data).(map[string]any)
	body := placeholder.SubstituteAny(req.Body, data)

	if method == http.MethodGet && len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, fmt.Sprintf("%v", v))
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}

	var reqBody io.Reader
	sendBody := body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch)
	if sendBody {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, fmt.Sprintf("%v", v))
	}
	if sendBody && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := rv.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed, nil
	}
	return string(raw), nil
}
