package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpGetJSON performs a GET and decodes the JSON body into out. Status
// codes map onto the error taxonomy so chains can classify without knowing
// which upstream answered.
func httpGetJSON(ctx context.Context, client *http.Client, providerName, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FatalErr(providerName, "build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return TransientErr(providerName, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return NotFoundErr(providerName, "upstream returned 404")
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(providerName, "upstream returned 429", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Unconfigured(providerName, fmt.Sprintf("upstream rejected credentials (%d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return TransientErr(providerName, fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	default:
		return FatalErr(providerName, fmt.Sprintf("upstream returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return TransientErr(providerName, "read body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return TransientErr(providerName, "decode body", err)
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
