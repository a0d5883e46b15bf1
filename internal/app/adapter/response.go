package adapter

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pricebridge/errs"
)

// DecodeObject parses a provider response body as a JSON object.
func DecodeObject(adapter string, resp Response) (map[string]any, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, errs.New(adapter, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("provider returned an empty body"))
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.New(adapter, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("provider returned malformed JSON"),
			errs.WithRawMessage(truncate(string(body), 256)),
			errs.WithCause(fmt.Errorf("decode response: %w", err)))
	}
	return out, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
