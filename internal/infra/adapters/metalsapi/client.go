package metalsapi

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type client struct {
	baseURL string
	apiKey  string
}

func (c client) request(path string, query url.Values) adapter.Request {
	query.Set("access_key", c.apiKey)
	header := http.Header{}
	header.Set("x-api-key", c.apiKey)
	return adapter.Request{Method: http.MethodGet, BaseURL: c.baseURL, Path: path, Query: query, Header: header}
}

// decode parses the body and surfaces the {"success": false, "error": {...}} envelope.
func decode(resp adapter.Response) (map[string]any, error) {
	payload, err := adapter.DecodeObject(Name, resp)
	if err != nil {
		return nil, err
	}
	if success, ok := payload["success"].(bool); ok && !success {
		code, _ := schema.ValueAt(payload, "error", "code")
		kind, _ := schema.ValueAt(payload, "error", "type")
		info, _ := schema.ValueAt(payload, "error", "info")
		msg := fmt.Sprint(info)
		if info == nil {
			msg = fmt.Sprint(kind)
		}
		return nil, errs.New(Name, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(msg),
			errs.WithRawCode(fmt.Sprint(code)),
			errs.WithRawMessage(fmt.Sprint(kind)))
	}
	return payload, nil
}
