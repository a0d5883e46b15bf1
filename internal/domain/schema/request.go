package schema

import (
	"strings"

	json "github.com/goccy/go-json"
)

// AdapterRequest is the inbound job envelope: {"id": "...", "data": {"endpoint": "...", ...}}.
type AdapterRequest struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Endpoint returns the requested endpoint name, if any.
func (r AdapterRequest) Endpoint() string {
	return r.stringField("endpoint")
}

// Adapter returns the adapter name carried in the payload, if any.
func (r AdapterRequest) Adapter() string {
	return r.stringField("adapter")
}

func (r AdapterRequest) stringField(key string) string {
	if r.Data == nil {
		return ""
	}
	raw, ok := r.Data[key]
	if !ok {
		return ""
	}
	text, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(text))
}

// Response is the outbound job envelope.
type Response struct {
	JobRunID   string         `json:"jobRunID"`
	StatusCode int            `json:"statusCode"`
	Result     *float64       `json:"result,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Status     string         `json:"status,omitempty"`
	Error      *ErrorPayload  `json:"error,omitempty"`
}

// DecodeRequest parses a raw request body.
func DecodeRequest(body []byte) (AdapterRequest, error) {
	var req AdapterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return AdapterRequest{}, err
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return req, nil
}
