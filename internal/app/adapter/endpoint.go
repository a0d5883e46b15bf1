package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/batch"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// Kind classifies how an endpoint obtains data.
type Kind string

const (
	// KindBatch endpoints issue one provider HTTP call per request.
	KindBatch Kind = "batch"
	// KindStream endpoints serve values pushed over a websocket subscription.
	KindStream Kind = "stream"
	// KindDirect endpoints compute their result in-process.
	KindDirect Kind = "direct"
)

// InputParam describes one request parameter.
type InputParam struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Default     string   `json:"default,omitempty"`
}

// PriceParams are the base/quote parameters shared by price endpoints.
var PriceParams = []InputParam{
	{Name: "base", Aliases: []string{"from", "coin"}, Required: true, Description: "The symbol of the currency to query"},
	{Name: "quote", Aliases: []string{"to", "market"}, Required: true, Description: "The symbol of the currency to convert to"},
}

// Params are normalised request parameters keyed by canonical name.
type Params map[string]schema.Symbols

// Scalar returns the first value of name.
func (p Params) Scalar(name string) string {
	return strings.TrimSpace(p[name].First())
}

// Pair builds the single base/quote pair carried by the params.
func (p Params) Pair(adapter string) (pair.Pair, error) {
	if p["base"].IsList() || p["quote"].IsList() {
		return pair.Pair{}, errs.Invalid(adapter, "base and quote must be single symbols for this endpoint")
	}
	out := pair.New(p.Scalar("base"), p.Scalar("quote"))
	if !out.Valid() {
		return pair.Pair{}, errs.Invalid(adapter, "base and quote are required")
	}
	return out, nil
}

// Pairs returns the cross product of the base and quote symbols, base-major, in input order.
func (p Params) Pairs(adapter string) ([]pair.Pair, error) {
	bases := p["base"].Values()
	quotes := p["quote"].Values()
	if len(bases) == 0 || len(quotes) == 0 {
		return nil, errs.Invalid(adapter, "base and quote are required")
	}
	out := make([]pair.Pair, 0, len(bases)*len(quotes))
	for _, b := range bases {
		for _, q := range quotes {
			next := pair.New(strings.TrimSpace(b), strings.TrimSpace(q))
			if !next.Valid() {
				return nil, errs.Invalid(adapter, "base and quote must not contain empty symbols")
			}
			out = append(out, next)
		}
	}
	return out, nil
}

// BatchRequest returns the base/quote batch request carried by the params.
func (p Params) BatchRequest() batch.Request {
	return batch.Request{Base: p["base"], Quote: p["quote"]}
}

// NormalizeParams resolves aliases, applies defaults and enforces required parameters.
func NormalizeParams(adapter string, defs []InputParam, raw map[string]any) (Params, error) {
	out := make(Params, len(defs))
	for _, def := range defs {
		value, found := lookupParam(raw, def)
		if !found {
			if def.Default != "" {
				out[def.Name] = schema.Single(def.Default)
				continue
			}
			if def.Required {
				return nil, errs.Invalid(adapter, "missing required parameter "+def.Name,
					errs.WithField("param", def.Name))
			}
			continue
		}
		symbols, err := schema.SymbolsFrom(value)
		if err != nil {
			return nil, errs.Invalid(adapter, "invalid parameter "+def.Name,
				errs.WithField("param", def.Name), errs.WithCause(err))
		}
		if symbols.IsZero() || (!symbols.IsList() && strings.TrimSpace(symbols.First()) == "") {
			if def.Required {
				return nil, errs.Invalid(adapter, "missing required parameter "+def.Name,
					errs.WithField("param", def.Name))
			}
			continue
		}
		out[def.Name] = symbols
	}
	return out, nil
}

func lookupParam(raw map[string]any, def InputParam) (any, bool) {
	if raw == nil {
		return nil, false
	}
	names := append([]string{def.Name}, def.Aliases...)
	for _, name := range names {
		if value, ok := raw[name]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

// Request is a provider HTTP request relative to the adapter's base URL.
type Request struct {
	Method  string
	BaseURL string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    []byte
}

// URL joins the base URL, path and query.
func (r Request) URL() string {
	base := strings.TrimSuffix(strings.TrimSpace(r.BaseURL), "/")
	path := strings.TrimSpace(r.Path)
	full := base
	switch {
	case path == "":
	case strings.HasPrefix(path, "/"):
		full = base + path
	default:
		full = base + "/" + path
	}
	if len(r.Query) > 0 {
		full += "?" + r.Query.Encode()
	}
	return full
}

// Response is a provider HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// Doer executes provider requests. Failures are *errs.E values carrying
// errs.CodeTimeout, or errs.CodeExchange with the HTTP status.
type Doer interface {
	Do(ctx context.Context, adapter string, req Request) (Response, error)
}

// Prepared is a provider call built from request params.
type Prepared struct {
	Request Request
	Params  Params
	Plan    batch.Plan
}

// BatchTransport builds one provider call and splits its answer into results.
type BatchTransport interface {
	Prepare(params Params) (Prepared, error)
	Parse(prepared Prepared, resp Response) ([]schema.Result, error)
}

// StreamHandler adapts a provider websocket feed.
type StreamHandler interface {
	// URL resolves the websocket URL and binds credentials.
	URL(ctx context.Context) (string, error)
	// Message turns one inbound frame into results. Unknown symbols are dropped.
	Message(raw []byte) ([]schema.Result, error)
	// SubscribeMessage returns the frame to send when p is added, or nil.
	SubscribeMessage(p pair.Pair) (any, error)
	// UnsubscribeMessage returns the frame to send when p is removed, or nil.
	UnsubscribeMessage(p pair.Pair) (any, error)
}

// DirectTransport produces results without the batch pipeline.
type DirectTransport interface {
	Fetch(ctx context.Context, params Params) ([]schema.Result, error)
}

// Endpoint binds a name to its parameters and exactly one transport.
type Endpoint struct {
	Name        string
	Aliases     []string
	Description string
	Params      []InputParam
	Batch       BatchTransport
	Stream      StreamHandler
	Direct      DirectTransport
}

// Kind reports which transport the endpoint uses.
func (e Endpoint) Kind() Kind {
	switch {
	case e.Stream != nil:
		return KindStream
	case e.Direct != nil:
		return KindDirect
	default:
		return KindBatch
	}
}

// Matches reports whether name selects the endpoint.
func (e Endpoint) Matches(name string) bool {
	needle := strings.ToLower(strings.TrimSpace(name))
	if strings.ToLower(e.Name) == needle {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.ToLower(alias) == needle {
			return true
		}
	}
	return false
}
