// Package schema defines the request and result payloads shared by adapters, transports and sinks.
package schema

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Symbols is an input parameter that may be either a single symbol or a list of symbols.
type Symbols struct {
	values []string
	list   bool
}

// Single wraps a scalar symbol.
func Single(value string) Symbols {
	return Symbols{values: []string{value}, list: false}
}

// List wraps a list of symbols. An empty list is still a list.
func List(values ...string) Symbols {
	return Symbols{values: append([]string{}, values...), list: true}
}

// IsList reports whether the parameter was supplied as a list.
func (s Symbols) IsList() bool { return s.list }

// IsZero reports whether nothing was supplied.
func (s Symbols) IsZero() bool { return !s.list && len(s.values) == 0 }

// Values returns a copy of the contained symbols.
func (s Symbols) Values() []string {
	if len(s.values) == 0 {
		return nil
	}
	return append([]string(nil), s.values...)
}

// First returns the scalar value, or the first list element.
func (s Symbols) First() string {
	if len(s.values) == 0 {
		return ""
	}
	return s.values[0]
}

func (s Symbols) String() string {
	if s.list {
		return "[" + strings.Join(s.values, ",") + "]"
	}
	return s.First()
}

// MarshalJSON emits a string for scalars and an array for lists.
func (s Symbols) MarshalJSON() ([]byte, error) {
	if s.list {
		if s.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(s.values)
	}
	if len(s.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(s.values[0])
}

// UnmarshalJSON accepts a string, a number, or an array of either.
func (s *Symbols) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Symbols{}
		return nil
	}
	if trimmed[0] == '[' {
		var raw []any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("decode symbol list: %w", err)
		}
		values := make([]string, 0, len(raw))
		for _, item := range raw {
			text, err := scalarString(item)
			if err != nil {
				return err
			}
			values = append(values, text)
		}
		*s = Symbols{values: values, list: true}
		return nil
	}
	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decode symbol: %w", err)
	}
	text, err := scalarString(raw)
	if err != nil {
		return err
	}
	*s = Single(text)
	return nil
}

// SymbolsFrom coerces a decoded JSON value into Symbols.
func SymbolsFrom(value any) (Symbols, error) {
	switch v := value.(type) {
	case nil:
		return Symbols{}, nil
	case Symbols:
		return v, nil
	case []string:
		return List(v...), nil
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			text, err := scalarString(item)
			if err != nil {
				return Symbols{}, err
			}
			values = append(values, text)
		}
		return List(values...), nil
	default:
		text, err := scalarString(v)
		if err != nil {
			return Symbols{}, err
		}
		return Single(text), nil
	}
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("unsupported symbol value of type %T", value)
	}
}
