package shape

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Cast performs a representational conversion (string, number, trinary,
// document) and re-validates the result against the target type. Failures
// surface as CastError, distinct from a plain type mismatch.
func (r *Registry) Cast(v value.Value, target ast.TypeRef) (value.Value, error) {
	converted, err := r.convert(v, target)
	if err != nil {
		return value.Undefined, err
	}
	if err := r.Validate(converted, target); err != nil {
		return value.Undefined, fmt.Errorf("cast to %s: %v: %w", typeName(target), err, domain.ErrCast)
	}
	return converted, nil
}

func (r *Registry) convert(v value.Value, target ast.TypeRef) (value.Value, error) {
	if target.Kind != ast.TypeNamed {
		// Collection targets take no representational conversion; validation
		// decides whether the value already fits.
		return v, nil
	}

	switch target.Name {
	case TypeNumber:
		return toNumber(v)
	case TypeString:
		return toString(v)
	case TypeTrinary:
		return value.Of(value.Truthy(v)), nil
	default:
		// document or a shape: a string is parsed as JSON, everything else is
		// already structured.
		if v.Kind() == value.KindString {
			var raw any
			if err := json.Unmarshal([]byte(v.Str()), &raw); err != nil {
				return value.Undefined, fmt.Errorf("cast to %s: %v: %w", typeName(target), err, domain.ErrCast)
			}
			return value.FromJSON(raw), nil
		}
		return v, nil
	}
}

func toNumber(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KindNumber:
		return v, nil
	case value.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		if err != nil {
			return value.Undefined, fmt.Errorf("cast %q to number: %w", v.Str(), domain.ErrCast)
		}
		return value.Number(f), nil
	case value.KindTrinary:
		switch v.Tri() {
		case value.True:
			return value.Number(1), nil
		case value.False:
			return value.Number(0), nil
		default:
			return value.Undefined, fmt.Errorf("cast unknown to number: %w", domain.ErrCast)
		}
	default:
		return value.Undefined, fmt.Errorf("cast %s to number: %w", v.Kind(), domain.ErrCast)
	}
}

func toString(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.KindString:
		return v, nil
	case value.KindNumber:
		return value.String(strconv.FormatFloat(v.Num(), 'f', -1, 64)), nil
	case value.KindTrinary:
		return value.String(strings.ToLower(v.Tri().String())), nil
	case value.KindMap, value.KindList, value.KindRecord, value.KindDocument:
		raw, err := json.Marshal(value.ToJSON(v))
		if err != nil {
			return value.Undefined, fmt.Errorf("cast %s to string: %w", v.Kind(), domain.ErrCast)
		}
		return value.String(string(raw)), nil
	default:
		return value.Undefined, fmt.Errorf("cast %s to string: %w", v.Kind(), domain.ErrCast)
	}
}

func typeName(t ast.TypeRef) string {
	switch t.Kind {
	case ast.TypeNamed:
		return t.Name
	case ast.TypeList:
		return "list<" + typeName(t.Elems[0]) + ">"
	case ast.TypeMap:
		return "map<" + typeName(t.Elems[0]) + ">"
	case ast.TypeRecord:
		names := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			names[i] = typeName(e)
		}
		return "record<" + strings.Join(names, ", ") + ">"
	default:
		return "?"
	}
}
