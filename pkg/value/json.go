package value

// FromJSON converts a decoded JSON payload (the shape produced by
// encoding/json or goccy/go-json into any) to a Value. Objects become maps,
// arrays become lists, booleans become definite trinaries, and null becomes
// the explicit Null value.
func FromJSON(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = FromJSON(e)
		}
		return List(elems...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromJSON(e)
		}
		return Map(fields)
	default:
		return Document(t)
	}
}

// ToJSON converts a Value to a JSON-marshalable payload matching the wire
// contract: trinaries become their TRUE/FALSE/UNKNOWN strings, undefined and
// null both marshal as null, and decision references flatten to their state
// and raw value.
func ToJSON(v Value) any {
	switch v.kind {
	case KindUndefined, KindNull:
		return nil
	case KindTrinary:
		return v.tri.String()
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindList, KindRecord:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = ToJSON(e)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = ToJSON(e)
		}
		return out
	case KindDocument:
		return v.doc
	case KindDecision:
		return map[string]any{
			"state": v.dec.state.String(),
			"value": ToJSON(*v.dec.value),
		}
	default:
		return nil
	}
}
