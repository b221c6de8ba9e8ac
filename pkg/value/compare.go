package value

// Equal reports structural equality. It is total: values of different kinds
// are simply unequal, never a type error. Maps compare by key set and values,
// key order is irrelevant. Decision references compare by state and raw
// value; attachments are excluded because resolving them may run arbitrary
// expressions.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindTrinary:
		return a.tri == b.tri
	case KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindList, KindRecord:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindDocument:
		return docEqual(a.doc, b.doc)
	case KindDecision:
		return a.dec.state == b.dec.state && Equal(*a.dec.value, *b.dec.value)
	default:
		return false
	}
}

// docEqual compares two JSON-like payloads structurally.
func docEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, ae := range av {
			be, ok := bv[k]
			if !ok || !docEqual(ae, be) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !docEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := numeric(b)
		return ok && av == bv
	case int:
		bv, ok := numeric(b)
		return ok && float64(av) == bv
	case int64:
		bv, ok := numeric(b)
		return ok && float64(av) == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Ordering is the three-valued outcome of a relational comparison.
type Ordering int8

const (
	// OrderedLess means left sorts before right.
	OrderedLess Ordering = iota - 1
	// OrderedEqual means the operands compare equal.
	OrderedEqual
	// OrderedGreater means left sorts after right.
	OrderedGreater
	// Unordered means the operands are not comparable; relational operators
	// yield Unknown rather than failing, keeping comparison total.
	Unordered
)

// Compare orders two values. Numbers order numerically, strings
// lexicographically; everything else is Unordered.
func Compare(a, b Value) Ordering {
	if a.kind == KindNumber && b.kind == KindNumber {
		switch {
		case a.num < b.num:
			return OrderedLess
		case a.num > b.num:
			return OrderedGreater
		default:
			return OrderedEqual
		}
	}
	if a.kind == KindString && b.kind == KindString {
		switch {
		case a.str < b.str:
			return OrderedLess
		case a.str > b.str:
			return OrderedGreater
		default:
			return OrderedEqual
		}
	}
	return Unordered
}
