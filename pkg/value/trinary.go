package value

import "strings"

// Trinary is a Kleene three-valued truth value.
type Trinary int8

const (
	// False is the definite negative truth value.
	False Trinary = iota
	// True is the definite positive truth value.
	True
	// Unknown is the indeterminate truth value.
	Unknown
)

// String renders the wire representation used in decisions.
func (t Trinary) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

// And applies the Kleene conjunction table. Short-circuiting is the
// evaluator's job; the table itself is total.
func (t Trinary) And(o Trinary) Trinary {
	if t == False || o == False {
		return False
	}
	if t == True && o == True {
		return True
	}
	return Unknown
}

// Or applies the Kleene disjunction table.
func (t Trinary) Or(o Trinary) Trinary {
	if t == True || o == True {
		return True
	}
	if t == False && o == False {
		return False
	}
	return Unknown
}

// Not applies Kleene negation. Unknown stays Unknown.
func (t Trinary) Not() Trinary {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// stringTruthiness maps a string onto a truth value. The keyword sets are
// matched after lowercasing; an empty string is False and any other
// non-keyword string is True.
func stringTruthiness(s string) Trinary {
	switch strings.ToLower(s) {
	case "":
		return False
	case "true", "1", "t":
		return True
	case "false", "0", "f":
		return False
	case "unknown", "-1", "n", "nil", "null", "undefined":
		return Unknown
	default:
		return True
	}
}

// Truthy coerces any value into a Trinary for use in boolean position.
//
// Undefined and null carry no information and coerce to Unknown. Strings are
// matched against keyword sets, numbers are False at zero, collections are
// False when empty, documents are True when non-null, and a decision reference
// contributes its state.
func Truthy(v Value) Trinary {
	switch v.kind {
	case KindUndefined, KindNull:
		return Unknown
	case KindTrinary:
		return v.tri
	case KindString:
		return stringTruthiness(v.str)
	case KindNumber:
		if v.num == 0 {
			return False
		}
		return True
	case KindList, KindRecord:
		if len(v.seq) == 0 {
			return False
		}
		return True
	case KindMap:
		if len(v.obj) == 0 {
			return False
		}
		return True
	case KindDocument:
		if v.doc == nil {
			return False
		}
		return True
	case KindDecision:
		return v.dec.state
	default:
		return Unknown
	}
}
