// Package value defines the closed runtime value union of the decision engine
// and the Kleene three-valued logic it computes with.
//
// Every operator over Value is total: mismatched kinds produce a defined
// result (usually False or Unknown) rather than a panic. The only documented
// runtime failures (division by zero, cast failure) live in the evaluator, not
// here.
package value

import "fmt"

// Kind discriminates the closed value union.
type Kind uint8

const (
	// KindUndefined marks absence: an unbound optional fact, a missing
	// optional field, or the no-match sentinel of first(). Distinct from the
	// Unknown trinary.
	KindUndefined Kind = iota
	// KindNull is an explicit null supplied by the caller or a document.
	KindNull
	// KindTrinary is a Kleene truth value.
	KindTrinary
	// KindNumber is a float64 number.
	KindNumber
	// KindString is a UTF-8 string.
	KindString
	// KindList is an ordered homogeneous-by-convention sequence.
	KindList
	// KindMap is a string-keyed collection; key order is irrelevant for
	// comparisons.
	KindMap
	// KindRecord is a fixed-arity heterogeneous tuple.
	KindRecord
	// KindDocument is an opaque JSON-like payload.
	KindDocument
	// KindDecision is a reference to another rule's decision, produced when a
	// rule names a sibling or imported rule. Truthiness is the decision state;
	// member access reaches state, value, and attachments.
	KindDecision
)

// String names the kind for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindTrinary:
		return "trinary"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRecord:
		return "record"
	case KindDocument:
		return "document"
	case KindDecision:
		return "decision"
	default:
		return "invalid"
	}
}

// AttachmentsFunc resolves a decision's attachments on demand. Attachments are
// evaluated lazily, only when a consumer actually reads them.
type AttachmentsFunc func() (map[string]Value, error)

type decision struct {
	state  Trinary
	value  *Value
	attach AttachmentsFunc
}

// Value is the closed tagged union of runtime values. The zero Value is
// Undefined.
type Value struct {
	kind Kind
	tri  Trinary
	num  float64
	str  string
	seq  []Value
	obj  map[string]Value
	doc  any
	dec  *decision
}

// Undefined is the absence marker.
var Undefined = Value{kind: KindUndefined}

// Null is the explicit null value.
var Null = Value{kind: KindNull}

// TrueValue and friends are the three trinary constants lifted into Value.
var (
	TrueValue    = Value{kind: KindTrinary, tri: True}
	FalseValue   = Value{kind: KindTrinary, tri: False}
	UnknownValue = Value{kind: KindTrinary, tri: Unknown}
)

// Of lifts a Trinary into a Value.
func Of(t Trinary) Value {
	return Value{kind: KindTrinary, tri: t}
}

// Bool lifts a Go bool into a definite trinary Value.
func Bool(b bool) Value {
	if b {
		return TrueValue
	}
	return FalseValue
}

// Number constructs a numeric Value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// String constructs a string Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// List constructs a list Value. The slice is owned by the Value afterwards.
func List(elems ...Value) Value {
	return Value{kind: KindList, seq: elems}
}

// Map constructs a map Value. The map is owned by the Value afterwards.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, obj: fields}
}

// Record constructs a fixed-arity tuple Value.
func Record(fields ...Value) Value {
	return Value{kind: KindRecord, seq: fields}
}

// Document wraps an opaque JSON-like payload.
func Document(doc any) Value {
	return Value{kind: KindDocument, doc: doc}
}

// Decision constructs a decision-reference value. attach may be nil when the
// decision exports no attachments.
func Decision(state Trinary, raw Value, attach AttachmentsFunc) Value {
	return Value{kind: KindDecision, dec: &decision{state: state, value: &raw, attach: attach}}
}

// Kind reports the discriminant.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether the value is the absence marker.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsNull reports whether the value is explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Tri returns the trinary payload; callers must have checked the kind.
func (v Value) Tri() Trinary { return v.tri }

// Num returns the numeric payload.
func (v Value) Num() float64 { return v.num }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Elems returns the sequence payload of a list or record.
func (v Value) Elems() []Value { return v.seq }

// Fields returns the map payload.
func (v Value) Fields() map[string]Value { return v.obj }

// Doc returns the opaque document payload.
func (v Value) Doc() any { return v.doc }

// DecisionState returns the state of a decision-reference value.
func (v Value) DecisionState() Trinary { return v.dec.state }

// DecisionValue returns the raw yielded value of a decision reference.
func (v Value) DecisionValue() Value { return *v.dec.value }

// DecisionAttachments resolves the attachments of a decision reference.
func (v Value) DecisionAttachments() (map[string]Value, error) {
	if v.dec.attach == nil {
		return map[string]Value{}, nil
	}
	return v.dec.attach()
}

// Len returns the element count for lists, maps, records, and the character
// count for strings. Other kinds report -1.
func (v Value) Len() int {
	switch v.kind {
	case KindList, KindRecord:
		return len(v.seq)
	case KindMap:
		return len(v.obj)
	case KindString:
		return len([]rune(v.str))
	default:
		return -1
	}
}

// Field resolves a member by name. Maps resolve keys; documents resolve
// object properties; decision references resolve state, value, and
// attachments. Missing members are Undefined, never an error: unresolved
// identifiers are the evaluator's concern, absent fields are not.
func (v Value) Field(name string) (Value, error) {
	switch v.kind {
	case KindMap:
		if f, ok := v.obj[name]; ok {
			return f, nil
		}
		return Undefined, nil
	case KindDocument:
		if m, ok := v.doc.(map[string]any); ok {
			if raw, ok := m[name]; ok {
				return FromJSON(raw), nil
			}
		}
		return Undefined, nil
	case KindDecision:
		switch name {
		case "state":
			return Of(v.dec.state), nil
		case "value":
			return *v.dec.value, nil
		}
		attach, err := v.DecisionAttachments()
		if err != nil {
			return Undefined, err
		}
		if a, ok := attach[name]; ok {
			return a, nil
		}
		return Undefined, nil
	default:
		return Undefined, nil
	}
}

// String renders a debug representation. Not the wire format.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindTrinary:
		return v.tri.String()
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.seq))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.obj))
	case KindRecord:
		return fmt.Sprintf("record(%d)", len(v.seq))
	case KindDocument:
		return "document"
	case KindDecision:
		return "decision(" + v.dec.state.String() + ")"
	default:
		return "invalid"
	}
}
