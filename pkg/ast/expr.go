// Package ast defines the typed syntax tree the engine consumes. The source
// parser lives outside this repository; it hands over these nodes with
// precedence already resolved. Nodes are plain data and never evaluated in
// place.
package ast

import "github.com/arbiterhq/arbiter/pkg/value"

// Expr is the closed interface over expression nodes.
type Expr interface {
	exprNode()
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	// OpNot is Kleene negation.
	OpNot UnaryOp = iota
	// OpNeg is arithmetic negation.
	OpNeg
)

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	// OpAnd is Kleene conjunction with short-circuit on a definite False left.
	OpAnd BinaryOp = iota
	// OpOr is Kleene disjunction with short-circuit on a definite True left.
	OpOr
	// OpAdd through OpMod are arithmetic; division by zero is a runtime error.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	// OpEq and OpNeq are total structural equality.
	OpEq
	OpNeq
	// OpLt through OpGte are relational; incomparable kinds yield Unknown.
	OpLt
	OpLte
	OpGt
	OpGte
)

// Literal is a constant value.
type Literal struct {
	Value value.Value
}

// Ident references a binding: a block let, a policy let, a fact's exposed
// name, or a sibling rule.
type Ident struct {
	Name string
}

// Member is dot-access on maps, documents, and decision references. A missing
// member yields Undefined; an unresolved base identifier is an error.
type Member struct {
	Base Expr
	Name string
}

// Index is bracket access: string keys for maps, numeric indexes for lists
// and records.
type Index struct {
	Base Expr
	Key  Expr
}

// Unary applies a unary operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// Binary applies a binary operator.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// Ternary is c ? a : b with the truthiness coercion applied to the condition.
type Ternary struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Elvis is a ?: b, yielding a when a coerces truthy and b otherwise.
type Elvis struct {
	Left  Expr
	Right Expr
}

// Cast is a representational conversion followed by re-validation against the
// target type.
type Cast struct {
	X    Expr
	Type TypeRef
}

// Memo annotates a call with memoization requested via expr! or
// expr!<seconds>. A zero TTL selects the default.
type Memo struct {
	TTLSeconds int
}

// Call invokes a builtin (empty Module) or a host-bound function. Memoization
// applies only to host functions; builtins accept the annotation as a no-op.
type Call struct {
	Module string
	Name   string
	Args   []Expr
	Memo   *Memo
}

// Lambda is a predicate or transform block passed to a collection operator.
type Lambda struct {
	Params []string
	Body   Expr
}

// Block introduces block-scoped lets around a result expression. Inner lets
// are invisible outside the block.
type Block struct {
	Lets   []Let
	Result Expr
}

func (*Literal) exprNode() {}
func (*Ident) exprNode()   {}
func (*Member) exprNode()  {}
func (*Index) exprNode()   {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}
func (*Ternary) exprNode() {}
func (*Elvis) exprNode()   {}
func (*Cast) exprNode()    {}
func (*Call) exprNode()    {}
func (*Lambda) exprNode()  {}
func (*Block) exprNode()   {}
