package ast

// Walk visits every node of an expression tree in pre-order. The visitor
// returns false to skip a node's children. Used by the loader for static
// reference analysis; nil expressions are tolerated because When/Default are
// optional.
func Walk(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	switch n := e.(type) {
	case *Member:
		Walk(n.Base, visit)
	case *Index:
		Walk(n.Base, visit)
		Walk(n.Key, visit)
	case *Unary:
		Walk(n.X, visit)
	case *Binary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Ternary:
		Walk(n.Cond, visit)
		Walk(n.Then, visit)
		Walk(n.Else, visit)
	case *Elvis:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Cast:
		Walk(n.X, visit)
	case *Call:
		for _, a := range n.Args {
			Walk(a, visit)
		}
	case *Lambda:
		Walk(n.Body, visit)
	case *Block:
		for _, l := range n.Lets {
			Walk(l.Expr, visit)
		}
		Walk(n.Result, visit)
	}
}
