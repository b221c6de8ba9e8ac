package config

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/arbiterhq/arbiter/pkg/ast"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Pack documents are the JSON authoring format for namespaces. Expressions
// are tagged objects discriminated by a "node" field; types are written as
// strings ("number", "list<map<string>>", shape names).

type packDoc struct {
	Namespaces []namespaceDoc `json:"namespaces"`
}

type namespaceDoc struct {
	Path     string      `json:"path"`
	Shapes   []shapeDoc  `json:"shapes"`
	Policies []policyDoc `json:"policies"`
}

type shapeDoc struct {
	Name   string     `json:"name"`
	Export bool       `json:"export"`
	With   []string   `json:"with"`
	Fields []fieldDoc `json:"fields"`
}

type fieldDoc struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Mode        string          `json:"mode"`
	Constraints []constraintDoc `json:"constraints"`
}

type constraintDoc struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

type policyDoc struct {
	Name    string      `json:"name"`
	Facts   []factDoc   `json:"facts"`
	Lets    []letDoc    `json:"lets"`
	Shapes  []shapeDoc  `json:"shapes"`
	Rules   []ruleDoc   `json:"rules"`
	Exports []exportDoc `json:"exports"`
}

type factDoc struct {
	Name     string          `json:"name"`
	As       string          `json:"as"`
	Type     string          `json:"type"`
	Optional bool            `json:"optional"`
	Default  json.RawMessage `json:"default"`
}

type letDoc struct {
	Name string          `json:"name"`
	Expr json.RawMessage `json:"expr"`
}

type ruleDoc struct {
	Name    string          `json:"name"`
	When    json.RawMessage `json:"when"`
	Default json.RawMessage `json:"default"`
	Lets    []letDoc        `json:"lets"`
	Yield   json.RawMessage `json:"yield"`
	Import  *importDoc      `json:"import"`
}

type importDoc struct {
	Rule   string         `json:"rule"`
	Policy string         `json:"policy"`
	With   []injectionDoc `json:"with"`
}

type injectionDoc struct {
	Fact string          `json:"fact"`
	Expr json.RawMessage `json:"expr"`
}

type exportDoc struct {
	Rule        string          `json:"rule"`
	Attachments []attachmentDoc `json:"attachments"`
}

type attachmentDoc struct {
	Name string          `json:"name"`
	Expr json.RawMessage `json:"expr"`
}

// ParsePack decodes one pack document into namespaces ready for loading.
func ParsePack(data []byte) ([]ast.Namespace, error) {
	var doc packDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pack: %w", err)
	}

	out := make([]ast.Namespace, 0, len(doc.Namespaces))
	for _, nd := range doc.Namespaces {
		ns, err := decodeNamespace(nd)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", nd.Path, err)
		}
		out = append(out, ns)
	}
	return out, nil
}

func decodeNamespace(nd namespaceDoc) (ast.Namespace, error) {
	if nd.Path == "" {
		return ast.Namespace{}, fmt.Errorf("namespace path must not be empty")
	}
	ns := ast.Namespace{Path: nd.Path}

	for _, sd := range nd.Shapes {
		s, err := decodeShape(sd)
		if err != nil {
			return ns, fmt.Errorf("shape %s: %w", sd.Name, err)
		}
		ns.Shapes = append(ns.Shapes, s)
	}

	for _, pd := range nd.Policies {
		p, err := decodePolicy(pd)
		if err != nil {
			return ns, fmt.Errorf("policy %s: %w", pd.Name, err)
		}
		ns.Policies = append(ns.Policies, p)
	}
	return ns, nil
}

func decodeShape(sd shapeDoc) (ast.Shape, error) {
	s := ast.Shape{Name: sd.Name, Exported: sd.Export, With: sd.With}
	for _, fd := range sd.Fields {
		typ, err := parseTypeRef(fd.Type)
		if err != nil {
			return s, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		mode, err := parseFieldMode(fd.Mode)
		if err != nil {
			return s, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		f := ast.Field{Name: fd.Name, Type: typ, Mode: mode}
		for _, cd := range fd.Constraints {
			args := make([]ast.Expr, len(cd.Args))
			for i, raw := range cd.Args {
				var payload any
				if err := json.Unmarshal(raw, &payload); err != nil {
					return s, fmt.Errorf("field %s constraint %s: %w", fd.Name, cd.Name, err)
				}
				args[i] = &ast.Literal{Value: value.FromJSON(payload)}
			}
			f.Constraints = append(f.Constraints, ast.Constraint{Name: cd.Name, Args: args})
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func decodePolicy(pd policyDoc) (ast.Policy, error) {
	p := ast.Policy{Name: pd.Name}

	for _, fd := range pd.Facts {
		typ, err := parseTypeRef(fd.Type)
		if err != nil {
			return p, fmt.Errorf("fact %s: %w", fd.Name, err)
		}
		f := ast.Fact{Name: fd.Name, Alias: fd.As, Type: typ, Optional: fd.Optional}
		if len(fd.Default) > 0 {
			e, err := decodeExpr(fd.Default)
			if err != nil {
				return p, fmt.Errorf("fact %s default: %w", fd.Name, err)
			}
			f.Default = e
		}
		p.Facts = append(p.Facts, f)
	}

	for _, ld := range pd.Lets {
		e, err := decodeExpr(ld.Expr)
		if err != nil {
			return p, fmt.Errorf("let %s: %w", ld.Name, err)
		}
		p.Lets = append(p.Lets, ast.Let{Name: ld.Name, Expr: e})
	}

	for _, sd := range pd.Shapes {
		s, err := decodeShape(sd)
		if err != nil {
			return p, fmt.Errorf("shape %s: %w", sd.Name, err)
		}
		p.Shapes = append(p.Shapes, s)
	}

	for _, rd := range pd.Rules {
		r, err := decodeRule(rd)
		if err != nil {
			return p, fmt.Errorf("rule %s: %w", rd.Name, err)
		}
		p.Rules = append(p.Rules, r)
	}

	for _, ed := range pd.Exports {
		exp := ast.Export{Rule: ed.Rule}
		for _, ad := range ed.Attachments {
			e, err := decodeExpr(ad.Expr)
			if err != nil {
				return p, fmt.Errorf("export %s attachment %s: %w", ed.Rule, ad.Name, err)
			}
			exp.Attachments = append(exp.Attachments, ast.Attachment{Name: ad.Name, Expr: e})
		}
		p.Exports = append(p.Exports, exp)
	}
	return p, nil
}

func decodeRule(rd ruleDoc) (ast.Rule, error) {
	r := ast.Rule{Name: rd.Name}

	var err error
	if len(rd.When) > 0 {
		if r.When, err = decodeExpr(rd.When); err != nil {
			return r, fmt.Errorf("when: %w", err)
		}
	}
	if len(rd.Default) > 0 {
		if r.Default, err = decodeExpr(rd.Default); err != nil {
			return r, fmt.Errorf("default: %w", err)
		}
	}
	for _, ld := range rd.Lets {
		e, err := decodeExpr(ld.Expr)
		if err != nil {
			return r, fmt.Errorf("let %s: %w", ld.Name, err)
		}
		r.Lets = append(r.Lets, ast.Let{Name: ld.Name, Expr: e})
	}
	if len(rd.Yield) > 0 {
		if r.Yield, err = decodeExpr(rd.Yield); err != nil {
			return r, fmt.Errorf("yield: %w", err)
		}
	}
	if rd.Import != nil {
		imp := &ast.Import{Rule: rd.Import.Rule, Policy: rd.Import.Policy}
		for _, ij := range rd.Import.With {
			e, err := decodeExpr(ij.Expr)
			if err != nil {
				return r, fmt.Errorf("with %s: %w", ij.Fact, err)
			}
			imp.With = append(imp.With, ast.Injection{Fact: ij.Fact, Expr: e})
		}
		r.Import = imp
	}
	return r, nil
}

// exprDoc is the superset of every expression node's fields; Node selects
// which of them matter.
type exprDoc struct {
	Node string `json:"node"`

	Value json.RawMessage `json:"value"`
	Tri   string          `json:"tri"`

	Name   string          `json:"name"`
	Base   json.RawMessage `json:"base"`
	Key    json.RawMessage `json:"key"`
	Op     string          `json:"op"`
	X      json.RawMessage `json:"x"`
	Left   json.RawMessage `json:"left"`
	Right  json.RawMessage `json:"right"`
	Cond   json.RawMessage `json:"cond"`
	Then   json.RawMessage `json:"then"`
	Else   json.RawMessage `json:"else"`
	Type   string          `json:"type"`
	Module string          `json:"module"`
	Args   json.RawMessage `json:"args"`
	Memo   *memoDoc        `json:"memo"`
	Params []string        `json:"params"`
	Body   json.RawMessage `json:"body"`
	Lets   []letDoc        `json:"lets"`
	Result json.RawMessage `json:"result"`
}

type memoDoc struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func decodeExpr(raw json.RawMessage) (ast.Expr, error) {
	var d exprDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}

	switch d.Node {
	case "lit":
		if d.Tri != "" {
			switch d.Tri {
			case "TRUE":
				return &ast.Literal{Value: value.TrueValue}, nil
			case "FALSE":
				return &ast.Literal{Value: value.FalseValue}, nil
			case "UNKNOWN":
				return &ast.Literal{Value: value.UnknownValue}, nil
			default:
				return nil, fmt.Errorf("literal tri %q", d.Tri)
			}
		}
		var payload any
		if err := json.Unmarshal(d.Value, &payload); err != nil {
			return nil, fmt.Errorf("literal value: %w", err)
		}
		return &ast.Literal{Value: value.FromJSON(payload)}, nil

	case "ident":
		if d.Name == "" {
			return nil, fmt.Errorf("ident needs a name")
		}
		return &ast.Ident{Name: d.Name}, nil

	case "member":
		base, err := decodeExpr(d.Base)
		if err != nil {
			return nil, err
		}
		return &ast.Member{Base: base, Name: d.Name}, nil

	case "index":
		base, err := decodeExpr(d.Base)
		if err != nil {
			return nil, err
		}
		key, err := decodeExpr(d.Key)
		if err != nil {
			return nil, err
		}
		return &ast.Index{Base: base, Key: key}, nil

	case "unary":
		x, err := decodeExpr(d.X)
		if err != nil {
			return nil, err
		}
		op, ok := unaryOps[d.Op]
		if !ok {
			return nil, fmt.Errorf("unary op %q", d.Op)
		}
		return &ast.Unary{Op: op, X: x}, nil

	case "binary":
		left, err := decodeExpr(d.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(d.Right)
		if err != nil {
			return nil, err
		}
		op, ok := binaryOps[d.Op]
		if !ok {
			return nil, fmt.Errorf("binary op %q", d.Op)
		}
		return &ast.Binary{Op: op, Left: left, Right: right}, nil

	case "ternary":
		cond, err := decodeExpr(d.Cond)
		if err != nil {
			return nil, err
		}
		then, err := decodeExpr(d.Then)
		if err != nil {
			return nil, err
		}
		els, err := decodeExpr(d.Else)
		if err != nil {
			return nil, err
		}
		return &ast.Ternary{Cond: cond, Then: then, Else: els}, nil

	case "elvis":
		left, err := decodeExpr(d.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(d.Right)
		if err != nil {
			return nil, err
		}
		return &ast.Elvis{Left: left, Right: right}, nil

	case "cast":
		x, err := decodeExpr(d.X)
		if err != nil {
			return nil, err
		}
		typ, err := parseTypeRef(d.Type)
		if err != nil {
			return nil, err
		}
		return &ast.Cast{X: x, Type: typ}, nil

	case "call":
		var rawArgs []json.RawMessage
		if len(d.Args) > 0 {
			if err := json.Unmarshal(d.Args, &rawArgs); err != nil {
				return nil, fmt.Errorf("call args: %w", err)
			}
		}
		args := make([]ast.Expr, len(rawArgs))
		for i, ra := range rawArgs {
			e, err := decodeExpr(ra)
			if err != nil {
				return nil, err
			}
			args[i] = e
		}
		c := &ast.Call{Module: d.Module, Name: d.Name, Args: args}
		if d.Memo != nil {
			c.Memo = &ast.Memo{TTLSeconds: d.Memo.TTLSeconds}
		}
		return c, nil

	case "lambda":
		body, err := decodeExpr(d.Body)
		if err != nil {
			return nil, err
		}
		return &ast.Lambda{Params: d.Params, Body: body}, nil

	case "block":
		var lets []ast.Let
		for _, ld := range d.Lets {
			e, err := decodeExpr(ld.Expr)
			if err != nil {
				return nil, fmt.Errorf("block let %s: %w", ld.Name, err)
			}
			lets = append(lets, ast.Let{Name: ld.Name, Expr: e})
		}
		result, err := decodeExpr(d.Result)
		if err != nil {
			return nil, err
		}
		return &ast.Block{Lets: lets, Result: result}, nil

	default:
		return nil, fmt.Errorf("unknown expression node %q", d.Node)
	}
}

var unaryOps = map[string]ast.UnaryOp{
	"not": ast.OpNot,
	"neg": ast.OpNeg,
}

var binaryOps = map[string]ast.BinaryOp{
	"and": ast.OpAnd,
	"or":  ast.OpOr,
	"add": ast.OpAdd,
	"sub": ast.OpSub,
	"mul": ast.OpMul,
	"div": ast.OpDiv,
	"mod": ast.OpMod,
	"eq":  ast.OpEq,
	"neq": ast.OpNeq,
	"lt":  ast.OpLt,
	"lte": ast.OpLte,
	"gt":  ast.OpGt,
	"gte": ast.OpGte,
}

func parseFieldMode(mode string) (ast.FieldMode, error) {
	switch mode {
	case "", "required":
		return ast.FieldRequired, nil
	case "required_non_null":
		return ast.FieldRequiredNonNull, nil
	case "optional":
		return ast.FieldOptional, nil
	default:
		return ast.FieldRequired, fmt.Errorf("field mode %q", mode)
	}
}

// parseTypeRef parses the string type syntax: a bare name, list<T>, map<T>,
// or record<T1, ..., Tn>.
func parseTypeRef(s string) (ast.TypeRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ast.TypeRef{}, fmt.Errorf("empty type")
	}

	open := strings.IndexByte(s, '<')
	if open < 0 {
		if strings.ContainsAny(s, "<>,") {
			return ast.TypeRef{}, fmt.Errorf("malformed type %q", s)
		}
		return ast.Named(s), nil
	}
	if !strings.HasSuffix(s, ">") {
		return ast.TypeRef{}, fmt.Errorf("malformed type %q", s)
	}

	head := strings.TrimSpace(s[:open])
	inner := s[open+1 : len(s)-1]
	parts, err := splitTypeArgs(inner)
	if err != nil {
		return ast.TypeRef{}, fmt.Errorf("malformed type %q: %w", s, err)
	}

	elems := make([]ast.TypeRef, len(parts))
	for i, p := range parts {
		e, err := parseTypeRef(p)
		if err != nil {
			return ast.TypeRef{}, err
		}
		elems[i] = e
	}

	switch head {
	case "list":
		if len(elems) != 1 {
			return ast.TypeRef{}, fmt.Errorf("list takes one element type, got %d", len(elems))
		}
		return ast.ListOf(elems[0]), nil
	case "map":
		if len(elems) != 1 {
			return ast.TypeRef{}, fmt.Errorf("map takes one element type, got %d", len(elems))
		}
		return ast.MapOf(elems[0]), nil
	case "record":
		if len(elems) == 0 {
			return ast.TypeRef{}, fmt.Errorf("record needs at least one element type")
		}
		return ast.RecordOf(elems...), nil
	default:
		return ast.TypeRef{}, fmt.Errorf("unknown generic type %q", head)
	}
}

// splitTypeArgs splits on top-level commas, respecting nested angle brackets.
func splitTypeArgs(s string) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	parts = append(parts, s[start:])
	for i := range parts {
		if strings.TrimSpace(parts[i]) == "" {
			return nil, fmt.Errorf("empty type argument")
		}
	}
	return parts, nil
}
