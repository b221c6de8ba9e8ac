package ast

// TypeKind discriminates type references.
type TypeKind int

const (
	// TypeNamed references a primitive ("trinary", "number", "string",
	// "document") or a declared shape by name.
	TypeNamed TypeKind = iota
	// TypeList is list<T>.
	TypeList
	// TypeMap is map<T> with string keys.
	TypeMap
	// TypeRecord is record<T1, ..., Tn>.
	TypeRecord
)

// TypeRef references a type in declarations and casts.
type TypeRef struct {
	Kind  TypeKind
	Name  string
	Elems []TypeRef
}

// Named builds a named type reference.
func Named(name string) TypeRef {
	return TypeRef{Kind: TypeNamed, Name: name}
}

// ListOf builds a list type reference.
func ListOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: TypeList, Elems: []TypeRef{elem}}
}

// MapOf builds a map type reference.
func MapOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: TypeMap, Elems: []TypeRef{elem}}
}

// RecordOf builds a record type reference.
func RecordOf(elems ...TypeRef) TypeRef {
	return TypeRef{Kind: TypeRecord, Elems: elems}
}

// FieldMode controls presence and nullability of a shape field.
type FieldMode int

const (
	// FieldRequired must be present; null is tolerated.
	FieldRequired FieldMode = iota
	// FieldRequiredNonNull must be present and non-null (declared with !).
	FieldRequiredNonNull
	// FieldOptional may be absent; when present it must be non-null
	// (declared with ?).
	FieldOptional
)

// Constraint attaches a named predicate with arguments to a field.
type Constraint struct {
	Name string
	Args []Expr
}

// Field is one shape field.
type Field struct {
	Name        string
	Type        TypeRef
	Mode        FieldMode
	Constraints []Constraint
}

// Shape declares a named structural type. With lists composed shapes whose
// fields are unioned in at registration time.
type Shape struct {
	Name     string
	Exported bool
	With     []string
	Fields   []Field
}

// Fact declares a typed input binding of a policy. Alias is the name the
// fact is exposed under inside rule expressions; it defaults to Name.
// Defaults are only legal on optional facts.
type Fact struct {
	Name     string
	Alias    string
	Type     TypeRef
	Optional bool
	Default  Expr
}

// ExposedName returns the identifier the fact binds to in expressions.
func (f Fact) ExposedName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Let is a single-assignment binding.
type Let struct {
	Name string
	Expr Expr
}

// Injection supplies one fact of an imported policy from an importer-side
// expression.
type Injection struct {
	Fact string
	Expr Expr
}

// Import binds a rule to another policy's exported decision. Policy is an
// absolute FQN (ns/path/policy) or a bare name resolved in the importer's
// namespace.
type Import struct {
	Rule   string
	Policy string
	With   []Injection
}

// Rule declares a decision rule: either a body (lets + yield) or an import
// clause, never both. A nil When defaults to literal True; a nil Default
// defaults to literal Unknown.
type Rule struct {
	Name    string
	Default Expr
	When    Expr
	Lets    []Let
	Yield   Expr
	Import  *Import
}

// Attachment declares auxiliary data exported alongside a decision,
// evaluated lazily in the rule's Context.
type Attachment struct {
	Name string
	Expr Expr
}

// Export marks a rule as consumable from outside the policy.
type Export struct {
	Rule        string
	Attachments []Attachment
}

// Policy is a namespace-scoped set of facts, lets, shapes, rules, and a
// non-empty export list.
type Policy struct {
	Name    string
	Facts   []Fact
	Lets    []Let
	Shapes  []Shape
	Rules   []Rule
	Exports []Export
}

// Namespace is a slash-delimited container of shapes and policies. It is the
// visibility boundary for unexported shapes.
type Namespace struct {
	Path     string
	Shapes   []Shape
	Policies []Policy
}
