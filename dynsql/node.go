// Package dynsql implements the dynamic SQL template model and its renderer.
//
// A template is a tree of immutable Node values. The tree is built once at
// configuration time (see ParseTemplate for the text form of #{} and ${}
// placeholders) and rendered many times against different parameter objects.
// Nodes form a closed set; every concern (rendering, validation, include
// resolution) is one recursive function switching over the node types.
//
// # Nodes
//
//   - Text: literal SQL.
//   - Param: #{path} bind placeholder, or ${path} literal substitution when
//     Literal is set. Literal values are validated as identifiers.
//   - If: renders its children when Test is true.
//   - Choose: renders the first When whose Test is true, else Otherwise.
//   - Where, Set, Trim: clause builders that add a keyword and strip one
//     leading connective or trailing separator.
//   - ForEach: renders its children once per collection element.
//   - Include: reference to a fragment, replaced at configuration time.
//   - Bind: evaluates an expression into a named scope variable.
//   - Mixed: ordered list of nodes.
//
// # Conditions
//
// Test and Bind expressions use the CEL language evaluated over the
// parameter object's properties, e.g.
//
//	name != null && name != ''
//	age >= 18 || role == 'admin'
//	size(ids) > 0
//
// OGNL style "and" and "or" connectives are accepted and rewritten to && and
// ||. Missing properties evaluate to null.
package dynsql

// Node is an element of a dynamic SQL template. The set of node types is
// closed; Node values are immutable once built.
type Node interface {
	node()
}

// Text is literal SQL text.
type Text struct {
	Value string
}

// Param is a parameter reference. A bind parameter renders as a positional
// placeholder; a literal parameter substitutes its validated value.
type Param struct {
	Path    string
	Literal bool
	// Allowed restricts literal values to an explicit allow-list matched
	// case-insensitively.
	Allowed []string
	// Constant marks a literal whose value is fixed at configuration time.
	// It informs static analysis only; the value is still validated.
	Constant bool
}

// If renders Children when Test evaluates to true.
type If struct {
	Test     string
	Children []Node
}

// Choose renders the first When whose Test holds, or Otherwise when none
// does. A nil Otherwise renders nothing.
type Choose struct {
	When      []If
	Otherwise []Node
}

// Where renders its children prefixed by WHERE, with one leading AND or OR
// removed. Nothing is rendered when the children render empty.
type Where struct {
	Children []Node
}

// Set renders its children prefixed by SET, with one trailing comma removed.
type Set struct {
	Children []Node
}

// Trim is the general clause builder: the first matching prefix override is
// removed from the content and the first matching suffix override from its
// end, then Prefix and Suffix are added.
type Trim struct {
	Prefix          string
	Suffix          string
	PrefixOverrides []string
	SuffixOverrides []string
	Children        []Node
}

// ForEach renders Children for each element of the collection at path
// Collection, binding the element to Item and its position (or map key) to
// Index. Rendered elements are joined by Separator and wrapped by Open and
// Close.
type ForEach struct {
	Collection string
	Item       string
	Index      string
	Open       string
	Close      string
	Separator  string
	Children   []Node
}

// Include references a fragment by id. Includes are resolved once when the
// configuration is built; rendering an unresolved Include fails.
type Include struct {
	RefID string
}

// Bind evaluates Value and exposes the result under Name to the nodes that
// follow it.
type Bind struct {
	Name  string
	Value string
}

// Mixed is an ordered composite of nodes.
type Mixed []Node

func (Text) node()    {}
func (Param) node()   {}
func (If) node()      {}
func (Choose) node()  {}
func (Where) node()   {}
func (Set) node()     {}
func (Trim) node()    {}
func (ForEach) node() {}
func (Include) node() {}
func (Bind) node()    {}
func (Mixed) node()   {}

// Wrap returns nodes as a single Node.
func Wrap(nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return Mixed(nodes)
}
