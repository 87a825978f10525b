package dynsql

import (
	"slices"
	"strings"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
)

// Fragments holds reusable SQL fragments and replaces Include nodes with
// their content. Fragments are registered under "namespace.id". A reference
// is looked up in the including namespace first, then as a qualified id.
//
// Fragments is not safe for concurrent use; it is meant to be used while
// building the configuration.
type Fragments struct {
	nodes    map[string]Node
	resolved map[string]Node
}

// NewFragments returns an empty fragment set.
func NewFragments() *Fragments {
	return &Fragments{
		nodes:    make(map[string]Node),
		resolved: make(map[string]Node),
	}
}

// Add registers a fragment. Registering the same qualified id twice is a
// configuration error.
func (f *Fragments) Add(namespace, id string, n Node) error {
	qid := Qualify(namespace, id)
	if _, ok := f.nodes[qid]; ok {
		return nuvatis.NewConfigurationError(qid, "duplicate fragment id")
	}
	f.nodes[qid] = n
	return nil
}

// Len returns the number of registered fragments.
func (f *Fragments) Len() int { return len(f.nodes) }

// ResolveAll resolves every registered fragment, reporting unresolved
// references and cycles even for fragments no statement includes.
func (f *Fragments) ResolveAll() error {
	ids := make([]string, 0, len(f.nodes))
	for id := range f.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := f.fragment(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns root with every Include replaced by the referenced
// fragment, recursively. The result contains no Include nodes.
func (f *Fragments) Resolve(namespace string, root Node) (Node, error) {
	return f.rewrite(namespace, root, nil)
}

func (f *Fragments) lookup(namespace, ref string) (string, bool) {
	if namespace != "" {
		qid := Qualify(namespace, ref)
		if _, ok := f.nodes[qid]; ok {
			return qid, true
		}
	}
	_, ok := f.nodes[ref]
	return ref, ok
}

// fragment returns the resolved content of fragment qid. stack holds the
// fragments being resolved on the current path.
func (f *Fragments) fragment(qid string, stack []string) (Node, error) {
	if n, ok := f.resolved[qid]; ok {
		return n, nil
	}
	if i := slices.Index(stack, qid); i >= 0 {
		chain := append(slices.Clone(stack[i:]), qid)
		return nil, nuvatis.NewCycleError(stack[i], "include", chain)
	}
	ns, _ := SplitID(qid)
	n, err := f.rewrite(ns, f.nodes[qid], append(stack, qid))
	if err != nil {
		return nil, err
	}
	f.resolved[qid] = n
	return n, nil
}

func (f *Fragments) rewrite(namespace string, n Node, stack []string) (Node, error) {
	children := func(nodes []Node) ([]Node, error) {
		if nodes == nil {
			return nil, nil
		}
		out := make([]Node, len(nodes))
		for i, c := range nodes {
			r, err := f.rewrite(namespace, c, stack)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	var err error
	switch n := n.(type) {
	case Include:
		qid, ok := f.lookup(namespace, n.RefID)
		if !ok {
			subject := namespace
			if len(stack) > 0 {
				subject = stack[len(stack)-1]
			}
			return nil, nuvatis.NewConfigurationError(subject, "unresolved fragment %q", n.RefID)
		}
		return f.fragment(qid, stack)
	case If:
		n.Children, err = children(n.Children)
		return n, err
	case Choose:
		when := make([]If, len(n.When))
		for i, w := range n.When {
			if w.Children, err = children(w.Children); err != nil {
				return nil, err
			}
			when[i] = w
		}
		n.When = when
		n.Otherwise, err = children(n.Otherwise)
		return n, err
	case Where:
		n.Children, err = children(n.Children)
		return n, err
	case Set:
		n.Children, err = children(n.Children)
		return n, err
	case Trim:
		n.Children, err = children(n.Children)
		return n, err
	case ForEach:
		n.Children, err = children(n.Children)
		return n, err
	case Mixed:
		out, err := children(n)
		return Mixed(out), err
	}
	return n, nil
}

// Qualify joins a namespace and an id. An empty namespace leaves id as is.
func Qualify(namespace, id string) string {
	if namespace == "" {
		return id
	}
	return namespace + "." + id
}

// SplitID splits a qualified id at its last dot.
func SplitID(qid string) (namespace, id string) {
	i := strings.LastIndexByte(qid, '.')
	if i < 0 {
		return "", qid
	}
	return qid[:i], qid[i+1:]
}

// Includes returns the fragment references of the tree in document order.
func Includes(root Node) []string {
	var refs []string
	Walk(root, func(n Node) bool {
		if inc, ok := n.(Include); ok {
			refs = append(refs, inc.RefID)
		}
		return true
	})
	return refs
}

// Walk calls fn for every node of the tree in depth-first order. Children
// are skipped when fn returns false.
func Walk(root Node, fn func(Node) bool) {
	if root == nil || !fn(root) {
		return
	}
	walkAll := func(nodes []Node) {
		for _, c := range nodes {
			Walk(c, fn)
		}
	}
	switch n := root.(type) {
	case If:
		walkAll(n.Children)
	case Choose:
		for _, w := range n.When {
			Walk(w, fn)
		}
		walkAll(n.Otherwise)
	case Where:
		walkAll(n.Children)
	case Set:
		walkAll(n.Children)
	case Trim:
		walkAll(n.Children)
	case ForEach:
		walkAll(n.Children)
	case Mixed:
		walkAll(n)
	}
}

// Validate checks a resolved tree once at configuration time: expressions
// must compile, paths must be well formed and no Include may remain.
func Validate(subject string, root Node) error {
	var err error
	fail := func(format string, a ...any) bool {
		err = nuvatis.NewConfigurationError(subject, format, a...)
		return false
	}
	Walk(root, func(n Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case Param:
			if perr := binding.DefaultResolver().ValidatePath(n.Path); perr != nil {
				return fail("parameter: %v", perr)
			}
		case If:
			if _, cerr := Compile(n.Test); cerr != nil {
				return fail("condition: %v", cerr)
			}
		case ForEach:
			if n.Collection == "" {
				return fail("foreach without collection")
			}
			if perr := binding.DefaultResolver().ValidatePath(n.Collection); perr != nil {
				return fail("foreach collection: %v", perr)
			}
		case Bind:
			if perr := binding.DefaultResolver().ValidatePath(n.Name); perr != nil || strings.ContainsAny(n.Name, ".[") {
				return fail("bind name %q is not an identifier", n.Name)
			}
			if _, cerr := Compile(n.Value); cerr != nil {
				return fail("bind %s: %v", n.Name, cerr)
			}
		case Include:
			return fail("unresolved include %q", n.RefID)
		}
		return true
	})
	return err
}
