package dynsql

import (
	"strings"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
)

// ParseTemplate splits SQL text into Text and Param nodes. #{path} becomes
// a bind parameter and ${path} a literal substitution. Options after a comma
// inside #{...} (for example "#{id,jdbcType=INTEGER}") are accepted and
// ignored. Malformed placeholders yield a BindingError.
func ParseTemplate(text string) (Node, error) {
	var (
		nodes []Node
		rest  = text
	)
	for {
		i := indexPlaceholder(rest)
		if i < 0 {
			break
		}
		if i > 0 {
			nodes = append(nodes, Text{Value: rest[:i]})
		}
		literal := rest[i] == '$'
		end := strings.IndexByte(rest[i+2:], '}')
		if end < 0 {
			return nil, nuvatis.NewBindingError(rest[i:min(len(rest), i+24)], "unclosed placeholder")
		}
		body := rest[i+2 : i+2+end]
		path, _, _ := strings.Cut(body, ",")
		path = strings.TrimSpace(path)
		if path == "" {
			return nil, nuvatis.NewBindingError(body, "empty placeholder")
		}
		if strings.ContainsAny(path, "{#$") {
			return nil, nuvatis.NewBindingError(path, "nested placeholder")
		}
		if err := binding.DefaultResolver().ValidatePath(path); err != nil {
			return nil, &nuvatis.BindingError{Path: path, Msg: "invalid property path", Err: err}
		}
		nodes = append(nodes, Param{Path: path, Literal: literal})
		rest = rest[i+2+end+1:]
	}
	if rest != "" {
		nodes = append(nodes, Text{Value: rest})
	}
	switch len(nodes) {
	case 0:
		return Text{}, nil
	case 1:
		return nodes[0], nil
	}
	return Mixed(nodes), nil
}

// MustParseTemplate is like ParseTemplate but panics on error. It is meant
// for templates declared in package-level variables.
func MustParseTemplate(text string) Node {
	n, err := ParseTemplate(text)
	if err != nil {
		panic(err)
	}
	return n
}

func indexPlaceholder(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if (s[i] == '#' || s[i] == '$') && s[i+1] == '{' {
			return i
		}
	}
	return -1
}
