package nuvatis

import "fmt"

// Kind is the operation a statement performs.
type Kind uint8

// Statement kinds.
const (
	KindSelect Kind = iota + 1
	KindInsert
	KindUpdate
	KindDelete
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// IsMutation reports whether statements of this kind change data and
// therefore invalidate their namespace's cache region.
func (k Kind) IsMutation() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// ParseKind parses a kind name as used in definition files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "select", "SELECT", "Select":
		return KindSelect, nil
	case "insert", "INSERT", "Insert":
		return KindInsert, nil
	case "update", "UPDATE", "Update":
		return KindUpdate, nil
	case "delete", "DELETE", "Delete":
		return KindDelete, nil
	}
	return 0, fmt.Errorf("nuvatis: unknown statement kind %q", s)
}
