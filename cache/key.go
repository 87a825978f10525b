package cache

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Key hashes the identity of a select: its namespace, statement id, the
// rendered SQL and the bound values in order.
func Key(namespace, statement, sql string, args []any) (uint64, error) {
	d := xxhash.New()
	for _, s := range [...]string{namespace, statement, sql} {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	enc := msgpack.NewEncoder(d)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(args); err != nil {
		return 0, fmt.Errorf("cache: encode key arguments: %w", err)
	}
	return d.Sum64(), nil
}

// Encode snapshots v.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("cache: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode restores a snapshot into a new value of type t.
func Decode(data []byte, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cache: decode snapshot: %w", err)
	}
	return ptr.Elem(), nil
}
