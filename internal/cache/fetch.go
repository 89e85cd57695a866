package cache

import (
	"context"
	"errors"
	"reflect"
)

// ErrNilCache is returned by FetchWithCache when no cache is given.
var ErrNilCache = errors.New("cache is not defined")

// FetchWithCache serves key from c when c is live and holds the key.
// Otherwise it calls fetch and stores the result if it is truthy. Empty,
// zero and nil results are returned but never cached, so fetch keeps being
// called until it produces something.
func FetchWithCache[V any](ctx context.Context, c *Cache[V], key string, fetch func(context.Context) (V, error)) (V, error) {
	var zero V
	if c == nil {
		return zero, ErrNilCache
	}

	if c.live {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	if truthy(v) {
		c.Set(key, v)
	}
	return v, nil
}

// truthy reports whether v is worth caching: not nil, not the zero value, and
// not an empty string, slice or map.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	default:
		return !rv.IsZero()
	}
}
