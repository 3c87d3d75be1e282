package mapping

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	json "github.com/goccy/go-json"
)

type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// KeyOf returns the canonical string form of an id value. Numeric ids compare
// by value regardless of their Go type, so an int64 read from a struct and a
// number decoded from a stored document produce the same key; a string "3"
// and the number 3 do not.
func KeyOf(id any) string {
	b, err := json.Marshal(NormalizeID(id))
	if err != nil {
		return fmt.Sprintf("%#v", id)
	}
	return string(b)
}

// NormalizeID folds numeric ids onto int64 (uint64 above MaxInt64, float64
// when fractional) and named string types onto string.
func NormalizeID(id any) any {
	if n, ok := id.(jsonNumber); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u
		}
		if f, err := n.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return n.String()
	}
	rv := reflect.ValueOf(id)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Bool:
		return rv.Bool()
	}
	return id
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= -(1<<63) && f < (1<<63) {
		return int64(f)
	}
	return f
}
