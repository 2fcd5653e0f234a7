package serialization

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// enumTable maps the members of one enum type to their names and back.
type enumTable struct {
	typ    reflect.Type
	names  map[int64]string
	values map[string]int64
}

func newEnumTable(t reflect.Type) *enumTable {
	return &enumTable{
		typ:    t,
		names:  make(map[int64]string),
		values: make(map[string]int64),
	}
}

func (e *enumTable) add(v reflect.Value, name string) {
	n := toInt64(v)
	e.names[n] = name
	e.values[name] = n
}

func toInt64(v reflect.Value) int64 {
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

func (e *enumTable) set(val reflect.Value, n int64) error {
	if val.CanInt() {
		if val.OverflowInt(n) {
			return fmt.Errorf("enum %v: value %d overflows", e.typ, n)
		}
		val.SetInt(n)
		return nil
	}
	if n < 0 || val.OverflowUint(uint64(n)) {
		return fmt.Errorf("enum %v: value %d overflows", e.typ, n)
	}
	val.SetUint(uint64(n))
	return nil
}

// encode writes the member name. Values outside the registered set keep their numeric form.
func (e *enumTable) encode(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != e.typ {
		return bsoncodec.ValueEncoderError{Name: "EnumEncodeValue", Types: []reflect.Type{e.typ}, Received: val}
	}
	if name, ok := e.names[toInt64(val)]; ok {
		return vw.WriteString(name)
	}
	return vw.WriteInt64(toInt64(val))
}

// decode accepts names (case-insensitive fallback) and legacy numeric values.
func (e *enumTable) decode(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != e.typ {
		return bsoncodec.ValueDecoderError{Name: "EnumDecodeValue", Types: []reflect.Type{e.typ}, Received: val}
	}

	switch vr.Type() {
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		if n, ok := e.values[s]; ok {
			return e.set(val, n)
		}
		for name, n := range e.values {
			if strings.EqualFold(name, s) {
				return e.set(val, n)
			}
		}
		return fmt.Errorf("enum %v: unknown member %q", e.typ, s)
	case bsontype.Int32:
		n, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		return e.set(val, int64(n))
	case bsontype.Int64:
		n, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		return e.set(val, n)
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("enum %v: non-integral value %v", e.typ, f)
		}
		return e.set(val, int64(f))
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		val.Set(reflect.Zero(e.typ))
		return nil
	default:
		return fmt.Errorf("enum %v: cannot decode BSON %v", e.typ, vr.Type())
	}
}
