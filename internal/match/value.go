package match

import (
	"bytes"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// class returns the canonical BSON sort bracket of a type.
func class(t bsontype.Type) int {
	switch t {
	case bsontype.MinKey:
		return 1
	case bsontype.Null, bsontype.Undefined, 0:
		return 2
	case bsontype.Int32, bsontype.Int64, bsontype.Double, bsontype.Decimal128:
		return 3
	case bsontype.String, bsontype.Symbol:
		return 4
	case bsontype.EmbeddedDocument:
		return 5
	case bsontype.Array:
		return 6
	case bsontype.Binary:
		return 7
	case bsontype.ObjectID:
		return 8
	case bsontype.Boolean:
		return 9
	case bsontype.DateTime:
		return 10
	case bsontype.Timestamp:
		return 11
	case bsontype.Regex:
		return 12
	case bsontype.MaxKey:
		return 14
	default:
		return 13
	}
}

func isNumber(v bson.RawValue) bool { return class(v.Type) == 3 }

func isNull(v bson.RawValue) bool { return class(v.Type) == 2 }

// number returns v as float64 and, when exact, as int64.
func number(v bson.RawValue) (f float64, i int64, isInt bool) {
	switch v.Type {
	case bsontype.Int32:
		n := int64(v.Int32())
		return float64(n), n, true
	case bsontype.Int64:
		n := v.Int64()
		return float64(n), n, true
	case bsontype.Double:
		f = v.Double()
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return f, int64(f), true
		}
		return f, 0, false
	case bsontype.Decimal128:
		d := v.Decimal128()
		f, err := strconv.ParseFloat(d.String(), 64)
		if err != nil {
			return math.NaN(), 0, false
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return f, int64(f), true
		}
		return f, 0, false
	}
	return math.NaN(), 0, false
}

func compareNumbers(a, b bson.RawValue) int {
	af, ai, aInt := number(a)
	bf, bi, bInt := number(b)
	if aInt && bInt {
		return cmpInt(ai, bi)
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func str(v bson.RawValue) string {
	if v.Type == bsontype.Symbol {
		return v.Symbol()
	}
	return v.StringValue()
}

// Compare orders two values following the BSON comparison order.
func Compare(a, b bson.RawValue) int {
	ca, cb := class(a.Type), class(b.Type)
	if ca != cb {
		return cmpInt(int64(ca), int64(cb))
	}
	switch ca {
	case 3:
		return compareNumbers(a, b)
	case 4:
		return strings.Compare(str(a), str(b))
	case 5:
		return compareDocs(a.Document(), b.Document())
	case 6:
		return compareArrays(a.Array(), b.Array())
	case 7:
		as, ad := a.Binary()
		bs, bd := b.Binary()
		if len(ad) != len(bd) {
			return cmpInt(int64(len(ad)), int64(len(bd)))
		}
		if as != bs {
			return cmpInt(int64(as), int64(bs))
		}
		return bytes.Compare(ad, bd)
	case 8:
		ao, bo := a.ObjectID(), b.ObjectID()
		return bytes.Compare(ao[:], bo[:])
	case 9:
		ab, bb := a.Boolean(), b.Boolean()
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case 10:
		return cmpInt(a.DateTime(), b.DateTime())
	case 11:
		at, ai := a.Timestamp()
		bt, bi := b.Timestamp()
		if at != bt {
			return cmpInt(int64(at), int64(bt))
		}
		return cmpInt(int64(ai), int64(bi))
	case 12:
		ap, ao := a.Regex()
		bp, bo := b.Regex()
		if c := strings.Compare(ap, bp); c != 0 {
			return c
		}
		return strings.Compare(ao, bo)
	case 1, 2, 14:
		return 0
	}
	return bytes.Compare(a.Value, b.Value)
}

func compareDocs(a, b bson.Raw) int {
	ae, _ := a.Elements()
	be, _ := b.Elements()
	for i := 0; i < len(ae) && i < len(be); i++ {
		if c := Compare(ae[i].Value(), be[i].Value()); c != 0 {
			return c
		}
		if c := strings.Compare(ae[i].Key(), be[i].Key()); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(ae)), int64(len(be)))
}

func compareArrays(a, b bson.Raw) int {
	av, _ := a.Values()
	bv, _ := b.Values()
	for i := 0; i < len(av) && i < len(bv); i++ {
		if c := Compare(av[i], bv[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(av)), int64(len(bv)))
}

// Equal reports value equality. Numbers compare across types and embedded
// documents compare regardless of key order.
func Equal(a, b bson.RawValue) bool {
	if class(a.Type) != class(b.Type) {
		return false
	}
	switch a.Type {
	case bsontype.EmbeddedDocument:
		return equalDocs(a.Document(), b.Document())
	case bsontype.Array:
		av, _ := a.Array().Values()
		bv, _ := b.Array().Values()
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return Compare(a, b) == 0
}

func equalDocs(a, b bson.Raw) bool {
	ae, _ := a.Elements()
	be, _ := b.Elements()
	if len(ae) != len(be) {
		return false
	}
	for _, e := range ae {
		other, err := b.LookupErr(e.Key())
		if err != nil || !Equal(e.Value(), other) {
			return false
		}
	}
	return true
}

// Canonical renders v so that Equal values render identically.
func Canonical(v bson.RawValue) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v bson.RawValue) {
	switch class(v.Type) {
	case 2:
		sb.WriteString("null")
	case 3:
		f, i, isInt := number(v)
		sb.WriteString("n:")
		if isInt {
			sb.WriteString(strconv.FormatInt(i, 10))
		} else {
			sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case 4:
		sb.WriteString("s:")
		sb.WriteString(strconv.Quote(str(v)))
	case 5:
		elems, _ := v.Document().Elements()
		sort.Slice(elems, func(i, j int) bool { return elems[i].Key() < elems[j].Key() })
		sb.WriteByte('{')
		for i, e := range elems {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(e.Key()))
			sb.WriteByte(':')
			writeCanonical(sb, e.Value())
		}
		sb.WriteByte('}')
	case 6:
		vals, _ := v.Array().Values()
		sb.WriteByte('[')
		for i, e := range vals {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case 8:
		sb.WriteString("o:")
		sb.WriteString(v.ObjectID().Hex())
	case 9:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(v.Boolean()))
	case 10:
		sb.WriteString("d:")
		sb.WriteString(strconv.FormatInt(v.DateTime(), 10))
	default:
		sb.WriteString(v.Type.String())
		sb.WriteByte(':')
		sb.WriteString(v.String())
	}
}

// Key renders a document identifier as a map key. String identifiers are kept
// verbatim unless they start with '~', which marks every other type.
func Key(id bson.RawValue) string {
	if id.Type == bsontype.String {
		s := id.StringValue()
		if strings.HasPrefix(s, "~") {
			return "~" + s
		}
		return s
	}
	return "~" + Canonical(id)
}
