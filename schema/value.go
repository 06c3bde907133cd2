package schema

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrMissingValue = errors.New("missing value")
var ErrUnknownField = errors.New("unknown field")
var ErrTypeMismatch = errors.New("value type does not match component")
var ErrArraySize = errors.New("array size mismatch")

// Block is the value of a record: field name to value. Scalars are
// float64, int64, bool or string; vectors are Blocks of coordinates;
// arrays are []interface{}.
type Block = map[string]interface{}

// Encode turns a typed value of c into a document fragment.
func Encode(c *Component, v interface{}) (interface{}, error) {
	switch c.Kind {
	case KindRecord:
		return encodeRecord(c, v)
	case KindVector:
		return encodeVector(c, v)
	case KindArray:
		return encodeArray(c, v)
	case KindQuantity:
		return toFloat(c, v)
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return float64(t.UnixNano()) / float64(time.Second), nil
		}
		return toFloat(c, v)
	case KindCount:
		return toInt(c, v)
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(c, v)
		}
		return b, nil
	case KindText, KindCategory:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(c, v)
		}
		return s, nil
	}

	return nil, errors.Wrapf(ErrInvalidComponent, "%s has unknown kind %q", c.Name, c.Kind)
}

func encodeRecord(c *Component, v interface{}) (interface{}, error) {
	b, ok := v.(Block)
	if !ok {
		return nil, mismatch(c, v)
	}

	for k := range b {
		if c.Field(k) == nil {
			return nil, errors.Wrapf(ErrUnknownField, "%s has no field %s", c.Name, k)
		}
	}

	out := make(M, len(c.Fields))
	for _, f := range c.Fields {
		fv, ok := b[f.Name]
		if !ok || fv == nil {
			if f.Optional {
				continue
			}
			return nil, errors.Wrapf(ErrMissingValue, "%s.%s", c.Name, f.Name)
		}

		enc, err := Encode(f, fv)
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", c.Name)
		}

		if f.IsGeo() {
			point := enc.(M)
			if alt, ok := point["alt"]; ok {
				delete(point, "alt")
				out[altName(f.Name)] = alt
			}
		}

		out[f.Name] = enc
	}

	return out, nil
}

// encodeVector accepts a Block of coordinates or a numeric slice in
// coordinate order. Geo vectors come out as {lat, lon[, alt]}; the record
// above moves alt next to the point.
func encodeVector(c *Component, v interface{}) (interface{}, error) {
	out := make(M, len(c.Fields))

	switch tv := v.(type) {
	case Block:
		for k := range tv {
			if c.Field(k) == nil {
				return nil, errors.Wrapf(ErrUnknownField, "vector %s has no coordinate %s", c.Name, k)
			}
		}
		for _, f := range c.Fields {
			cv, ok := tv[f.Name]
			if !ok || cv == nil {
				return nil, errors.Wrapf(ErrMissingValue, "%s.%s", c.Name, f.Name)
			}
			enc, err := Encode(f, cv)
			if err != nil {
				return nil, errors.Wrapf(err, "in %s", c.Name)
			}
			out[f.Name] = enc
		}
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, mismatch(c, v)
		}
		if rv.Len() != len(c.Fields) {
			return nil, errors.Wrapf(ErrArraySize, "vector %s wants %d coordinates, got %d", c.Name, len(c.Fields), rv.Len())
		}
		for i, f := range c.Fields {
			enc, err := Encode(f, rv.Index(i).Interface())
			if err != nil {
				return nil, errors.Wrapf(err, "in %s", c.Name)
			}
			out[f.Name] = enc
		}
	}

	if c.IsGeo() {
		if alt := c.altitude(); alt != nil {
			out["alt"] = out[alt.Name]
			if alt.Name != "alt" {
				delete(out, alt.Name)
			}
		}
	}

	return out, nil
}

func encodeArray(c *Component, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, mismatch(c, v)
	}

	n := rv.Len()
	if c.Size > 0 && n != c.Size {
		return nil, errors.Wrapf(ErrArraySize, "array %s wants %d elements, got %d", c.Name, c.Size, n)
	}

	out := make([]interface{}, n)
	for i := 0; i < n; i++ {
		enc, err := Encode(c.Element, rv.Index(i).Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "%s[%d]", c.Name, i)
		}
		out[i] = enc
	}

	return out, nil
}

// Decode reads the value of c back from a stored document fragment.
func Decode(c *Component, r gjson.Result) (interface{}, error) {
	switch c.Kind {
	case KindRecord:
		return decodeRecord(c, r)
	case KindVector:
		return decodeVector(c, r, gjson.Result{})
	case KindArray:
		if !r.IsArray() {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s is not an array", c.Name)
		}
		elems := r.Array()
		if c.Size > 0 && len(elems) != c.Size {
			return nil, errors.Wrapf(ErrArraySize, "array %s wants %d elements, got %d", c.Name, c.Size, len(elems))
		}
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			v, err := Decode(c.Element, e)
			if err != nil {
				return nil, errors.Wrapf(err, "%s[%d]", c.Name, i)
			}
			out[i] = v
		}
		return out, nil
	case KindQuantity, KindTime:
		if r.Type != gjson.Number {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a number", c.Name)
		}
		return r.Float(), nil
	case KindCount:
		if r.Type != gjson.Number {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a number", c.Name)
		}
		return r.Int(), nil
	case KindBoolean:
		if r.Type != gjson.True && r.Type != gjson.False {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a boolean", c.Name)
		}
		return r.Bool(), nil
	case KindText, KindCategory:
		if r.Type != gjson.String {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s is not a string", c.Name)
		}
		return r.String(), nil
	}

	return nil, errors.Wrapf(ErrInvalidComponent, "%s has unknown kind %q", c.Name, c.Kind)
}

// DecodeBytes decodes a whole JSON document.
func DecodeBytes(c *Component, doc []byte) (interface{}, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.Wrapf(ErrTypeMismatch, "%s: invalid json", c.Name)
	}
	return Decode(c, gjson.ParseBytes(doc))
}

func decodeRecord(c *Component, r gjson.Result) (interface{}, error) {
	if !r.IsObject() {
		return nil, errors.Wrapf(ErrTypeMismatch, "%s is not an object", c.Name)
	}

	out := make(Block, len(c.Fields))
	for _, f := range c.Fields {
		fr := r.Get(f.Name)
		if !fr.Exists() || fr.Type == gjson.Null {
			if f.Optional {
				continue
			}
			return nil, errors.Wrapf(ErrMissingValue, "%s.%s", c.Name, f.Name)
		}

		var v interface{}
		var err error
		if f.IsGeo() {
			v, err = decodeVector(f, fr, r.Get(altName(f.Name)))
		} else {
			v, err = Decode(f, fr)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", c.Name)
		}

		out[f.Name] = v
	}

	return out, nil
}

func decodeVector(c *Component, r, alt gjson.Result) (interface{}, error) {
	if !r.IsObject() {
		return nil, errors.Wrapf(ErrTypeMismatch, "vector %s is not an object", c.Name)
	}

	var altComp *Component
	if c.IsGeo() {
		altComp = c.altitude()
	}

	out := make(Block, len(c.Fields))
	for _, f := range c.Fields {
		cr := r.Get(f.Name)
		if f == altComp {
			cr = alt
			if !cr.Exists() {
				cr = r.Get("alt")
			}
		}

		if !cr.Exists() {
			return nil, errors.Wrapf(ErrMissingValue, "%s.%s", c.Name, f.Name)
		}

		v, err := Decode(f, cr)
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", c.Name)
		}
		out[f.Name] = v
	}

	return out, nil
}

func mismatch(c *Component, v interface{}) error {
	return errors.Wrapf(ErrTypeMismatch, "%s %s cannot hold %T", c.Kind, c.Name, v)
}

func toFloat(c *Component, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s: %v", c.Name, err)
		}
		return f, nil
	}

	return 0, mismatch(c, v)
}

func toInt(c *Component, v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s: %d overflows int64", c.Name, n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s: %v is not integral", c.Name, n)
		}
		// float64(MaxInt64) rounds up to 2^63, which does not fit
		if n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s: %v overflows int64", c.Name, n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s: %v", c.Name, err)
		}
		return i, nil
	}

	return 0, mismatch(c, v)
}
