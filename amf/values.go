package amf

import "github.com/ossrs/go-oryx-lib/amf0"

func String(s string) Value {
	v := amf0.String(s)
	return &v
}

func Number(n float64) Value {
	v := amf0.Number(n)
	return &v
}

func Bool(b bool) Value {
	return amf0.NewBoolean(b)
}

func Null() Value {
	return amf0.NewNull()
}

// Property is a key/value pair of an object. Objects keep their properties in insertion order.
type Property struct {
	Key   string
	Value Value
}

// Object returns an AMF0 object holding props in order.
func Object(props ...Property) *amf0.Object {
	o := amf0.NewObject()
	for _, p := range props {
		o.Set(p.Key, p.Value)
	}
	return o
}

func AsString(v Value) (string, bool) {
	s, ok := v.(*amf0.String)
	if !ok || s == nil {
		return "", false
	}
	return string(*s), true
}

func AsNumber(v Value) (float64, bool) {
	n, ok := v.(*amf0.Number)
	if !ok || n == nil {
		return 0, false
	}
	return float64(*n), true
}

// IsNull reports whether v is missing, null or undefined.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	b, err := v.MarshalBinary()
	if err != nil || len(b) == 0 {
		return false
	}
	return b[0] == markerNull || b[0] == markerUndefined
}

type getter interface {
	Get(key string) amf0.Amf0
}

// Lookup returns the property key of an object or ECMA array, or nil if v has no such property.
func Lookup(v Value, key string) Value {
	g, ok := v.(getter)
	if !ok {
		return nil
	}
	return g.Get(key)
}

// LookupString returns the string property key of an object.
func LookupString(v Value, key string) (string, bool) {
	return AsString(Lookup(v, key))
}
