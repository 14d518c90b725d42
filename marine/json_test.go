package marine

import (
	"reflect"
	"testing"

	"github.com/marinelabs/marine-go/ittype"
)

func TestIValueToJSONScalars(t *testing.T) {
	cases := []struct {
		v    ittype.IValue
		want interface{}
	}{
		{ittype.IValue{Kind: ittype.Boolean, Bool: true}, true},
		{ittype.IValue{Kind: ittype.S32, I32: -5}, int32(-5)},
		{ittype.IValue{Kind: ittype.U64, U64: 9}, uint64(9)},
		{ittype.IValue{Kind: ittype.F64, F64: 1.5}, 1.5},
		{ittype.IValue{Kind: ittype.String, Str: "hi"}, "hi"},
	}
	for _, c := range cases {
		got, err := IValueToJSON(c.v, nil)
		if err != nil {
			t.Fatalf("IValueToJSON(%+v): %v", c.v, err)
		}
		if got != c.want {
			t.Errorf("IValueToJSON(%+v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestIValueToJSONByteArrayIsBase64(t *testing.T) {
	got, err := IValueToJSON(ittype.IValue{Kind: ittype.ByteArray, Bytes: []byte{0, 1, 2}}, nil)
	if err != nil {
		t.Fatalf("IValueToJSON: %v", err)
	}
	if got != "AAEC" {
		t.Fatalf("got %v, want base64 AAEC", got)
	}
}

func TestIValueToJSONRecordUsesFieldNames(t *testing.T) {
	rec := &ittype.IRecordType{Fields: []ittype.RecordField{{Name: "x"}, {Name: "y"}}}
	v := ittype.IValue{Kind: ittype.Record, Fields: []ittype.IValue{
		{Kind: ittype.S32, I32: 1},
		{Kind: ittype.S32, I32: 2},
	}}
	got, err := IValueToJSON(v, rec)
	if err != nil {
		t.Fatalf("IValueToJSON: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a map, got %T", got)
	}
	if m["x"] != int32(1) || m["y"] != int32(2) {
		t.Fatalf("unexpected record map: %+v", m)
	}
}

func TestIValueToJSONRecordFallsBackToPositionalKeys(t *testing.T) {
	v := ittype.IValue{Kind: ittype.Record, Fields: []ittype.IValue{{Kind: ittype.S32, I32: 7}}}
	got, err := IValueToJSON(v, nil)
	if err != nil {
		t.Fatalf("IValueToJSON: %v", err)
	}
	m := got.(map[string]interface{})
	if m["f0"] != int32(7) {
		t.Fatalf("unexpected record map: %+v", m)
	}
}

func TestJSONToIValueRoundTrip(t *testing.T) {
	it := ittype.IType{Kind: ittype.S32}
	v, err := JSONToIValue(float64(-9), it)
	if err != nil {
		t.Fatalf("JSONToIValue: %v", err)
	}
	if v.Kind != ittype.S32 || v.I32 != -9 {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestJSONToIValueByteArrayRoundTrip(t *testing.T) {
	v, err := JSONToIValue("AAEC", ittype.IType{Kind: ittype.ByteArray})
	if err != nil {
		t.Fatalf("JSONToIValue: %v", err)
	}
	if !reflect.DeepEqual(v.Bytes, []byte{0, 1, 2}) {
		t.Fatalf("got %v", v.Bytes)
	}
}

func TestJSONToIValueArrayRoundTrip(t *testing.T) {
	elem := ittype.IType{Kind: ittype.String}
	v, err := JSONToIValue([]interface{}{"a", "b"}, ittype.IType{Kind: ittype.Array, Elem: &elem})
	if err != nil {
		t.Fatalf("JSONToIValue: %v", err)
	}
	if len(v.Elems) != 2 || v.Elems[0].Str != "a" || v.Elems[1].Str != "b" {
		t.Fatalf("unexpected array: %+v", v.Elems)
	}
}

func TestJSONToIValueRecordUnsupported(t *testing.T) {
	if _, err := JSONToIValue(map[string]interface{}{}, ittype.IType{Kind: ittype.Record}); err == nil {
		t.Fatalf("expected record conversion to be rejected")
	}
}

func TestJSONToIValueTypeMismatch(t *testing.T) {
	if _, err := JSONToIValue(5, ittype.IType{Kind: ittype.String}); err == nil {
		t.Fatalf("expected a type error for a non-string JSON value")
	}
}
