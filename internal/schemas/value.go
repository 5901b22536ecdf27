package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindBool   ValueKind = "bool"
	KindNumber ValueKind = "number"
	KindString ValueKind = "string"
	KindList   ValueKind = "list"
	KindObject ValueKind = "object"
	KindOpaque ValueKind = "opaque"
)

// Value is a tagged JSON value used for judge check results and submission
// meta. Unknown or mixed shapes are carried as KindOpaque and round-trip
// byte-identically; typed accessors cover the common kinds.
type Value struct {
	kind ValueKind
	raw  json.RawMessage
}

func BoolValue(b bool) Value {
	if b {
		return Value{kind: KindBool, raw: json.RawMessage("true")}
	}
	return Value{kind: KindBool, raw: json.RawMessage("false")}
}

func NumberValue(f float64) Value {
	raw, _ := json.Marshal(f)
	return Value{kind: KindNumber, raw: raw}
}

func StringValue(s string) Value {
	raw, _ := json.Marshal(s)
	return Value{kind: KindString, raw: raw}
}

// OpaqueValue wraps raw JSON without interpretation. Invalid JSON is rejected
// at marshal time by encoding/json, not here.
func OpaqueValue(raw json.RawMessage) Value {
	return Value{kind: KindOpaque, raw: append(json.RawMessage(nil), raw...)}
}

func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return bytes.Equal(v.raw, []byte("true")), true
}

func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Raw returns the underlying JSON verbatim.
func (v Value) Raw() json.RawMessage {
	if v.raw == nil {
		return json.RawMessage("null")
	}
	return v.raw
}

func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	v.raw = append(json.RawMessage(nil), trimmed...)
	switch trimmed[0] {
	case 'n':
		v.kind = KindNull
	case 't', 'f':
		v.kind = KindBool
	case '"':
		v.kind = KindString
	case '[':
		v.kind = KindList
	case '{':
		v.kind = KindObject
	default:
		if (trimmed[0] >= '0' && trimmed[0] <= '9') || trimmed[0] == '-' {
			v.kind = KindNumber
		} else {
			v.kind = KindOpaque
		}
	}
	return nil
}
