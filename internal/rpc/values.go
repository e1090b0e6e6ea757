package rpc

import (
	"encoding/base64"

	"google.golang.org/protobuf/types/known/structpb"
)

// NewStruct builds a struct from plain Go values. It panics only on values
// structpb cannot represent, which callers never pass.
func NewStruct(fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic("rpc: " + err.Error())
	}
	return s
}

// String returns the string field key, or "".
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Int returns the numeric field key truncated to int64.
func Int(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

// Bool returns the boolean field key.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Struct returns the nested struct field key, or nil.
func Struct(s *structpb.Struct, key string) *structpb.Struct {
	return s.GetFields()[key].GetStructValue()
}

// List returns the list field key.
func List(s *structpb.Struct, key string) []*structpb.Value {
	return s.GetFields()[key].GetListValue().GetValues()
}

// Strings returns the list field key as strings, skipping non-strings.
func Strings(s *structpb.Struct, key string) []string {
	values := List(s, key)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, sv.StringValue)
		}
	}
	return out
}

// Bytes decodes the base64 string field key. structpb encodes []byte this way.
func Bytes(s *structpb.Struct, key string) ([]byte, error) {
	v := String(s, key)
	if v == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(v)
}
