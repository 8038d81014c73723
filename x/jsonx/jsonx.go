// Package jsonx decodes loosely typed bus payloads into structs.
package jsonx

import "encoding/json"

// Decode fills dst from src. Raw JSON ([]byte or string) is unmarshalled;
// any other value is round-tripped through JSON. A src already of type T is
// copied directly.
func Decode[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		if v != nil {
			*dst = *v
			return nil
		}
		return json.Unmarshal([]byte("null"), dst)
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
