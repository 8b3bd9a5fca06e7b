package plugin

import "encoding/json"

// DecodeConfig decodes a plugin's raw config blob into a typed struct.
// An empty blob yields the zero value.
func DecodeConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
