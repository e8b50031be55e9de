package postgres

import "encoding/json"

func mustJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(bytes) == "null" {
		return nil, nil
	}
	return bytes, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
