package decoder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// StringDecoder renders the payload as UTF-8 text
func StringDecoder() *Decoder {
	return &Decoder{
		ID:   "string",
		Name: "String",
		Decode: func(_ context.Context, _ string, payload []byte) (interface{}, error) {
			return string(payload), nil
		},
	}
}

// JSONDecoder parses the payload as a JSON document
func JSONDecoder() *Decoder {
	return &Decoder{
		ID:   "json",
		Name: "JSON",
		Decode: func(_ context.Context, _ string, payload []byte) (interface{}, error) {
			if len(payload) == 0 {
				return nil, nil
			}
			var v interface{}
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, fmt.Errorf("json decode: %w", err)
			}
			return v, nil
		},
	}
}

// Base64Decoder renders binary payloads as standard base64
func Base64Decoder() *Decoder {
	return &Decoder{
		ID:   "base64",
		Name: "Base64",
		Decode: func(_ context.Context, _ string, payload []byte) (interface{}, error) {
			return base64.StdEncoding.EncodeToString(payload), nil
		},
	}
}
