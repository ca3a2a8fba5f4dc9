// Package envelope implements the JSON document exchanged with the frame and face services.
//
// Binary values travel as jsonpickle byte tags ({"py/b64": "..."}), which is what the
// Python services produce and expect. On the way in a plain base64 string is accepted too.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BytesTag is the jsonpickle key used for base64 encoded byte strings.
const BytesTag = "py/b64"

// Bytes is a byte slice with an explicit transport encoding.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]string{BytesTag: base64.StdEncoding.EncodeToString(b)})
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	var encoded string
	switch {
	case len(data) > 0 && data[0] == '{':
		var tagged map[string]string
		if err := json.Unmarshal(data, &tagged); err != nil {
			return fmt.Errorf("envelope: bytes object: %w", err)
		}
		v, ok := tagged[BytesTag]
		if !ok {
			return fmt.Errorf("envelope: bytes object without %q tag", BytesTag)
		}
		encoded = v
	default:
		if err := json.Unmarshal(data, &encoded); err != nil {
			return fmt.Errorf("envelope: bytes value: %w", err)
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("envelope: base64: %w", err)
	}
	*b = decoded
	return nil
}

// Encode builds a request body: the envelope document wrapped in a JSON string literal.
func Encode(v interface{}) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(doc))
}

// Decode reads a response body into v. The body may be the envelope document itself
// or a JSON string containing it.
func Decode(body []byte, v interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Errorf("envelope: empty body")
	}
	if body[0] == '"' {
		var doc string
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("envelope: string body: %w", err)
		}
		body = []byte(doc)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	return nil
}
