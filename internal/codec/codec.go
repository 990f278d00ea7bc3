package codec

import (
	jsoniter "github.com/json-iterator/go"
)

// Codec turns typed values into wire bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec encodes with per-field struct tags. Nil pointers and interfaces
// tagged omitempty are left out instead of being written as null.
type JSONCodec struct {
	api jsoniter.API
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := c.api.Marshal(v)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}
