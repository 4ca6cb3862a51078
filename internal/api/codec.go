package api

import "encoding/json"

// jsonCodec serializes messages as plain JSON, replacing connect's protojson
// codec under the same name so unary calls use application/json and streams
// application/connect+json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
