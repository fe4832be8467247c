package sqlqueue

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// HeaderCodec encodes message headers into the headers column.
type HeaderCodec interface {
	Encode(headers map[string]string) ([]byte, error)
	Decode(data []byte) (map[string]string, error)
}

// MsgpackCodec stores headers as a MessagePack map. It is the default codec.
type MsgpackCodec struct{}

var _ HeaderCodec = MsgpackCodec{}

// Encode implements HeaderCodec.
func (MsgpackCodec) Encode(headers map[string]string) ([]byte, error) {
	data, err := msgpack.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: encode headers: %w", err)
	}

	return data, nil
}

// Decode implements HeaderCodec.
func (MsgpackCodec) Decode(data []byte) (map[string]string, error) {
	headers := map[string]string{}
	if len(data) == 0 {
		return headers, nil
	}
	if err := msgpack.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("sqlqueue: decode headers: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}

	return headers, nil
}

// JSONCodec stores headers as a JSON object.
type JSONCodec struct{}

var _ HeaderCodec = JSONCodec{}

// Encode implements HeaderCodec.
func (JSONCodec) Encode(headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: encode headers: %w", err)
	}

	return data, nil
}

// Decode implements HeaderCodec.
func (JSONCodec) Decode(data []byte) (map[string]string, error) {
	headers := map[string]string{}
	if len(data) == 0 {
		return headers, nil
	}
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("sqlqueue: decode headers: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}

	return headers, nil
}
