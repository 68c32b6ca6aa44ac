package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Codec converts snapshot values to and from their stored byte form.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// JSONCodec stores values as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return "json" }

// GzipCodec wraps another codec and gzips its output. Long conversations
// with inlined file content compress well, so this is the default when
// snapshot compression is enabled.
type GzipCodec struct {
	Inner Codec
}

// NewGzipCodec wraps inner, defaulting to JSON when inner is nil.
func NewGzipCodec(inner Codec) *GzipCodec {
	if inner == nil {
		inner = JSONCodec{}
	}
	return &GzipCodec{Inner: inner}
}

func (c *GzipCodec) Encode(v any) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *GzipCodec) Decode(data []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("gzip read: %w", err)
	}
	return c.Inner.Decode(raw, v)
}

func (c *GzipCodec) Name() string {
	return "gzip+" + c.Inner.Name()
}
