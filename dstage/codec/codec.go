// Package codec serializes chunk label batches. The on-disk label file holds
// exactly one encoded []any per chunk, in sample order.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// LabelCodec encodes and decodes an ordered batch of labels.
type LabelCodec interface {
	Marshal(labels []any) ([]byte, error)
	Unmarshal(data []byte) ([]any, error)
	Name() string
}

// Msgpack is the default label codec.
type Msgpack struct{}

// NewMsgpack returns the msgpack label codec.
func NewMsgpack() *Msgpack {
	return &Msgpack{}
}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(labels []any) ([]byte, error) {
	if labels == nil {
		labels = []any{}
	}
	data, err := msgpack.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %d labels: %w", len(labels), err)
	}
	return data, nil
}

// Unmarshal decodes a label batch. Integers come back as int64 and floats as
// float64 regardless of their encoded width.
func (Msgpack) Unmarshal(data []byte) ([]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var labels []any
	if err := dec.Decode(&labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	if labels == nil {
		labels = []any{}
	}
	return labels, nil
}

// Default returns the codec used when none is configured.
func Default() LabelCodec {
	return NewMsgpack()
}
