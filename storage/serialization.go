// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/blueprint/core"
)

// VectorMUS is the binary serializer for bare embedding vectors, as kept
// in index postings and centroids.
var VectorMUS = vectorSerializer{}

type vectorSerializer struct{}

func (vectorSerializer) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func (vectorSerializer) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 || length*4 > len(bs)-n {
		return nil, n, ErrTruncatedData
	}
	v = make([]float32, length)
	var m int
	for i := range v {
		v[i], m, err = raw.Float32.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
	}
	return v, n, nil
}

func (vectorSerializer) Size(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

// MarshalChunk serializes a DocumentChunk to bytes.
func MarshalChunk(chunk *core.DocumentChunk) []byte {
	buf := make([]byte, core.DocumentChunkMUS.Size(*chunk))
	core.DocumentChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a DocumentChunk from bytes. Timestamps come
// back in UTC and empty debug payloads as nil.
func UnmarshalChunk(data []byte) (*core.DocumentChunk, error) {
	chunk, _, err := core.DocumentChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrSerializationFailed, err)
	}
	chunk.CreatedAt = chunk.CreatedAt.UTC()
	if len(chunk.Metadata.Debug) == 0 {
		chunk.Metadata.Debug = nil
	}
	return &chunk, nil
}

// MarshalVector serializes an embedding to bytes.
func MarshalVector(v []float32) []byte {
	buf := make([]byte, VectorMUS.Size(v))
	VectorMUS.Marshal(v, buf)
	return buf
}

// UnmarshalVector deserializes an embedding from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	v, _, err := VectorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalRecord encodes a job, event, entity or dead-letter record.
func MarshalRecord(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return b, nil
}

// UnmarshalRecord decodes a record written by MarshalRecord.
func UnmarshalRecord[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// entityEnvelope stores an entity with its kind so it can be decoded
// without knowing the concrete type in advance.
type entityEnvelope struct {
	Kind core.EntityKind `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalEntity encodes an entity with its kind tag.
func MarshalEntity(e core.Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return MarshalRecord(entityEnvelope{Kind: e.Meta().Kind, Data: data})
}

// UnmarshalEntity decodes an entity written by MarshalEntity.
func UnmarshalEntity(data []byte) (core.Entity, error) {
	env, err := UnmarshalRecord[entityEnvelope](data)
	if err != nil {
		return nil, err
	}
	e, err := core.NewEntity(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return e, nil
}

// MarshalEntities encodes a list of entities, each with its kind tag.
func MarshalEntities(entities []core.Entity) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		b, err := MarshalEntity(e)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return MarshalRecord(items)
}

// UnmarshalEntities decodes a list written by MarshalEntities.
func UnmarshalEntities(data []byte) ([]core.Entity, error) {
	items, err := UnmarshalRecord[[]json.RawMessage](data)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entity, 0, len(*items))
	for _, raw := range *items {
		e, err := UnmarshalEntity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
