package serialization

import (
	"bytes"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Codec marshals values to BSON documents through a fixed registry.
type Codec struct {
	reg *bsoncodec.Registry
}

// NewCodec wraps reg. A nil registry falls back to the process-wide one.
func NewCodec(reg *bsoncodec.Registry) *Codec {
	if reg == nil {
		reg = Initialize()
	}
	return &Codec{reg: reg}
}

// DefaultCodec returns a codec over the process-wide registry, initializing it.
func DefaultCodec() *Codec { return defaultRegistry.Codec() }

// Registry returns the underlying BSON registry.
func (c *Codec) Registry() *bsoncodec.Registry { return c.reg }

// Marshal encodes v (a struct, map or bson.D) into a document.
func (c *Codec) Marshal(v any) (bson.Raw, error) {
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return nil, err
	}
	enc, err := bson.NewEncoder(vw)
	if err != nil {
		return nil, err
	}
	if err := enc.SetRegistry(c.reg); err != nil {
		return nil, err
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bson.Raw(buf.Bytes()), nil
}

// Unmarshal decodes raw into v, which must be a pointer.
func (c *Codec) Unmarshal(raw bson.Raw, v any) error {
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
	if err != nil {
		return err
	}
	if err := dec.SetRegistry(c.reg); err != nil {
		return err
	}
	return dec.Decode(v)
}
