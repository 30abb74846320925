// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package value

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

// Marshal returns the canonical encoding of v. Equal values always
// encode to equal bytes, so the encoding doubles as the basis for
// content addressing.
func Marshal(v Value) ([]byte, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	if err := enc.Encode(int(v.kind)); err != nil {
		return nil, err
	}
	var err error
	switch v.kind {
	case KindInvalid:
	case KindScalar:
		err = enc.Encode(v.scalar)
	case KindField:
		err = enc.Encode(v.field)
	case KindVec:
		err = enc.Encode(v.vec)
	default:
		err = errors.E(errors.Invalid, fmt.Sprintf("marshal: bad kind %d", int(v.kind)))
	}
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes an encoding produced by Marshal into v.
func Unmarshal(p []byte, v *Value) error {
	dec := gob.NewDecoder(bytes.NewReader(p))
	var kind int
	if err := dec.Decode(&kind); err != nil {
		return err
	}
	w := Value{kind: Kind(kind)}
	var err error
	switch w.kind {
	case KindInvalid:
	case KindScalar:
		err = dec.Decode(&w.scalar)
	case KindField:
		err = dec.Decode(&w.field)
	case KindVec:
		err = dec.Decode(&w.vec)
	default:
		err = errors.E(errors.Invalid, fmt.Sprintf("unmarshal: bad kind %d", kind))
	}
	if err != nil {
		return err
	}
	*v = w
	return nil
}

// GobEncode implements gob.GobEncoder so that values may be embedded
// in gob-encoded messages.
func (v Value) GobEncode() ([]byte, error) {
	return Marshal(v)
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(p []byte) error {
	return Unmarshal(p, v)
}

// An Encoder manages transmission of values through an underlying
// io.Writer. Streams written by an Encoder are read by a Decoder.
type Encoder struct {
	enc *gob.Encoder
}

// NewEncoder returns a new Encoder that streams values into the
// provided writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{gob.NewEncoder(w)}
}

// Encode encodes a single value and writes the encoded output into
// the encoder's writer.
func (e *Encoder) Encode(v Value) error {
	return e.enc.Encode(v)
}

// A Decoder manages the receipt of values, as encoded by an Encoder,
// through an underlying io.Reader.
type Decoder struct {
	dec *gob.Decoder
}

// NewDecoder returns a new Decoder that reads an encoded input
// stream from the provided io.Reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{gob.NewDecoder(r)}
}

// Decode decodes the next value from the encoded stream.
func (d *Decoder) Decode(v *Value) error {
	return d.dec.Decode(v)
}
