// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package value defines the payloads exchanged between macro tasks:
// scalars, fields, and vectors of fields. Values form a closed set of
// variants so that they can be stored, shipped, and merged without
// resort to reflection. Mergeable kinds support in-place accumulation,
// which is the basis for combining partial task results.
package value

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/floats"
)

// A Kind names the variant held by a Value.
type Kind int

const (
	// KindInvalid is the kind of the zero Value.
	KindInvalid Kind = iota
	// KindScalar is the kind of scalar values.
	KindScalar
	// KindField is the kind of values holding a single field.
	KindField
	// KindVec is the kind of values holding a vector of fields.
	KindVec
)

// String returns a short description of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindScalar:
		return "scalar"
	case KindField:
		return "field"
	case KindVec:
		return "vec"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// A Field is a dense block of coefficients, the unit of numeric data
// operated on by macro tasks. Fields of equal size may be added
// elementwise.
type Field struct {
	Data []float64
}

// Constant returns a field of n coefficients, each set to c.
func Constant(n int, c float64) Field {
	f := Field{Data: make([]float64, n)}
	for i := range f.Data {
		f.Data[i] = c
	}
	return f
}

// Len returns the number of coefficients in the field.
func (f Field) Len() int { return len(f.Data) }

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	g := Field{Data: make([]float64, len(f.Data))}
	copy(g.Data, f.Data)
	return g
}

// Add adds the coefficients of g into f. The fields must have equal
// size.
func (f *Field) Add(g Field) error {
	if len(f.Data) != len(g.Data) {
		return errors.E(errors.Invalid, fmt.Sprintf("add field: size mismatch: %d != %d", len(f.Data), len(g.Data)))
	}
	floats.Add(f.Data, g.Data)
	return nil
}

// AddScaled adds alpha*g into f. The fields must have equal size.
func (f *Field) AddScaled(alpha float64, g Field) error {
	if len(f.Data) != len(g.Data) {
		return errors.E(errors.Invalid, fmt.Sprintf("add field: size mismatch: %d != %d", len(f.Data), len(g.Data)))
	}
	floats.AddScaled(f.Data, alpha, g.Data)
	return nil
}

// Scale multiplies the coefficients of f by alpha in place.
func (f Field) Scale(alpha float64) {
	floats.Scale(alpha, f.Data)
}

// Norm returns the Euclidean norm of the field.
func (f Field) Norm() float64 {
	return floats.Norm(f.Data, 2)
}

// A Value is a macro task payload holding one of the value kinds. The
// zero Value is invalid. Values are created by Scalar, Single, and
// Vec, and inspected through the kind accessors, which panic when
// invoked on a value of the wrong kind.
type Value struct {
	kind   Kind
	scalar float64
	field  Field
	vec    []Field
}

// Scalar returns a value holding the scalar x.
func Scalar(x float64) Value {
	return Value{kind: KindScalar, scalar: x}
}

// Single returns a value holding the single field f.
func Single(f Field) Value {
	return Value{kind: KindField, field: f}
}

// Vec returns a value holding the provided vector of fields.
func Vec(fields ...Field) Value {
	return Value{kind: KindVec, vec: fields}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Scalar returns the scalar held by v. Scalar panics if v is not a
// scalar.
func (v Value) Scalar() float64 {
	v.must(KindScalar)
	return v.scalar
}

// Field returns the field held by v. Field panics if v is not a
// field.
func (v Value) Field() Field {
	v.must(KindField)
	return v.field
}

// Vec returns the vector of fields held by v. Vec panics if v is not
// a vec. The returned slice aliases the value's storage.
func (v Value) Vec() []Field {
	v.must(KindVec)
	return v.vec
}

// Len returns the number of elements in the value: the length of a
// vec, otherwise 1.
func (v Value) Len() int {
	if v.kind == KindVec {
		return len(v.vec)
	}
	return 1
}

// Slice returns the vec elements in [begin, end) taken with the
// provided stride. The returned value shares field storage with v.
// Slice panics if v is not a vec or if the range is out of bounds.
func (v Value) Slice(begin, end, step int) Value {
	v.must(KindVec)
	if step <= 0 {
		panic(fmt.Sprintf("value.Slice: invalid step %d", step))
	}
	if begin < 0 || end < begin || end > len(v.vec) {
		panic(fmt.Sprintf("value.Slice: range [%d,%d) out of bounds [0,%d)", begin, end, len(v.vec)))
	}
	if step == 1 {
		return Vec(v.vec[begin:end]...)
	}
	var fields []Field
	for i := begin; i < end; i += step {
		fields = append(fields, v.vec[i])
	}
	return Vec(fields...)
}

// Clone returns a deep copy of v. Mutating the clone does not affect
// v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindField:
		return Single(v.field.Clone())
	case KindVec:
		fields := make([]Field, len(v.vec))
		for i := range v.vec {
			fields[i] = v.vec[i].Clone()
		}
		return Vec(fields...)
	default:
		return v
	}
}

// ZeroLike returns a zero value of the same shape as v: a zero
// scalar, a zero field of equal size, or a vec of zero fields of
// equal sizes.
func (v Value) ZeroLike() Value {
	switch v.kind {
	case KindScalar:
		return Scalar(0)
	case KindField:
		return Single(Field{Data: make([]float64, len(v.field.Data))})
	case KindVec:
		fields := make([]Field, len(v.vec))
		for i := range v.vec {
			fields[i] = Field{Data: make([]float64, len(v.vec[i].Data))}
		}
		return Vec(fields...)
	default:
		return v
	}
}

// Accumulate adds w into v in place. The values must have the same
// kind and shape. Accumulation is commutative: accumulating a set of
// values in any order yields the same result.
func (v *Value) Accumulate(w Value) error {
	if v.kind != w.kind {
		return errors.E(errors.Invalid, fmt.Sprintf("accumulate: kind mismatch: %s != %s", v.kind, w.kind))
	}
	switch v.kind {
	case KindScalar:
		v.scalar += w.scalar
		return nil
	case KindField:
		return v.field.Add(w.field)
	case KindVec:
		if len(v.vec) != len(w.vec) {
			return errors.E(errors.Invalid, fmt.Sprintf("accumulate: vec size mismatch: %d != %d", len(v.vec), len(w.vec)))
		}
		for i := range v.vec {
			if err := v.vec[i].Add(w.vec[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.E(errors.Invalid, "accumulate: invalid value")
	}
}

// AccumulateSlice adds the elements of w into the vec elements of v
// in [begin, end) taken with the provided stride. The number of
// elements in w must equal the number of positions in the range.
func (v *Value) AccumulateSlice(begin, end, step int, w Value) error {
	if v.kind != KindVec || w.kind != KindVec {
		return errors.E(errors.Invalid, fmt.Sprintf("accumulate slice: vec required: %s into %s", w.kind, v.kind))
	}
	if step <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("accumulate slice: invalid step %d", step))
	}
	if begin < 0 || end < begin || end > len(v.vec) {
		return errors.E(errors.Invalid, fmt.Sprintf("accumulate slice: range [%d,%d) out of bounds [0,%d)", begin, end, len(v.vec)))
	}
	var n int
	for i := begin; i < end; i += step {
		n++
	}
	if n != len(w.vec) {
		return errors.E(errors.Invalid, fmt.Sprintf("accumulate slice: %d elements for %d positions", len(w.vec), n))
	}
	var j int
	for i := begin; i < end; i += step {
		if err := v.vec[i].Add(w.vec[j]); err != nil {
			return err
		}
		j++
	}
	return nil
}

// String returns a short description of the value.
func (v Value) String() string {
	switch v.kind {
	case KindScalar:
		return fmt.Sprintf("scalar(%g)", v.scalar)
	case KindField:
		return fmt.Sprintf("field[%d]", v.field.Len())
	case KindVec:
		return fmt.Sprintf("vec[%d]", len(v.vec))
	default:
		return "invalid"
	}
}

func (v Value) must(kind Kind) {
	if v.kind != kind {
		panic(fmt.Sprintf("value: kind is %s, not %s", v.kind, kind))
	}
}

// Equal tells whether u and v have the same kind and exactly equal
// contents.
func Equal(u, v Value) bool {
	if u.kind != v.kind {
		return false
	}
	switch u.kind {
	case KindScalar:
		return u.scalar == v.scalar
	case KindField:
		return floats.Equal(u.field.Data, v.field.Data)
	case KindVec:
		if len(u.vec) != len(v.vec) {
			return false
		}
		for i := range u.vec {
			if !floats.Equal(u.vec[i].Data, v.vec[i].Data) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// EqualApprox tells whether u and v have the same kind and contents
// equal within the provided absolute or relative tolerance.
func EqualApprox(u, v Value, tol float64) bool {
	if u.kind != v.kind {
		return false
	}
	switch u.kind {
	case KindScalar:
		return floats.EqualWithinAbsOrRel(u.scalar, v.scalar, tol, tol)
	case KindField:
		return floats.EqualApprox(u.field.Data, v.field.Data, tol)
	case KindVec:
		if len(u.vec) != len(v.vec) {
			return false
		}
		for i := range u.vec {
			if !floats.EqualApprox(u.vec[i].Data, v.vec[i].Data, tol) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// A Tuple is an ordered list of argument values.
type Tuple []Value

// Kinds returns the kinds of the tuple's values, in order.
func (t Tuple) Kinds() []Kind {
	kinds := make([]Kind, len(t))
	for i := range t {
		kinds[i] = t[i].Kind()
	}
	return kinds
}

// Vecs returns the indices of the tuple's vec values, in order. These
// are the arguments over which task batches are formed.
func (t Tuple) Vecs() []int {
	var indices []int
	for i := range t {
		if t[i].Kind() == KindVec {
			indices = append(indices, i)
		}
	}
	return indices
}

// Clone returns a deep copy of the tuple.
func (t Tuple) Clone() Tuple {
	u := make(Tuple, len(t))
	for i := range t {
		u[i] = t[i].Clone()
	}
	return u
}
