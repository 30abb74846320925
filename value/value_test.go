// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package value

import (
	"bytes"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
)

func fuzzField(fz *fuzz.Fuzzer, n int) Field {
	f := Field{Data: make([]float64, n)}
	for i := range f.Data {
		fz.Fuzz(&f.Data[i])
	}
	return f
}

func fuzzVec(fz *fuzz.Fuzzer, n, size int) Value {
	fields := make([]Field, n)
	for i := range fields {
		fields[i] = fuzzField(fz, size)
	}
	return Vec(fields...)
}

func TestKinds(t *testing.T) {
	for _, c := range []struct {
		v    Value
		kind Kind
		n    int
	}{
		{Scalar(2.5), KindScalar, 1},
		{Single(Constant(4, 1)), KindField, 1},
		{Vec(Constant(2, 1), Constant(2, 2), Constant(2, 3)), KindVec, 3},
	} {
		if got, want := c.v.Kind(), c.kind; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := c.v.Len(), c.n; got != want {
			t.Errorf("%v: got %v, want %v", c.v, got, want)
		}
	}
	var zero Value
	if got, want := zero.Kind(), KindInvalid; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAccumulate(t *testing.T) {
	u := Scalar(1.5)
	if err := u.Accumulate(Scalar(2)); err != nil {
		t.Fatal(err)
	}
	if got, want := u.Scalar(), 3.5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	v := Single(Constant(4, 1))
	if err := v.Accumulate(Single(Constant(4, 2))); err != nil {
		t.Fatal(err)
	}
	if got, want := v, Single(Constant(4, 3)); !Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	w := Vec(Constant(2, 1), Constant(2, 2))
	if err := w.Accumulate(Vec(Constant(2, 10), Constant(2, 20))); err != nil {
		t.Fatal(err)
	}
	if got, want := w, Vec(Constant(2, 11), Constant(2, 22)); !Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAccumulateCommutes(t *testing.T) {
	fz := fuzz.New()
	parts := []Value{
		fuzzVec(fz, 8, 16),
		fuzzVec(fz, 8, 16),
		fuzzVec(fz, 8, 16),
	}
	forward := parts[0].ZeroLike()
	for _, p := range parts {
		if err := forward.Accumulate(p); err != nil {
			t.Fatal(err)
		}
	}
	backward := parts[0].ZeroLike()
	for i := len(parts) - 1; i >= 0; i-- {
		if err := backward.Accumulate(parts[i]); err != nil {
			t.Fatal(err)
		}
	}
	if !Equal(forward, backward) {
		t.Errorf("accumulation order changed result: %v != %v", forward, backward)
	}
}

func TestAccumulateMismatch(t *testing.T) {
	u := Scalar(1)
	if err := u.Accumulate(Single(Constant(4, 1))); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	v := Single(Constant(4, 1))
	if err := v.Accumulate(Single(Constant(5, 1))); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	w := Vec(Constant(2, 1))
	if err := w.Accumulate(Vec(Constant(2, 1), Constant(2, 1))); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestAccumulateSlice(t *testing.T) {
	v := Vec(Constant(2, 0), Constant(2, 0), Constant(2, 0), Constant(2, 0))
	if err := v.AccumulateSlice(1, 3, 1, Vec(Constant(2, 5), Constant(2, 7))); err != nil {
		t.Fatal(err)
	}
	want := Vec(Constant(2, 0), Constant(2, 5), Constant(2, 7), Constant(2, 0))
	if !Equal(v, want) {
		t.Errorf("got %v, want %v", v, want)
	}
	// Strided accumulation touches alternating elements.
	u := Vec(Constant(1, 0), Constant(1, 0), Constant(1, 0), Constant(1, 0))
	if err := u.AccumulateSlice(0, 4, 2, Vec(Constant(1, 1), Constant(1, 1))); err != nil {
		t.Fatal(err)
	}
	want = Vec(Constant(1, 1), Constant(1, 0), Constant(1, 1), Constant(1, 0))
	if !Equal(u, want) {
		t.Errorf("got %v, want %v", u, want)
	}
	if err := u.AccumulateSlice(0, 4, 1, Vec(Constant(1, 1))); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestSlice(t *testing.T) {
	v := Vec(Constant(1, 0), Constant(1, 1), Constant(1, 2), Constant(1, 3), Constant(1, 4))
	s := v.Slice(1, 4, 1)
	if got, want := s.Len(), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, c := range []float64{1, 2, 3} {
		if got, want := s.Vec()[i].Data[0], c; got != want {
			t.Errorf("element %d: got %v, want %v", i, got, want)
		}
	}
	s = v.Slice(0, 5, 2)
	for i, c := range []float64{0, 2, 4} {
		if got, want := s.Vec()[i].Data[0], c; got != want {
			t.Errorf("element %d: got %v, want %v", i, got, want)
		}
	}
}

func TestCloneIsolation(t *testing.T) {
	v := Vec(Constant(3, 1), Constant(3, 2))
	w := v.Clone()
	w.Vec()[0].Data[0] = 99
	if got, want := v.Vec()[0].Data[0], 1.0; got != want {
		t.Errorf("clone aliases original: got %v, want %v", got, want)
	}
	z := v.ZeroLike()
	if got, want := z.Vec()[1].Len(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := z.Vec()[1].Data[0], 0.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	fz := fuzz.New()
	values := []Value{
		{},
		Scalar(-1.75),
		Single(fuzzField(fz, 33)),
		fuzzVec(fz, 7, 12),
	}
	for _, v := range values {
		p, err := Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var w Value
		if err := Unmarshal(p, &w); err != nil {
			t.Fatal(err)
		}
		if !Equal(v, w) {
			t.Errorf("got %v, want %v", w, v)
		}
	}
}

func TestMarshalCanonical(t *testing.T) {
	fz := fuzz.New()
	v := fuzzVec(fz, 5, 20)
	p, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	q, err := Marshal(v.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p, q) {
		t.Error("equal values encoded to different bytes")
	}
}

func TestCodecStream(t *testing.T) {
	fz := fuzz.New()
	values := []Value{
		Scalar(3),
		Single(fuzzField(fz, 10)),
		fuzzVec(fz, 4, 8),
	}
	var b bytes.Buffer
	enc := NewEncoder(&b)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			t.Fatal(err)
		}
	}
	dec := NewDecoder(&b)
	for _, v := range values {
		var w Value
		if err := dec.Decode(&w); err != nil {
			t.Fatal(err)
		}
		if !Equal(v, w) {
			t.Errorf("got %v, want %v", w, v)
		}
	}
}

func TestTuple(t *testing.T) {
	tup := Tuple{Scalar(1), Vec(Constant(2, 1)), Single(Constant(2, 1)), Vec(Constant(2, 2))}
	if got, want := len(tup.Kinds()), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	vecs := tup.Vecs()
	if got, want := len(vecs), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := vecs[0], 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vecs[1], 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
