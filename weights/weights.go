// Package weights binds model parameters to stable dotted names and
// implements the partial-overlap loading contract: names that match
// overwrite, extras are ignored, misses keep their initialized values.
package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"

	"salientnet/ml"
)

// Set is a named collection of parameter tensors.
type Set map[string]*ml.Tensor

// Visit walks root's exported fields and calls fn for every *ml.Tensor
// reachable through structs, pointers and slices. Field names come from
// `sal:"..."` tags, falling back to the lowercased field name; slice
// elements append their index. Fields tagged `sal:"-"` are skipped.
func Visit(root any, fn func(name string, t *ml.Tensor)) {
	visit(reflect.ValueOf(root), "", fn)
}

func visit(v reflect.Value, prefix string, fn func(string, *ml.Tensor)) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if t, ok := v.Interface().(*ml.Tensor); ok {
			fn(prefix, t)
			return
		}
		visit(v.Elem(), prefix, fn)
	case reflect.Interface:
		if !v.IsNil() {
			visit(v.Elem(), prefix, fn)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Tag.Get("sal")
			if name == "-" {
				continue
			}
			if name == "" {
				name = strings.ToLower(f.Name)
			}
			visit(v.Field(i), join(prefix, name), fn)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			visit(v.Index(i), join(prefix, strconv.Itoa(i)), fn)
		}
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Collect snapshots every parameter of root into a Set. The tensors are
// shared, not copied.
func Collect(root any) Set {
	set := make(Set)
	Visit(root, func(name string, t *ml.Tensor) {
		set[name] = t
	})
	return set
}

// LoadPartial copies every entry of set whose name matches a parameter of
// root into that parameter, leaving the rest untouched. It returns the
// number of parameters overwritten. A matched name with a different
// element count is an error.
func LoadPartial(root any, set Set) (int, error) {
	var matched int
	var err error
	Visit(root, func(name string, t *ml.Tensor) {
		src, ok := set[name]
		if !ok || err != nil {
			return
		}
		if src.Numel() != t.Numel() {
			err = fmt.Errorf("weights: %s: shape %v does not match %v", name, src.Shape(), t.Shape())
			return
		}
		t.Copy(src)
		matched++
	})
	if err != nil {
		return 0, err
	}
	return matched, nil
}

const (
	dtypeF32 = "f32"
	dtypeF16 = "f16"
)

type record struct {
	DType string `cbor:"dtype"`
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"` // little-endian
}

// Save writes the set as CBOR with float32 tensor payloads, so a reload
// reproduces the saved values exactly.
func Save(w io.Writer, set Set) error {
	return save(w, set, dtypeF32)
}

// SaveF16 writes the set with float16 payloads, halving the file at the
// cost of precision.
func SaveF16(w io.Writer, set Set) error {
	return save(w, set, dtypeF16)
}

func save(w io.Writer, set Set, dtype string) error {
	records := make(map[string]record, len(set))
	for name, t := range set {
		var data []byte
		switch dtype {
		case dtypeF32:
			data = make([]byte, 4*t.Numel())
			for i, v := range t.Floats() {
				binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
			}
		case dtypeF16:
			data = make([]byte, 2*t.Numel())
			for i, v := range t.Floats() {
				binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
			}
		}
		records[name] = record{DType: dtype, Shape: t.Shape(), Data: data}
	}
	return cbor.NewEncoder(w).Encode(records)
}

// Load reads a set written by Save or SaveF16.
func Load(r io.Reader) (Set, error) {
	var records map[string]record
	if err := cbor.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("weights: decode: %w", err)
	}
	set := make(Set, len(records))
	for name, rec := range records {
		n := 1
		for _, d := range rec.Shape {
			n *= d
		}
		data := make([]float32, n)
		switch rec.DType {
		case dtypeF32:
			if len(rec.Data) != 4*n {
				return nil, fmt.Errorf("weights: %s: %d bytes for shape %v", name, len(rec.Data), rec.Shape)
			}
			for i := range data {
				data[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec.Data[4*i:]))
			}
		case dtypeF16:
			if len(rec.Data) != 2*n {
				return nil, fmt.Errorf("weights: %s: %d bytes for shape %v", name, len(rec.Data), rec.Shape)
			}
			for i := range data {
				data[i] = float16.Frombits(binary.LittleEndian.Uint16(rec.Data[2*i:])).Float32()
			}
		default:
			return nil, fmt.Errorf("weights: %s: unknown dtype %q", name, rec.DType)
		}
		set[name] = ml.FromSlice(data, rec.Shape...)
	}
	return set, nil
}
