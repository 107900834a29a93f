// Package memmodel defines the symbolic memory model collaborator
// contract (spec.md §6) and a concrete, byte-addressed reference
// implementation used for testing and for programs that never touch
// symbolic offsets. Object allocation, read, write, and byte-promotion
// are the only operations the core specifies; a real verification
// back-end would swap Model for one backed by an object-based symbolic
// heap. Grounded on the teacher's vm/memory.go (segments, byte-array
// storage, permission checks), generalized from ARM physical addresses
// to opaque (object-id, offset) pointers per spec.md §3.
package memmodel

import (
	"fmt"

	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

// ObjectID identifies one allocated memory object.
type ObjectID uint64

// Pointer is an (object-id, offset) pair; the offset may be symbolic
// (spec.md §3: "Pointers are (object-id, offset) pairs; offsets are
// bitvector values that may be symbolic").
type Pointer struct {
	Obj    ObjectID
	Offset symval.Value
}

// Model is the interface the interpreter calls into for all memory
// operations (spec.md §6).
type Model interface {
	Allocate(size uint64, isGlobal, isHeap, zeroed bool) (ObjectID, error)
	Read(ptr Pointer, nbytes int) (symval.Value, error)
	Write(ptr Pointer, v symval.Value) error
	Havoc(objects []ObjectID) error
	// Clone returns a deep copy, used when a State is cloned (spec.md
	// §3: "Cloning is deep for mutable maps").
	Clone() Model
}

// object is one allocated memory region, stored byte-granular once any
// overlapping write requires it (spec.md §6: "The model is free to
// promote objects to byte-granular storage").
type object struct {
	size     uint64
	zeroed   bool
	isGlobal bool
	isHeap   bool
	bytes    []byte
}

// Simple is a straightforward concrete-offset memory model: objects are
// plain byte slices, reads/writes require a concrete offset. It exists
// so the engine and its tests can run end-to-end without a real
// object-based symbolic heap; a production memory model is an external
// collaborator per spec.md §6.
type Simple struct {
	objects map[ObjectID]*object
	nextID  ObjectID
}

// NewSimple creates an empty concrete memory model.
func NewSimple() *Simple {
	return &Simple{objects: make(map[ObjectID]*object)}
}

func (s *Simple) Allocate(size uint64, isGlobal, isHeap, zeroed bool) (ObjectID, error) {
	s.nextID++
	id := s.nextID
	s.objects[id] = &object{size: size, zeroed: zeroed, isGlobal: isGlobal, isHeap: isHeap, bytes: make([]byte, size)}
	return id, nil
}

func (s *Simple) obj(id ObjectID) (*object, error) {
	o, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("invalid object: %d", id)
	}
	return o, nil
}

func (s *Simple) Read(ptr Pointer, nbytes int) (symval.Value, error) {
	o, err := s.obj(ptr.Obj)
	if err != nil {
		return symval.Value{}, err
	}
	if ptr.Offset.IsSymbolic() {
		return symval.Value{}, fmt.Errorf("symbolic offset unsupported by the concrete memory model")
	}
	off := ptr.Offset.Bits()
	if off+uint64(nbytes) > o.size {
		return symval.Value{}, fmt.Errorf("out-of-bounds read at offset %d (object size %d)", off, o.size)
	}
	var v uint64
	for i := 0; i < nbytes; i++ {
		v |= uint64(o.bytes[off+uint64(i)]) << uint(8*i)
	}
	return symval.ConcreteBitVec(types.BitVec(nbytes*8), v), nil
}

func (s *Simple) Write(ptr Pointer, v symval.Value) error {
	o, err := s.obj(ptr.Obj)
	if err != nil {
		return err
	}
	if ptr.Offset.IsSymbolic() {
		return fmt.Errorf("symbolic offset unsupported by the concrete memory model")
	}
	if v.IsSymbolic() {
		return fmt.Errorf("symbolic value unsupported by the concrete memory model")
	}
	off := ptr.Offset.Bits()
	nbytes := uint64(v.Type.Width / 8)
	if nbytes == 0 {
		nbytes = 1
	}
	if off+nbytes > o.size {
		return fmt.Errorf("out-of-bounds write at offset %d (object size %d)", off, o.size)
	}
	bits := v.Bits()
	for i := uint64(0); i < nbytes; i++ {
		o.bytes[off+i] = byte(bits >> (8 * i))
	}
	return nil
}

func (s *Simple) Havoc(objects []ObjectID) error {
	for _, id := range objects {
		o, err := s.obj(id)
		if err != nil {
			return err
		}
		for i := range o.bytes {
			o.bytes[i] = 0
		}
	}
	return nil
}

func (s *Simple) Clone() Model {
	cp := &Simple{objects: make(map[ObjectID]*object, len(s.objects)), nextID: s.nextID}
	for id, o := range s.objects {
		no := *o
		no.bytes = append([]byte(nil), o.bytes...)
		cp.objects[id] = &no
	}
	return cp
}
