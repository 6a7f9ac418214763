// Package flash is the boundary between the image switcher and the memory
// holding the images.
//
// The switcher only ever reads image bytes and clears footer bits, so those
// are the only two capabilities it is handed. Arena simulates NOR flash for
// tests and for working on dump files on the host.
package flash

import (
	"fmt"
)

// Erased is the value of an erased byte.
const Erased = 0xFF

// Reader reads raw bytes at an absolute address.
type Reader interface {
	ReadAt(p []byte, addr uint32) (int, error)
}

// Programmer clears bits at an absolute address. Bits that are 1 in p leave
// the stored bit unchanged; bits that are 0 clear it.
type Programmer interface {
	Program(addr uint32, p []byte) error
}

// Memory is everything the switcher needs from the platform.
type Memory interface {
	Reader
	Programmer
}

// Region describes a contiguous address range. It does not own the memory.
type Region struct {
	Base uint32
	Size uint32
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (r Region) Contains(addr uint32, n int) bool {
	if n < 0 || addr < r.Base {
		return false
	}
	return uint64(addr)+uint64(n) <= r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("0x%08X-0x%08X", r.Base, r.End())
}

// RangeError reports an access outside the backing region.
type RangeError struct {
	Addr   uint32
	Len    int
	Region Region
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("access 0x%08X+%d outside %s", e.Addr, e.Len, e.Region)
}

// Arena is an in-memory NOR flash. Program can only clear bits; nothing sets
// them again.
type Arena struct {
	region Region
	data   []byte
}

// NewArena returns an erased arena covering [base, base+size).
func NewArena(base, size uint32) *Arena {
	a := &Arena{
		region: Region{Base: base, Size: size},
		data:   make([]byte, size),
	}
	for i := range a.data {
		a.data[i] = Erased
	}
	return a
}

// FromBytes wraps a flash dump mapped at base. The arena takes ownership of
// data.
func FromBytes(base uint32, data []byte) *Arena {
	return &Arena{
		region: Region{Base: base, Size: uint32(len(data))},
		data:   data,
	}
}

// Region returns the address range backed by the arena.
func (a *Arena) Region() Region {
	return a.region
}

// ReadAt copies len(p) bytes starting at addr.
func (a *Arena) ReadAt(p []byte, addr uint32) (int, error) {
	if !a.region.Contains(addr, len(p)) {
		return 0, &RangeError{Addr: addr, Len: len(p), Region: a.region}
	}
	off := addr - a.region.Base
	return copy(p, a.data[off:]), nil
}

// Program ANDs p into the arena at addr.
func (a *Arena) Program(addr uint32, p []byte) error {
	if !a.region.Contains(addr, len(p)) {
		return &RangeError{Addr: addr, Len: len(p), Region: a.region}
	}
	off := addr - a.region.Base
	for i, b := range p {
		a.data[off+uint32(i)] &= b
	}
	return nil
}

// Bytes returns a copy of the arena contents.
func (a *Arena) Bytes() []byte {
	return append([]byte(nil), a.data...)
}
