// Package crc24 implements the 24-bit CRC used to validate firmware images.
//
// The remainder is computed bit by bit, most significant bit first, with no
// reflection, no initial value and no final XOR. An image is valid when the
// image bytes followed by their stored remainder divide to zero.
package crc24

// Polynomial is the CRC-24 generator in normal representation (x^24 implied).
const Polynomial = 0x5D6DCB

// Size is the number of bytes a remainder occupies when appended to a message.
const Size = 3

// Calculate returns the remainder of data passed through the CRC, as stored
// after an image by the build tooling.
func Calculate(data []byte) uint32 {
	var d Digest
	d.Write(data)
	return d.Sum24()
}

// IsValid reports whether data, a message followed by its 3-byte remainder,
// divides to zero.
func IsValid(data []byte) bool {
	var d Digest
	d.Write(data)
	return d.Remainder() == 0
}

// Digest is a streaming CRC-24. The zero value is ready to use.
type Digest struct {
	// The remainder lives in the upper 24 bits; the low byte holds the
	// message byte being shifted through.
	reg uint32
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{}
}

// Write shifts p through the register. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	reg := d.reg
	for _, b := range p {
		reg |= uint32(b)
		for i := 0; i < 8; i++ {
			carry := reg&(1<<31) != 0
			reg <<= 1
			if carry {
				reg ^= Polynomial << 8
			}
		}
	}
	d.reg = reg
	return len(p), nil
}

// Remainder returns the remainder of everything written so far, without
// augmentation. It is zero when the stream ended with a matching checksum.
func (d *Digest) Remainder() uint32 {
	return d.reg >> 8
}

// Sum24 returns the remainder of the written message augmented with three
// zero bytes. The digest itself is not modified.
func (d *Digest) Sum24() uint32 {
	c := *d
	c.Write([]byte{0, 0, 0})
	return c.Remainder()
}

// Reset clears the digest.
func (d *Digest) Reset() {
	d.reg = 0
}
